//go:build !linux

package watcher

// unsupportedSource is the native backend on platforms without one.
// Watchers constructed with an injected source still work here, which
// keeps the rest of the package portable.
type unsupportedSource struct{}

func defaultNativeSource() nativeSource { return unsupportedSource{} }

func (unsupportedSource) open(sessionConfig) (nativeSession, error) {
	return nil, ErrUnsupported
}
