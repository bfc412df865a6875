package watcher

import "errors"

var (
	// ErrTargetMissing reports a start on a path that does not exist
	// when CategoryCreate was not requested.
	ErrTargetMissing = errors.New("watch target does not exist")

	// ErrBootstrapDepth reports that the watch target and its parent
	// directory are both missing. Creation watching reaches one level
	// up, never further.
	ErrBootstrapDepth = errors.New("watch target parent does not exist")

	// ErrWatcherClosed reports an operation on a closed watcher.
	ErrWatcherClosed = errors.New("watcher is closed")

	// ErrAlreadyStarted reports a second start on a running watcher.
	ErrAlreadyStarted = errors.New("watcher already started")

	// ErrUnsupported reports that this platform has no native
	// notification backend.
	ErrUnsupported = errors.New("filesystem notifications not supported on this platform")
)
