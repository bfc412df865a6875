package watcher

// rawKind is the platform-neutral vocabulary a native session reports
// in. Backends translate their own masks into it and watchers decode it
// into Category or Flags, so neither side needs the other's constants.
type rawKind uint32

const (
	// rawCreated reports an entry appearing inside a watched directory.
	rawCreated rawKind = 1 << iota
	// rawRemoved reports an entry disappearing from a watched directory.
	rawRemoved
	// rawModified reports a content write.
	rawModified
	// rawMetaChanged reports a metadata change.
	rawMetaChanged
	// rawRenamed reports a move from or into a watched directory.
	rawRenamed
	// rawRootDeleted reports that a watch root itself was unlinked.
	rawRootDeleted
	// rawRootMoved reports that a watch root itself was moved.
	rawRootMoved
	// rawUnmounted reports that the backing filesystem went away.
	rawUnmounted
	// rawOverflow reports that the kernel queue overflowed and events
	// were lost.
	rawOverflow
	// rawIsDir marks the subject of the event as a directory.
	rawIsDir
)

// rawEvent is one undecoded notification from a native session.
type rawEvent struct {
	// path is the absolute path the event refers to. Empty for
	// overflow events.
	path string
	// kinds holds every rawKind bit that applies.
	kinds rawKind
	// cookie correlates the two halves of a rename when the backend
	// provides one, zero otherwise.
	cookie uint32
}

// sessionConfig describes the notifications a watcher wants from a
// native session.
type sessionConfig struct {
	// roots are the absolute paths to watch.
	roots []string
	// interest selects which rawKind bits the session should report.
	// Backends may deliver a superset.
	interest rawKind
	// recursive extends directory roots to their whole subtree, with
	// newly created directories picked up as they appear.
	recursive bool
	// buffer is the capacity of the session's event channel. Zero
	// selects the backend default.
	buffer int
}

// nativeSource opens native notification sessions. The platform
// backend implements it once per build target and tests substitute a
// fake.
type nativeSource interface {
	open(config sessionConfig) (nativeSession, error)
}

// nativeSession is one OS-level notification stream. The events
// channel closes after close is called or when the backend shuts the
// stream down on its own, for example after the watched inode is gone.
type nativeSession interface {
	events() <-chan rawEvent
	errors() <-chan error
	close() error
}
