package watcher

// PathEvent is one decoded delivery from a PathWatcher.
type PathEvent struct {
	// Path is the watched path the event refers to.
	Path string
	// Categories holds every category that occurred, intersected with
	// the set the watcher was started with.
	Categories Category
}

// StreamEvent is one decoded delivery from a StreamWatcher.
type StreamEvent struct {
	// ID orders the event. Ids are strictly increasing across all
	// deliveries of one stream.
	ID uint64
	// Path is the affected path.
	Path string
	// Flags holds every flag that applies to the path, coalesced over
	// the batching window.
	Flags Flags
}

// PathSink receives decoded path events. Implementations are invoked
// serially on the watcher's delivery queue and must not call Close or
// FlushSync on their own watcher.
type PathSink interface {
	HandlePathEvent(event PathEvent)
}

// PathSinkFunc adapts a plain function to PathSink.
type PathSinkFunc func(event PathEvent)

// HandlePathEvent calls fn.
func (fn PathSinkFunc) HandlePathEvent(event PathEvent) { fn(event) }

// StreamSink receives decoded stream events. Implementations are invoked
// serially on the watcher's delivery queue and must not call Close or
// FlushSync on their own watcher.
type StreamSink interface {
	HandleStreamEvent(event StreamEvent)
}

// StreamSinkFunc adapts a plain function to StreamSink.
type StreamSinkFunc func(event StreamEvent)

// HandleStreamEvent calls fn.
func (fn StreamSinkFunc) HandleStreamEvent(event StreamEvent) { fn(event) }

// CategoryHandlers fans a path event out to one handler per category.
// Handlers run in category declaration order and nil handlers are
// skipped, so callers only fill in the categories they requested.
// CategoryHandlers is a PathSink.
type CategoryHandlers struct {
	Delete     func(event PathEvent)
	Write      func(event PathEvent)
	Extend     func(event PathEvent)
	Attribute  func(event PathEvent)
	Link       func(event PathEvent)
	Rename     func(event PathEvent)
	Revoke     func(event PathEvent)
	Create     func(event PathEvent)
	DirChanged func(event PathEvent)
}

// HandlePathEvent invokes every handler whose category is present in
// the event.
func (handlers CategoryHandlers) HandlePathEvent(event PathEvent) {
	dispatch := []struct {
		bit Category
		fn  func(event PathEvent)
	}{
		{CategoryDelete, handlers.Delete},
		{CategoryWrite, handlers.Write},
		{CategoryExtend, handlers.Extend},
		{CategoryAttribute, handlers.Attribute},
		{CategoryLink, handlers.Link},
		{CategoryRename, handlers.Rename},
		{CategoryRevoke, handlers.Revoke},
		{CategoryCreate, handlers.Create},
		{CategoryDirChanged, handlers.DirChanged},
	}
	for _, entry := range dispatch {
		if entry.fn != nil && event.Categories.Has(entry.bit) {
			entry.fn(event)
		}
	}
}
