package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"vigil/internal/fsutil"
	"vigil/internal/logging"
)

// PathState identifies a PathWatcher lifecycle stage.
type PathState uint32

const (
	// PathStateNotArmed means the watcher has not started yet, or the
	// last start attempt failed and can be retried.
	PathStateNotArmed PathState = iota
	// PathStateAwaitingCreation means the target does not exist and
	// its parent directory is being watched for it to appear.
	PathStateAwaitingCreation
	// PathStateArmed means native notifications are flowing.
	PathStateArmed
	// PathStateCancelled means the watcher was stopped or closed.
	PathStateCancelled
)

func (state PathState) String() string {
	switch state {
	case PathStateNotArmed:
		return "not_armed"
	case PathStateAwaitingCreation:
		return "awaiting_creation"
	case PathStateArmed:
		return "armed"
	case PathStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// PathWatcher observes one path and reports decoded Category sets to
// its sink. When CategoryCreate is requested the target may be missing
// at start time; the parent directory is then watched until the target
// appears, at which point a single Create is synthesized and the
// watcher arms itself on the real target.
type PathWatcher struct {
	path       string
	categories Category
	sink       PathSink
	queue      Queue
	ownedQueue *serialQueue
	source     nativeSource
	logger     *logging.Logger

	mu              sync.Mutex
	state           PathState
	session         nativeSession
	child           *PathWatcher
	isDir           bool
	arming          bool
	createDelivered bool
	pumpDone        chan struct{}
	closeErr        error

	// deliveryGate serializes sink invocations against Close. Sink
	// calls hold it shared, Close takes it exclusively to wait out the
	// in-flight call and flip cancelled.
	deliveryGate sync.RWMutex
	cancelled    bool

	closeOnce sync.Once
}

// NewPathWatcher builds a watcher for path without starting it. The
// sink is required and categories must name at least one category.
func NewPathWatcher(path string, categories Category, sink PathSink, options PathOptions) (*PathWatcher, error) {
	return newPathWatcher(path, categories, sink, options, defaultNativeSource())
}

func newPathWatcher(path string, categories Category, sink PathSink, options PathOptions, source nativeSource) (*PathWatcher, error) {
	resolved, err := fsutil.Resolve(path)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("watch %s: nil sink", resolved)
	}
	if categories == CategoryNone {
		return nil, fmt.Errorf("watch %s: no categories requested", resolved)
	}
	watcher := &PathWatcher{
		path:       resolved,
		categories: categories,
		sink:       sink,
		queue:      options.Queue,
		source:     source,
		logger:     options.Logger,
	}
	if watcher.queue == nil {
		watcher.ownedQueue = newSerialQueue(defaultQueueDepth)
		watcher.queue = watcher.ownedQueue
	}
	return watcher, nil
}

// Path returns the resolved target path.
func (watcher *PathWatcher) Path() string { return watcher.path }

// Categories returns the requested category set.
func (watcher *PathWatcher) Categories() Category { return watcher.categories }

// State returns the current lifecycle stage.
func (watcher *PathWatcher) State() PathState {
	if watcher == nil {
		return PathStateCancelled
	}
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	return watcher.state
}

// Start arms the watcher. A missing target is ErrTargetMissing unless
// CategoryCreate was requested, in which case the parent directory is
// watched until the target appears; a missing parent is
// ErrBootstrapDepth. Start can be retried after an error.
func (watcher *PathWatcher) Start() error {
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	switch watcher.state {
	case PathStateCancelled:
		return ErrWatcherClosed
	case PathStateAwaitingCreation, PathStateArmed:
		return ErrAlreadyStarted
	}
	if fsutil.Exists(watcher.path) {
		session, isDir, err := watcher.openSessionLocked()
		if err == nil {
			watcher.armLocked(session, isDir)
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		// The target vanished between the existence check and the
		// native open. Fall through to the missing-path handling.
	}
	if !watcher.categories.Has(CategoryCreate) {
		return ErrTargetMissing
	}
	return watcher.awaitCreationLocked()
}

func (watcher *PathWatcher) armLocked(session nativeSession, isDir bool) {
	watcher.session = session
	watcher.isDir = isDir
	watcher.state = PathStateArmed
	watcher.startPumpLocked(session)
	watcher.logDebug("watch armed", nil)
}

func (watcher *PathWatcher) openSessionLocked() (nativeSession, bool, error) {
	isDir := fsutil.IsDirectory(watcher.path)
	session, err := watcher.source.open(sessionConfig{
		roots:    []string{watcher.path},
		interest: interestForCategories(watcher.categories, isDir),
	})
	if err != nil {
		return nil, false, err
	}
	return session, isDir, nil
}

// awaitCreationLocked arms a watch on the parent directory instead of
// the missing target. The bootstrap child shares this watcher's queue
// so parent events and the synthesized Create stay ordered.
func (watcher *PathWatcher) awaitCreationLocked() error {
	parent := fsutil.Parent(watcher.path)
	if !fsutil.IsDirectory(parent) {
		return ErrBootstrapDepth
	}
	child, err := newPathWatcher(parent, CategoryWrite|CategoryDirChanged,
		PathSinkFunc(watcher.handleParentEvent),
		PathOptions{Queue: watcher.queue, Logger: watcher.logger},
		watcher.source)
	if err != nil {
		return err
	}
	if err := child.Start(); err != nil {
		if errors.Is(err, ErrTargetMissing) {
			return ErrBootstrapDepth
		}
		return err
	}
	watcher.child = child
	watcher.state = PathStateAwaitingCreation
	watcher.logDebug("awaiting creation", map[string]string{"parent": parent})

	// The target can appear between the existence check and the parent
	// watch arming. Queue a re-check now that the watch is in place.
	watcher.queue.Dispatch(func() {
		watcher.handleParentEvent(PathEvent{Path: parent})
	})
	return nil
}

// handleParentEvent runs on the delivery queue as the bootstrap child's
// sink. Any parent directory change is a cue to re-check whether the
// target exists yet.
func (watcher *PathWatcher) handleParentEvent(PathEvent) {
	watcher.mu.Lock()
	if watcher.state != PathStateAwaitingCreation || watcher.arming {
		watcher.mu.Unlock()
		return
	}
	if !fsutil.Exists(watcher.path) {
		watcher.mu.Unlock()
		return
	}
	deliver := !watcher.createDelivered
	watcher.createDelivered = true
	watcher.arming = true
	watcher.mu.Unlock()

	if deliver {
		// Already on the delivery queue, so the sink is called
		// directly instead of being re-dispatched.
		watcher.invokeSink(PathEvent{Path: watcher.path, Categories: CategoryCreate})
	}
	go watcher.completeBootstrap()
}

// completeBootstrap swaps the parent watch for a watch on the target
// itself, or closes the watcher when only Create was requested.
func (watcher *PathWatcher) completeBootstrap() {
	watcher.mu.Lock()
	if watcher.state != PathStateAwaitingCreation {
		watcher.arming = false
		watcher.mu.Unlock()
		return
	}
	if watcher.categories.Without(CategoryCreate) == CategoryNone {
		watcher.arming = false
		watcher.mu.Unlock()
		// Nothing left to observe after the one-shot Create.
		watcher.Close()
		return
	}
	session, isDir, err := watcher.openSessionLocked()
	if err != nil {
		watcher.arming = false
		watcher.mu.Unlock()
		// Still awaiting: the next parent change retries the arm.
		watcher.logWarn("arm after creation failed", map[string]string{"error": err.Error()})
		return
	}
	child := watcher.child
	watcher.child = nil
	watcher.arming = false
	watcher.armLocked(session, isDir)
	watcher.mu.Unlock()
	if child != nil {
		child.Close()
	}
}

func (watcher *PathWatcher) startPumpLocked(session nativeSession) {
	done := make(chan struct{})
	watcher.pumpDone = done
	go func() {
		defer close(done)
		events := session.events()
		errs := session.errors()
		for events != nil || errs != nil {
			select {
			case raw, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				watcher.handleRaw(raw)
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				watcher.logWarn("native session error", map[string]string{"error": err.Error()})
			}
		}
	}()
}

func (watcher *PathWatcher) handleRaw(raw rawEvent) {
	categories := watcher.decode(raw)
	if categories == CategoryNone {
		return
	}
	event := PathEvent{Path: watcher.path, Categories: categories}
	watcher.queue.Dispatch(func() { watcher.invokeSink(event) })
}

// decode maps a raw notification onto the requested categories. Entry
// churn inside a directory target counts as a write, and writes on
// directory targets are reclassified as DirChanged.
func (watcher *PathWatcher) decode(raw rawEvent) Category {
	if raw.kinds&rawOverflow != 0 {
		watcher.logWarn("kernel queue overflow", nil)
		return CategoryNone
	}
	var categories Category
	if raw.path != "" && raw.path != watcher.path {
		// Entry churn inside the target directory. Content changes of
		// entries are not writes to the directory itself.
		if raw.kinds&(rawCreated|rawRemoved|rawRenamed) != 0 {
			categories |= CategoryWrite
		}
	} else {
		if raw.kinds&rawModified != 0 {
			categories |= CategoryWrite
		}
		if raw.kinds&rawMetaChanged != 0 {
			categories |= CategoryAttribute
		}
		if raw.kinds&rawRootDeleted != 0 {
			categories |= CategoryDelete
		}
		if raw.kinds&rawRootMoved != 0 {
			categories |= CategoryRename
		}
		if raw.kinds&rawUnmounted != 0 {
			categories |= CategoryRevoke
		}
	}
	requested := watcher.categories
	if watcher.isDir {
		if categories.Has(CategoryWrite) {
			categories = categories.Without(CategoryWrite) | CategoryDirChanged
		}
		if requested.Has(CategoryWrite) {
			requested |= CategoryDirChanged
		}
	}
	return categories & requested
}

func (watcher *PathWatcher) invokeSink(event PathEvent) {
	watcher.deliveryGate.RLock()
	if !watcher.cancelled {
		watcher.sink.HandlePathEvent(event)
	}
	watcher.deliveryGate.RUnlock()
}

// Stop cancels the watch and releases native resources without waiting
// for in-flight deliveries to finish. Safe to call more than once.
func (watcher *PathWatcher) Stop() {
	if watcher == nil {
		return
	}
	watcher.mu.Lock()
	if watcher.state == PathStateCancelled {
		watcher.mu.Unlock()
		return
	}
	watcher.state = PathStateCancelled
	session := watcher.session
	child := watcher.child
	watcher.mu.Unlock()

	if session != nil {
		if err := session.close(); err != nil {
			watcher.mu.Lock()
			if watcher.closeErr == nil {
				watcher.closeErr = err
			}
			watcher.mu.Unlock()
		}
	}
	if child != nil {
		child.Stop()
	}
}

// Close stops the watch and waits until no sink invocation is running.
// Once Close returns no further invocation begins. Safe to call more
// than once; later calls return the first result. Must not be called
// from the sink.
func (watcher *PathWatcher) Close() error {
	if watcher == nil {
		return nil
	}
	watcher.closeOnce.Do(func() {
		watcher.Stop()

		watcher.mu.Lock()
		child := watcher.child
		pumpDone := watcher.pumpDone
		watcher.child = nil
		watcher.session = nil
		watcher.mu.Unlock()

		if child != nil {
			child.Close()
		}
		if pumpDone != nil {
			<-pumpDone
		}

		watcher.deliveryGate.Lock()
		watcher.cancelled = true
		watcher.deliveryGate.Unlock()

		if watcher.ownedQueue != nil {
			watcher.ownedQueue.close()
		}
	})
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	return watcher.closeErr
}

func (watcher *PathWatcher) logDebug(message string, fields map[string]string) {
	watcher.logger.Debug(message, watcher.logFields(fields))
}

func (watcher *PathWatcher) logWarn(message string, fields map[string]string) {
	watcher.logger.Warn(message, watcher.logFields(fields))
}

func (watcher *PathWatcher) logFields(fields map[string]string) map[string]string {
	merged := map[string]string{"path": watcher.path}
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}

// interestForCategories picks the native kinds needed to observe the
// requested categories. Create is synthesized and never native.
func interestForCategories(categories Category, isDir bool) rawKind {
	var interest rawKind
	if categories&(CategoryWrite|CategoryExtend) != 0 {
		if isDir {
			interest |= rawCreated | rawRemoved | rawRenamed
		} else {
			interest |= rawModified
		}
	}
	if isDir && categories.Has(CategoryDirChanged) {
		interest |= rawCreated | rawRemoved | rawRenamed
	}
	if categories&(CategoryAttribute|CategoryLink) != 0 {
		interest |= rawMetaChanged
	}
	if categories.Has(CategoryDelete) {
		interest |= rawRootDeleted
	}
	if categories.Has(CategoryRename) {
		interest |= rawRootMoved
	}
	if categories.Has(CategoryRevoke) {
		interest |= rawUnmounted
	}
	return interest
}

// WatchPath builds and starts a PathWatcher in one call. On start
// failure the watcher is closed and the error returned.
func WatchPath(path string, categories Category, sink PathSink, options PathOptions) (*PathWatcher, error) {
	watcher, err := NewPathWatcher(path, categories, sink, options)
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(); err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}
