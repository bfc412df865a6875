package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/fsutil"
	"vigil/internal/logging"
)

// StreamState identifies a StreamWatcher lifecycle stage.
type StreamState uint32

const (
	// StreamStateIdle means the stream has not started yet.
	StreamStateIdle StreamState = iota
	// StreamStateStarted means events are flowing.
	StreamStateStarted
	// StreamStateClosed means the stream was stopped or closed.
	StreamStateClosed
)

func (state StreamState) String() string {
	switch state {
	case StreamStateIdle:
		return "idle"
	case StreamStateStarted:
		return "started"
	case StreamStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// streamInterest covers every raw kind. Streams report everything and
// let the requested flag set filter deliveries.
const streamInterest = rawCreated | rawRemoved | rawModified | rawMetaChanged |
	rawRenamed | rawRootDeleted | rawRootMoved | rawUnmounted

// infrastructureFlags are always delivered regardless of the requested
// flag set. Losing a drop marker or a root change would leave the
// receiver with a silently stale view.
const infrastructureFlags = FlagMustScanSubtree | FlagUserDropped | FlagKernelDropped |
	FlagIdsWrapped | FlagHistoryDone | FlagRootChanged | FlagMount | FlagUnmount

// StreamWatcher observes one or more roots and delivers batched
// StreamEvent tuples. Raw notifications coalesce per path over a
// latency window; each flushed tuple carries a strictly increasing id.
type StreamWatcher struct {
	roots      []string
	flags      Flags
	sink       StreamSink
	latency    time.Duration
	recursive  bool
	since      uint64
	maxPending int
	queue      Queue
	ownedQueue *serialQueue
	source     nativeSource
	logger     *logging.Logger

	mu       sync.Mutex
	state    StreamState
	session  nativeSession
	pumpDone chan struct{}
	pending  map[string]Flags
	order    []string
	timer    *time.Timer
	nextID   uint64
	closeErr error

	lastID    atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	flushes   atomic.Uint64

	// deliveryGate serializes sink invocations against Close, exactly
	// as in PathWatcher.
	deliveryGate sync.RWMutex
	cancelled    bool

	closeOnce sync.Once
}

// StreamStats is a point-in-time snapshot of a stream's counters.
type StreamStats struct {
	EventsDelivered uint64
	EventsDropped   uint64
	Flushes         uint64
	LastEventID     uint64
}

// NewStreamWatcher builds a stream over paths without starting it. The
// sink is required and at least one path must be given. A zero flags
// value delivers every event; a non-zero value delivers only events
// sharing a flag with it, plus infrastructure events.
func NewStreamWatcher(paths []string, flags Flags, sink StreamSink, options StreamOptions) (*StreamWatcher, error) {
	return newStreamWatcher(paths, flags, sink, options, defaultNativeSource())
}

func newStreamWatcher(paths []string, flags Flags, sink StreamSink, options StreamOptions, source nativeSource) (*StreamWatcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("watch stream: no paths")
	}
	if sink == nil {
		return nil, fmt.Errorf("watch stream: nil sink")
	}
	roots := make([]string, 0, len(paths))
	for _, path := range paths {
		resolved, err := fsutil.Resolve(path)
		if err != nil {
			return nil, err
		}
		roots = append(roots, resolved)
	}
	latency := options.Latency
	if latency <= 0 {
		latency = defaultLatency
	}
	maxPending := options.MaxPending
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	watcher := &StreamWatcher{
		roots:      roots,
		flags:      flags,
		sink:       sink,
		latency:    latency,
		recursive:  options.Recursive,
		since:      options.Since,
		maxPending: maxPending,
		queue:      options.Queue,
		source:     source,
		logger:     options.Logger,
		nextID:     options.Since,
	}
	watcher.lastID.Store(options.Since)
	if watcher.queue == nil {
		watcher.ownedQueue = newSerialQueue(defaultQueueDepth)
		watcher.queue = watcher.ownedQueue
	}
	return watcher, nil
}

// Roots returns the resolved watch roots.
func (watcher *StreamWatcher) Roots() []string {
	roots := make([]string, len(watcher.roots))
	copy(roots, watcher.roots)
	return roots
}

// State returns the current lifecycle stage.
func (watcher *StreamWatcher) State() StreamState {
	if watcher == nil {
		return StreamStateClosed
	}
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	return watcher.state
}

// LastEventID returns the id of the most recently delivered event, or
// the resume cursor before anything was delivered.
func (watcher *StreamWatcher) LastEventID() uint64 {
	if watcher == nil {
		return 0
	}
	return watcher.lastID.Load()
}

// Stats returns a snapshot of the stream's delivery counters.
func (watcher *StreamWatcher) Stats() StreamStats {
	if watcher == nil {
		return StreamStats{}
	}
	return StreamStats{
		EventsDelivered: watcher.delivered.Load(),
		EventsDropped:   watcher.dropped.Load(),
		Flushes:         watcher.flushes.Load(),
		LastEventID:     watcher.lastID.Load(),
	}
}

// Start opens the native session and begins delivering. Roots must
// exist. When a resume cursor was given the first delivery is a
// HistoryDone marker, since the backend cannot replay history.
func (watcher *StreamWatcher) Start() error {
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	switch watcher.state {
	case StreamStateClosed:
		return ErrWatcherClosed
	case StreamStateStarted:
		return ErrAlreadyStarted
	}
	session, err := watcher.source.open(sessionConfig{
		roots:     watcher.roots,
		interest:  streamInterest,
		recursive: watcher.recursive,
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrTargetMissing, err)
		}
		return err
	}
	watcher.session = session
	watcher.state = StreamStateStarted
	watcher.startPumpLocked(session)
	if watcher.since > 0 {
		boundary := StreamEvent{
			ID:    watcher.assignIDLocked(),
			Path:  watcher.roots[0],
			Flags: FlagHistoryDone,
		}
		watcher.dispatchBatch([]StreamEvent{boundary})
	}
	watcher.logDebug("stream started", map[string]string{
		"roots": fmt.Sprintf("%d", len(watcher.roots)),
	})
	return nil
}

func (watcher *StreamWatcher) startPumpLocked(session nativeSession) {
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

func (watcher *StreamWatcher) handleRaw(raw rawEvent) {
	if raw.kinds&rawOverflow != 0 {
		watcher.dropped.Add(1)
		watcher.logWarn("kernel queue overflow", nil)
		watcher.enqueue(watcher.roots[0], FlagKernelDropped|FlagMustScanSubtree)
		return
	}
	flags := decodeStreamKinds(raw.kinds)
	if flags == FlagNone {
		return
	}
	watcher.enqueue(raw.path, flags)
}

func decodeStreamKinds(kinds rawKind) Flags {
	var flags Flags
	if kinds&rawCreated != 0 {
		flags |= FlagCreated
	}
	if kinds&rawRemoved != 0 {
		flags |= FlagRemoved
	}
	if kinds&rawModified != 0 {
		flags |= FlagModified
	}
	if kinds&rawMetaChanged != 0 {
		flags |= FlagInodeMetaChanged
	}
	if kinds&rawRenamed != 0 {
		flags |= FlagRenamed
	}
	if kinds&rawUnmounted != 0 {
		flags |= FlagUnmount
	}
	if kinds&rawRootDeleted != 0 {
		flags |= FlagRootChanged | FlagRemoved
	}
	if kinds&rawRootMoved != 0 {
		flags |= FlagRootChanged | FlagRenamed
	}
	if flags == FlagNone {
		return flags
	}
	if kinds&rawIsDir != 0 {
		flags |= FlagIsDirectory
	} else {
		flags |= FlagIsFile
	}
	return flags
}

// enqueue folds one decoded notification into the current batching
// window, arming the flush timer on the first entry. Past the pending
// cap the whole window collapses into a single UserDropped tuple.
func (watcher *StreamWatcher) enqueue(path string, flags Flags) {
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	if watcher.state != StreamStateStarted {
		return
	}
	if watcher.pending == nil {
		watcher.pending = make(map[string]Flags)
	}
	existing, known := watcher.pending[path]
	if !known {
		if len(watcher.pending) >= watcher.maxPending {
			watcher.collapseLocked()
			return
		}
		watcher.order = append(watcher.order, path)
	}
	watcher.pending[path] = existing | flags
	if watcher.timer == nil {
		watcher.timer = time.AfterFunc(watcher.latency, watcher.flushTimer)
	}
}

// collapseLocked replaces an overflowing window with one tuple telling
// the receiver to rescan from the first root.
func (watcher *StreamWatcher) collapseLocked() {
	watcher.dropped.Add(uint64(len(watcher.pending)))
	watcher.logWarn("pending window overflow", map[string]string{
		"pending": fmt.Sprintf("%d", len(watcher.pending)),
	})
	root := watcher.roots[0]
	watcher.pending = map[string]Flags{root: FlagUserDropped | FlagMustScanSubtree}
	watcher.order = []string{root}
}

func (watcher *StreamWatcher) flushTimer() { watcher.flush() }

// flush snapshots the pending window, assigns ids in arrival order,
// and hands the batch to the delivery queue.
func (watcher *StreamWatcher) flush() {
	watcher.mu.Lock()
	if watcher.timer != nil {
		watcher.timer.Stop()
		watcher.timer = nil
	}
	if watcher.state != StreamStateStarted || len(watcher.order) == 0 {
		watcher.mu.Unlock()
		return
	}
	batch := make([]StreamEvent, 0, len(watcher.order))
	for _, path := range watcher.order {
		flags := watcher.pending[path]
		if !watcher.wants(flags) {
			continue
		}
		batch = append(batch, StreamEvent{
			ID:    watcher.assignIDLocked(),
			Path:  path,
			Flags: flags,
		})
	}
	watcher.pending = nil
	watcher.order = nil
	watcher.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	watcher.dispatchBatch(batch)
}

func (watcher *StreamWatcher) wants(flags Flags) bool {
	if watcher.flags == FlagNone {
		return true
	}
	return flags&(watcher.flags|infrastructureFlags) != FlagNone
}

func (watcher *StreamWatcher) assignIDLocked() uint64 {
	watcher.nextID++
	if watcher.nextID == 0 {
		watcher.nextID = 1
	}
	return watcher.nextID
}

// dispatchBatch delivers one flushed batch as consecutive sink calls.
// The queue is serial, so a batch runs to completion before the next
// one starts.
func (watcher *StreamWatcher) dispatchBatch(batch []StreamEvent) {
	watcher.queue.Dispatch(func() {
		watcher.deliveryGate.RLock()
		defer watcher.deliveryGate.RUnlock()
		if watcher.cancelled {
			return
		}
		for _, event := range batch {
			watcher.sink.HandleStreamEvent(event)
			watcher.lastID.Store(event.ID)
			watcher.delivered.Add(1)
		}
		watcher.flushes.Add(1)
	})
}

// FlushAsync forces the current window out without waiting for the
// latency timer.
func (watcher *StreamWatcher) FlushAsync() {
	if watcher == nil {
		return
	}
	watcher.flush()
}

// FlushSync forces the current window out and blocks until everything
// dispatched so far has been handed to the sink. Calling it from the
// sink deadlocks, since the delivery queue is serial.
func (watcher *StreamWatcher) FlushSync() {
	if watcher == nil {
		return
	}
	watcher.flush()
	watcher.mu.Lock()
	closed := watcher.state == StreamStateClosed
	watcher.mu.Unlock()
	if closed {
		return
	}
	done := make(chan struct{})
	watcher.queue.Dispatch(func() { close(done) })
	<-done
}

// Stop cancels the stream and releases native resources without
// waiting for in-flight deliveries. Pending undelivered batches are
// discarded. Safe to call more than once.
func (watcher *StreamWatcher) Stop() {
	if watcher == nil {
		return
	}
	watcher.mu.Lock()
	if watcher.state == StreamStateClosed {
		watcher.mu.Unlock()
		return
	}
	watcher.state = StreamStateClosed
	session := watcher.session
	if watcher.timer != nil {
		watcher.timer.Stop()
		watcher.timer = nil
	}
	watcher.pending = nil
	watcher.order = nil
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
}

// Close stops the stream and waits until no sink invocation is
// running. Once Close returns no further invocation begins. Safe to
// call more than once; later calls return the first result. Must not
// be called from the sink.
func (watcher *StreamWatcher) Close() error {
	if watcher == nil {
		return nil
	}
	watcher.closeOnce.Do(func() {
		watcher.Stop()

		watcher.mu.Lock()
		pumpDone := watcher.pumpDone
		watcher.session = nil
		watcher.mu.Unlock()

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

func (watcher *StreamWatcher) logDebug(message string, fields map[string]string) {
	watcher.logger.Debug(message, watcher.logFields(fields))
}

func (watcher *StreamWatcher) logWarn(message string, fields map[string]string) {
	watcher.logger.Warn(message, watcher.logFields(fields))
}

func (watcher *StreamWatcher) logFields(fields map[string]string) map[string]string {
	merged := map[string]string{"root": watcher.roots[0]}
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}

// WatchPaths builds and starts a StreamWatcher in one call. On start
// failure the watcher is closed and the error returned.
func WatchPaths(paths []string, flags Flags, sink StreamSink, options StreamOptions) (*StreamWatcher, error) {
	watcher, err := NewStreamWatcher(paths, flags, sink, options)
	if err != nil {
		return nil, err
	}
	if err := watcher.Start(); err != nil {
		watcher.Close()
		return nil, err
	}
	return watcher, nil
}
