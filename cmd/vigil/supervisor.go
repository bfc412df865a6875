package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/api"
	"vigil/internal/config"
	"vigil/internal/cursor"
	"vigil/internal/event"
	"vigil/internal/filter"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/watcher"
)

const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// Deliveries carrying these categories mean the native session is bound
// to an inode that no longer backs the configured path; the watch must
// be rebuilt.
const pathRestartMask = watcher.CategoryDelete | watcher.CategoryRename | watcher.CategoryRevoke

const streamRestartMask = watcher.FlagRootChanged | watcher.FlagUnmount

// infrastructureMask bypasses ignore globs. Suppressing a drop marker
// or root change would leave subscribers with a silently stale view.
const infrastructureMask = watcher.FlagMustScanSubtree | watcher.FlagUserDropped |
	watcher.FlagKernelDropped | watcher.FlagIdsWrapped | watcher.FlagHistoryDone |
	watcher.FlagRootChanged | watcher.FlagMount | watcher.FlagUnmount

// supervisor owns the manifest watches: it builds them, fans their
// deliveries onto the bus, persists stream cursors, and rebuilds
// watches that fail or lose their target, with bounded backoff.
type supervisor struct {
	bus      *event.Bus[event.Event]
	logger   *logging.Logger
	registry *metrics.Registry
	cursors  *cursor.Store
	latency  time.Duration

	entries []*watchEntry
}

func newSupervisor(cfg config.Config, bus *event.Bus[event.Event], logger *logging.Logger, registry *metrics.Registry, cursors *cursor.Store) (*supervisor, error) {
	if registry == nil {
		registry = metrics.Default
	}
	sup := &supervisor{
		bus:      bus,
		logger:   logger.With(map[string]string{"vigil.category": "daemon"}),
		registry: registry,
		cursors:  cursors,
		latency:  time.Duration(cfg.LatencyMS) * time.Millisecond,
	}
	for _, manifest := range cfg.Watches {
		ignore, err := filter.New(manifest.Ignore)
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", manifest.Name, err)
		}
		sup.entries = append(sup.entries, &watchEntry{
			supervisor: sup,
			manifest:   manifest,
			ignore:     ignore,
		})
	}
	return sup, nil
}

// Start builds every declared watch. A watch that fails to build is
// logged and retried in the background; Start itself does not fail.
func (sup *supervisor) Start() {
	for _, entry := range sup.entries {
		if err := entry.start(); err != nil {
			entry.noteError(err)
			sup.logger.Warn("watch start failed", map[string]string{
				"watch": entry.manifest.Name,
				"error": err.Error(),
			})
			entry.scheduleRetry()
			continue
		}
		sup.logger.Info("watch started", map[string]string{
			"watch": entry.manifest.Name,
			"kind":  entry.manifest.NormalizedKind(),
		})
	}
}

// Close stops every watch and persists final stream cursors.
func (sup *supervisor) Close() {
	for _, entry := range sup.entries {
		entry.close()
	}
}

// Watches implements api.WatchInventory.
func (sup *supervisor) Watches() []api.WatchStatus {
	statuses := make([]api.WatchStatus, 0, len(sup.entries))
	for _, entry := range sup.entries {
		statuses = append(statuses, entry.status())
	}
	return statuses
}

func (sup *supervisor) publishLifecycle(name, path, detail string) {
	lifecycle := event.NewWatchEvent(name, path, "watch_state")
	lifecycle.Detail = detail
	sup.bus.Publish(lifecycle)
}

// watchEntry is one manifest watch at runtime. Path manifests hold one
// PathWatcher per declared path; stream manifests hold one
// StreamWatcher over all of them.
type watchEntry struct {
	supervisor *supervisor
	manifest   config.Watch
	ignore     *filter.Set

	mu       sync.Mutex
	paths    []*watcher.PathWatcher
	stream   *watcher.StreamWatcher
	retrying bool
	stopped  bool
	restarts int
	lastErr  error

	delivered atomic.Uint64
}

func (entry *watchEntry) start() error {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.startLocked()
}

func (entry *watchEntry) startLocked() error {
	if entry.stopped {
		return nil
	}
	sup := entry.supervisor
	switch entry.manifest.NormalizedKind() {
	case config.KindPath:
		categories, err := entry.manifest.CategorySet()
		if err != nil {
			return err
		}
		var started []*watcher.PathWatcher
		for _, path := range entry.manifest.Paths {
			pathWatcher, err := watcher.WatchPath(path, categories, watcher.PathSinkFunc(entry.handlePathEvent), watcher.PathOptions{
				Logger: sup.logger,
			})
			if err != nil {
				for _, previous := range started {
					_ = previous.Close()
					sup.registry.WatchStopped()
				}
				return fmt.Errorf("path %s: %w", path, err)
			}
			started = append(started, pathWatcher)
			sup.registry.WatchStarted()
		}
		entry.paths = started
	case config.KindStream:
		flags, err := entry.manifest.FlagSet()
		if err != nil {
			return err
		}
		streamWatcher, err := watcher.WatchPaths(entry.manifest.Paths, flags, watcher.StreamSinkFunc(entry.handleStreamEvent), watcher.StreamOptions{
			Latency:   entry.manifest.Latency(sup.latency),
			Recursive: entry.manifest.Recursive,
			Since:     entry.resumeID(),
			Logger:    sup.logger,
		})
		if err != nil {
			return err
		}
		entry.stream = streamWatcher
		sup.registry.StreamStarted()
	}
	entry.lastErr = nil
	sup.publishLifecycle(entry.manifest.Name, "", "started")
	return nil
}

// resumeID picks the id a stream resumes from. A persisted cursor wins
// over the declared since so a restarted daemon continues its sequence
// instead of rewinding.
func (entry *watchEntry) resumeID() uint64 {
	since := entry.manifest.Since
	if !entry.manifest.Resume {
		return since
	}
	stored, err := entry.supervisor.cursors.Get(entry.manifest.Name)
	if err == nil && stored > since {
		return stored
	}
	return since
}

// handleStreamEvent runs on the stream's delivery queue. It must not
// close the watcher; restarts are handed to a separate goroutine.
func (entry *watchEntry) handleStreamEvent(streamEvent watcher.StreamEvent) {
	if streamEvent.Flags&infrastructureMask == 0 && entry.ignore.Match(streamEvent.Path) {
		return
	}
	sup := entry.supervisor
	name := entry.manifest.Name

	if streamEvent.Flags.Has(watcher.FlagUserDropped) {
		sup.registry.IncBufferDrop()
	}
	if streamEvent.Flags.Has(watcher.FlagKernelDropped) {
		sup.registry.IncOverflow()
	}

	sup.bus.Publish(event.NewChangeEvent(name, streamEvent.ID, streamEvent.Path, uint32(streamEvent.Flags), streamEvent.Flags.String()))
	sup.registry.RecordDelivery(name, 1, streamEvent.ID)
	entry.delivered.Add(1)

	if entry.manifest.Resume {
		if err := sup.cursors.Set(name, streamEvent.ID); err != nil {
			sup.logger.Warn("cursor write failed", map[string]string{
				"watch": name,
				"error": err.Error(),
			})
		}
	}

	if streamEvent.Flags&streamRestartMask != 0 {
		go entry.restart()
	}
}

// handlePathEvent runs on the path watcher's delivery queue.
func (entry *watchEntry) handlePathEvent(pathEvent watcher.PathEvent) {
	if entry.ignore.Match(pathEvent.Path) {
		return
	}
	sup := entry.supervisor
	entry.delivered.Add(1)

	changed := event.NewWatchEvent(entry.manifest.Name, pathEvent.Path, "path_change")
	changed.Detail = pathEvent.Categories.String()
	sup.bus.Publish(changed)

	if pathEvent.Categories&pathRestartMask != 0 {
		go entry.restart()
	}
}

// restart tears the watch down and rebuilds it with backoff. Watchers
// are detached under the lock but closed outside it; Close waits for
// in-flight sink calls and those calls may need the lock.
func (entry *watchEntry) restart() {
	entry.mu.Lock()
	if entry.stopped {
		entry.mu.Unlock()
		return
	}
	paths, stream := entry.detachLocked()
	if len(paths) == 0 && stream == nil {
		entry.mu.Unlock()
		return
	}
	entry.restarts++
	entry.mu.Unlock()

	entry.closeDetached(paths, stream)
	entry.supervisor.publishLifecycle(entry.manifest.Name, "", "restarting")
	entry.scheduleRetry()
}

func (entry *watchEntry) scheduleRetry() {
	entry.mu.Lock()
	if entry.retrying || entry.stopped {
		entry.mu.Unlock()
		return
	}
	entry.retrying = true
	entry.mu.Unlock()
	go entry.retryLoop()
}

func (entry *watchEntry) retryLoop() {
	defer func() {
		entry.mu.Lock()
		entry.retrying = false
		entry.mu.Unlock()
	}()

	delay := retryBaseDelay
	for {
		entry.mu.Lock()
		if entry.stopped {
			entry.mu.Unlock()
			return
		}
		err := entry.startLocked()
		entry.mu.Unlock()
		if err == nil {
			entry.supervisor.logger.Info("watch recovered", map[string]string{
				"watch": entry.manifest.Name,
			})
			return
		}
		entry.noteError(err)
		entry.supervisor.logger.Warn("watch retry failed", map[string]string{
			"watch": entry.manifest.Name,
			"error": err.Error(),
		})
		time.Sleep(delay)
		if delay < retryMaxDelay {
			delay *= 2
		}
	}
}

func (entry *watchEntry) noteError(err error) {
	entry.mu.Lock()
	entry.lastErr = err
	entry.mu.Unlock()
}

func (entry *watchEntry) close() {
	entry.mu.Lock()
	if entry.stopped {
		entry.mu.Unlock()
		return
	}
	entry.stopped = true
	paths, stream := entry.detachLocked()
	entry.mu.Unlock()

	entry.closeDetached(paths, stream)
	entry.supervisor.publishLifecycle(entry.manifest.Name, "", "stopped")
}

func (entry *watchEntry) detachLocked() ([]*watcher.PathWatcher, *watcher.StreamWatcher) {
	paths := entry.paths
	stream := entry.stream
	entry.paths = nil
	entry.stream = nil
	return paths, stream
}

func (entry *watchEntry) closeDetached(paths []*watcher.PathWatcher, stream *watcher.StreamWatcher) {
	sup := entry.supervisor
	for _, pathWatcher := range paths {
		_ = pathWatcher.Close()
		sup.registry.WatchStopped()
	}
	if stream == nil {
		return
	}
	_ = stream.Close()
	sup.registry.StreamStopped()
	if entry.manifest.Resume {
		if lastID := stream.LastEventID(); lastID > 0 {
			if err := sup.cursors.Set(entry.manifest.Name, lastID); err != nil {
				sup.logger.Warn("final cursor write failed", map[string]string{
					"watch": entry.manifest.Name,
					"error": err.Error(),
				})
			}
		}
	}
}

func (entry *watchEntry) status() api.WatchStatus {
	entry.mu.Lock()
	paths := entry.paths
	stream := entry.stream
	restarts := entry.restarts
	lastErr := entry.lastErr
	stopped := entry.stopped
	retrying := entry.retrying
	entry.mu.Unlock()

	manifest := entry.manifest
	status := api.WatchStatus{
		Name:      manifest.Name,
		Kind:      manifest.NormalizedKind(),
		Paths:     manifest.Paths,
		Recursive: manifest.Recursive,
		LatencyMS: manifest.LatencyMS,
		Ignore:    manifest.Ignore,
		Resume:    manifest.Resume,
		Restarts:  restarts,
		Delivered: int64(entry.delivered.Load()),
	}
	if categories, err := manifest.CategorySet(); err == nil && categories != watcher.CategoryNone {
		status.Categories = categories.String()
	}
	if flags, err := manifest.FlagSet(); err == nil && flags != watcher.FlagNone {
		status.Flags = flags.String()
	}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}

	switch {
	case stopped:
		status.State = "stopped"
	case stream != nil:
		status.State = stream.State().String()
		stats := stream.Stats()
		status.LastEventID = stats.LastEventID
		status.Dropped = int64(stats.EventsDropped)
		status.Flushes = int64(stats.Flushes)
	case len(paths) > 0:
		status.State = summarizePathStates(paths)
	case retrying:
		status.State = "retrying"
	default:
		status.State = "idle"
	}
	return status
}

// summarizePathStates folds per-path watcher states into one word for
// the inventory: any watcher still bootstrapping or torn down wins
// over armed siblings.
func summarizePathStates(paths []*watcher.PathWatcher) string {
	armed := 0
	for _, pathWatcher := range paths {
		switch pathWatcher.State() {
		case watcher.PathStateAwaitingCreation:
			return watcher.PathStateAwaitingCreation.String()
		case watcher.PathStateCancelled:
			return watcher.PathStateCancelled.String()
		case watcher.PathStateArmed:
			armed++
		}
	}
	if armed == len(paths) {
		return watcher.PathStateArmed.String()
	}
	return watcher.PathStateNotArmed.String()
}
