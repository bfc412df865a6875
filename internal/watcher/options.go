package watcher

import (
	"time"

	"vigil/internal/logging"
)

const (
	defaultLatency    = 100 * time.Millisecond
	defaultMaxPending = 4096
)

// PathOptions tunes a PathWatcher. The zero value is ready to use.
type PathOptions struct {
	// Queue receives every sink invocation. Nil creates an internal
	// serial queue owned and shut down by the watcher.
	Queue Queue
	// Logger receives diagnostics. Nil discards them.
	Logger *logging.Logger
}

// StreamOptions tunes a StreamWatcher. The zero value is ready to use.
type StreamOptions struct {
	// Latency is the batching window. Events for the same path
	// arriving within one window coalesce into a single tuple.
	// Zero selects 100ms.
	Latency time.Duration
	// Recursive extends directory roots to their whole subtree, with
	// new directories picked up as they appear.
	Recursive bool
	// Since resumes id assignment after a previous session. Every
	// delivered id is greater than Since and the first delivery is a
	// HistoryDone marker. Zero starts a fresh stream.
	Since uint64
	// Queue receives every sink invocation. Nil creates an internal
	// serial queue owned and shut down by the watcher.
	Queue Queue
	// Logger receives diagnostics. Nil discards them.
	Logger *logging.Logger
	// MaxPending caps how many coalesced paths one batching window
	// may hold. Past the cap the whole batch collapses into a single
	// UserDropped tuple for the first root. Zero selects 4096.
	MaxPending int
}
