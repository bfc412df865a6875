// Package watcher turns raw kernel change notifications into decoded,
// per-path deliveries.
//
// Two watcher kinds cover the two delivery models. PathWatcher observes a
// single path and reports Category sets as changes happen, including paths
// that do not exist yet when CategoryCreate is requested. StreamWatcher
// observes one or more roots and delivers batched StreamEvent tuples with
// strictly increasing ids, coalescing bursts within a latency window.
//
// Both kinds invoke their sink serially on one delivery queue, never
// concurrently. Events are best-effort: bursts may coalesce, and kernel or
// buffer overruns surface as drop flags rather than blocking the source.
// All exported types are safe for concurrent use.
package watcher
