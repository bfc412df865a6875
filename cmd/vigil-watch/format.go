package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"vigil/internal/watcher"
)

type pathLine struct {
	Time       time.Time `json:"time"`
	Path       string    `json:"path"`
	Categories string    `json:"categories"`
}

type streamLine struct {
	Time  time.Time `json:"time"`
	ID    uint64    `json:"id"`
	Path  string    `json:"path"`
	Flags string    `json:"flags"`
}

// eventPrinter renders decoded events one line at a time. Path mode may
// run one watcher per path, each with its own delivery queue, so writes
// are serialized here.
type eventPrinter struct {
	out  io.Writer
	json bool
	now  func() time.Time

	mu sync.Mutex
}

func newEventPrinter(out io.Writer, asJSON bool) *eventPrinter {
	return &eventPrinter{
		out:  out,
		json: asJSON,
		now:  time.Now,
	}
}

func (printer *eventPrinter) PrintPath(pathEvent watcher.PathEvent) {
	stamp := printer.now().UTC()
	printer.mu.Lock()
	defer printer.mu.Unlock()
	if printer.json {
		_ = json.NewEncoder(printer.out).Encode(pathLine{
			Time:       stamp,
			Path:       pathEvent.Path,
			Categories: pathEvent.Categories.String(),
		})
		return
	}
	fmt.Fprintf(printer.out, "%s %s %s\n", stamp.Format(time.RFC3339), pathEvent.Path, pathEvent.Categories)
}

func (printer *eventPrinter) PrintStream(streamEvent watcher.StreamEvent) {
	stamp := printer.now().UTC()
	printer.mu.Lock()
	defer printer.mu.Unlock()
	if printer.json {
		_ = json.NewEncoder(printer.out).Encode(streamLine{
			Time:  stamp,
			ID:    streamEvent.ID,
			Path:  streamEvent.Path,
			Flags: streamEvent.Flags.String(),
		})
		return
	}
	fmt.Fprintf(printer.out, "%s %d %s %s\n", stamp.Format(time.RFC3339), streamEvent.ID, streamEvent.Path, streamEvent.Flags)
}
