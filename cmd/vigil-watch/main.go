package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"vigil/internal/cli"
	"vigil/internal/watcher"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	cfg, err := parseArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitCodeSuccess
		}
		fmt.Fprintln(errOut, err.Error())
		return exitCodeUsage
	}
	if cfg.ShowVersion {
		cli.PrintVersionLine(out, "vigil-watch")
		return exitCodeSuccess
	}

	printer := newEventPrinter(out, cfg.JSON)

	done := make(chan struct{})
	var finishOnce sync.Once
	finish := func() {
		finishOnce.Do(func() {
			close(done)
		})
	}
	var seen atomic.Uint64
	delivered := func() {
		if cfg.Count > 0 && seen.Add(1) >= cfg.Count {
			finish()
		}
	}

	watchers, err := startWatchers(cfg, printer, delivered)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return exitCodeForError(err)
	}
	defer closeAll(watchers)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var timeoutCh <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-done:
	case <-signalCh:
	case <-timeoutCh:
	}
	return exitCodeSuccess
}

func startWatchers(cfg Config, printer *eventPrinter, delivered func()) ([]io.Closer, error) {
	switch cfg.Mode {
	case modePath:
		var closers []io.Closer
		for _, path := range cfg.Paths {
			pathWatcher, err := watcher.WatchPath(path, cfg.Categories, watcher.PathSinkFunc(func(pathEvent watcher.PathEvent) {
				if cfg.Ignore.Match(pathEvent.Path) {
					return
				}
				printer.PrintPath(pathEvent)
				delivered()
			}), watcher.PathOptions{})
			if err != nil {
				closeAll(closers)
				return nil, err
			}
			closers = append(closers, pathWatcher)
		}
		return closers, nil
	case modeStream:
		streamWatcher, err := watcher.WatchPaths(cfg.Paths, cfg.Flags, watcher.StreamSinkFunc(func(streamEvent watcher.StreamEvent) {
			if cfg.Ignore.Match(streamEvent.Path) {
				return
			}
			printer.PrintStream(streamEvent)
			delivered()
		}), watcher.StreamOptions{
			Latency:   cfg.Latency,
			Recursive: cfg.Recursive,
			Since:     cfg.Since,
		})
		if err != nil {
			return nil, err
		}
		return []io.Closer{streamWatcher}, nil
	}
	return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
}

func closeAll(closers []io.Closer) {
	for _, closer := range closers {
		_ = closer.Close()
	}
}

// exitCodeForError maps a failed start to its failure class.
func exitCodeForError(err error) int {
	switch {
	case errors.Is(err, watcher.ErrTargetMissing):
		return exitCodeTargetMissing
	case errors.Is(err, watcher.ErrBootstrapDepth):
		return exitCodeBootstrapDepth
	case errors.Is(err, watcher.ErrUnsupported):
		return exitCodeUnsupported
	default:
		return exitCodeWatchFailed
	}
}
