package config

import (
	"fmt"
	"strings"
	"time"

	"vigil/internal/watcher"
)

const (
	// KindPath declares a per-path watch delivering categorized events
	// for a single target.
	KindPath = "path"
	// KindStream declares a batched watch delivering id-ordered events
	// for a set of roots.
	KindStream = "stream"
)

// Watch is one declared watch. Path watches take categories, stream
// watches take flags, a resume switch, and an optional starting id.
// Ignore globs apply to both kinds.
type Watch struct {
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"`
	Paths      []string `yaml:"paths"`
	Categories []string `yaml:"categories"`
	Flags      []string `yaml:"flags"`
	LatencyMS  int64    `yaml:"latency_ms"`
	Recursive  bool     `yaml:"recursive"`
	Since      uint64   `yaml:"since"`
	Ignore     []string `yaml:"ignore"`
	Resume     bool     `yaml:"resume"`
}

// NormalizedKind returns the declared kind lowercased and trimmed.
func (w Watch) NormalizedKind() string {
	return strings.ToLower(strings.TrimSpace(w.Kind))
}

// Validate checks the declaration for structural problems. Path
// existence is not checked here; the daemon reports that per watch at
// build time.
func (w Watch) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("watch name cannot be empty")
	}

	kind := w.NormalizedKind()
	switch kind {
	case KindPath, KindStream:
	default:
		return fmt.Errorf("watch %s: unknown kind %q", w.Name, w.Kind)
	}

	if len(w.Paths) == 0 {
		return fmt.Errorf("watch %s: no paths", w.Name)
	}
	for _, path := range w.Paths {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("watch %s: empty path", w.Name)
		}
	}

	switch kind {
	case KindPath:
		if len(w.Categories) == 0 {
			return fmt.Errorf("watch %s: no categories requested", w.Name)
		}
		if _, err := watcher.ParseCategories(w.Categories); err != nil {
			return fmt.Errorf("watch %s: %w", w.Name, err)
		}
		if len(w.Flags) > 0 {
			return fmt.Errorf("watch %s: flags apply to stream watches", w.Name)
		}
		if w.Recursive {
			return fmt.Errorf("watch %s: recursive applies to stream watches", w.Name)
		}
		if w.Resume || w.Since != 0 {
			return fmt.Errorf("watch %s: resume applies to stream watches", w.Name)
		}
	case KindStream:
		if len(w.Categories) > 0 {
			return fmt.Errorf("watch %s: categories apply to path watches", w.Name)
		}
		if _, err := watcher.ParseFlags(w.Flags); err != nil {
			return fmt.Errorf("watch %s: %w", w.Name, err)
		}
	}

	if w.LatencyMS < 0 {
		return fmt.Errorf("watch %s: negative latency", w.Name)
	}
	return nil
}

// CategorySet resolves the declared category names.
func (w Watch) CategorySet() (watcher.Category, error) {
	return watcher.ParseCategories(w.Categories)
}

// FlagSet resolves the declared flag names. An empty declaration
// yields FlagNone, which delivers everything.
func (w Watch) FlagSet() (watcher.Flags, error) {
	return watcher.ParseFlags(w.Flags)
}

// Latency returns the declared batching window, or fallback when the
// declaration leaves it unset.
func (w Watch) Latency(fallback time.Duration) time.Duration {
	if w.LatencyMS > 0 {
		return time.Duration(w.LatencyMS) * time.Millisecond
	}
	return fallback
}
