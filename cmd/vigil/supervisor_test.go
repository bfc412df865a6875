package main

import (
	"context"
	"path/filepath"
	"testing"

	"vigil/internal/config"
	"vigil/internal/cursor"
	"vigil/internal/event"
	"vigil/internal/metrics"
)

func testConfig(watches ...config.Watch) config.Config {
	cfg := config.Default()
	cfg.Watches = watches
	return cfg
}

func newTestSupervisor(t *testing.T, cfg config.Config, store *cursor.Store) *supervisor {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	bus := event.NewBus[event.Event](ctx, event.BusOptions{
		Name:        "test",
		HistorySize: 16,
	})
	t.Cleanup(func() {
		bus.Close()
		cancel()
	})
	sup, err := newSupervisor(cfg, bus, nil, &metrics.Registry{}, store)
	if err != nil {
		t.Fatalf("build supervisor: %v", err)
	}
	t.Cleanup(sup.Close)
	return sup
}

func TestSupervisorInventory(t *testing.T) {
	sup := newTestSupervisor(t, testConfig(
		config.Watch{
			Name:       "etc",
			Kind:       "path",
			Paths:      []string{"/etc/hosts"},
			Categories: []string{"write", "delete"},
		},
		config.Watch{
			Name:      "sources",
			Kind:      "stream",
			Paths:     []string{"/srv/src"},
			Flags:     []string{"created", "modified"},
			Recursive: true,
			Ignore:    []string{"*.tmp"},
			Resume:    true,
		},
	), nil)

	statuses := sup.Watches()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}

	etc := statuses[0]
	if etc.Name != "etc" || etc.Kind != "path" {
		t.Fatalf("unexpected first status %+v", etc)
	}
	if etc.Categories != "Delete,Write" {
		t.Fatalf("unexpected categories %q", etc.Categories)
	}
	if etc.State != "idle" {
		t.Fatalf("expected idle before start, got %q", etc.State)
	}

	sources := statuses[1]
	if sources.Flags != "Created,Modified" {
		t.Fatalf("unexpected flags %q", sources.Flags)
	}
	if !sources.Recursive || !sources.Resume {
		t.Fatalf("expected recursive resume stream, got %+v", sources)
	}
	if len(sources.Ignore) != 1 || sources.Ignore[0] != "*.tmp" {
		t.Fatalf("unexpected ignore %v", sources.Ignore)
	}
}

func TestSupervisorRejectsBadIgnoreGlob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := event.NewBus[event.Event](ctx, event.BusOptions{Name: "test"})
	defer bus.Close()

	_, err := newSupervisor(testConfig(config.Watch{
		Name:   "bad",
		Kind:   "stream",
		Paths:  []string{"/srv"},
		Ignore: []string{"[broken"},
	}), bus, nil, &metrics.Registry{}, nil)
	if err == nil {
		t.Fatalf("expected error for a bad ignore glob")
	}
}

func TestResumeIDPrefersCursor(t *testing.T) {
	store, err := cursor.Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Set("sources", 42); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	sup := newTestSupervisor(t, testConfig(config.Watch{
		Name:   "sources",
		Kind:   "stream",
		Paths:  []string{"/srv/src"},
		Since:  7,
		Resume: true,
	}), store)

	if got := sup.entries[0].resumeID(); got != 42 {
		t.Fatalf("expected cursor to win, got %d", got)
	}
}

func TestResumeIDKeepsLargerSince(t *testing.T) {
	store, err := cursor.Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Set("sources", 3); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	sup := newTestSupervisor(t, testConfig(config.Watch{
		Name:   "sources",
		Kind:   "stream",
		Paths:  []string{"/srv/src"},
		Since:  7,
		Resume: true,
	}), store)

	if got := sup.entries[0].resumeID(); got != 7 {
		t.Fatalf("expected declared since to win over a stale cursor, got %d", got)
	}
}

func TestResumeIDIgnoredWithoutResume(t *testing.T) {
	store, err := cursor.Open(filepath.Join(t.TempDir(), "cursors.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Set("sources", 42); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	sup := newTestSupervisor(t, testConfig(config.Watch{
		Name:  "sources",
		Kind:  "stream",
		Paths: []string{"/srv/src"},
		Since: 7,
	}), store)

	if got := sup.entries[0].resumeID(); got != 7 {
		t.Fatalf("expected cursor ignored without resume, got %d", got)
	}
}

func TestSupervisorRetriesFailedStart(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent", "file.txt")
	sup := newTestSupervisor(t, testConfig(config.Watch{
		Name:       "absent",
		Kind:       "path",
		Paths:      []string{missing},
		Categories: []string{"write"},
	}), nil)

	sup.Start()

	status := sup.Watches()[0]
	if status.State != "retrying" {
		t.Fatalf("expected retrying state, got %q", status.State)
	}
	if status.LastError == "" {
		t.Fatalf("expected a recorded start error")
	}

	sup.Close()
	if got := sup.Watches()[0].State; got != "stopped" {
		t.Fatalf("expected stopped after close, got %q", got)
	}
}
