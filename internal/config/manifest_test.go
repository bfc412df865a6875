package config

import (
	"testing"
	"time"

	"vigil/internal/watcher"
)

func validPathWatch() Watch {
	return Watch{
		Name:       "inbox",
		Kind:       KindPath,
		Paths:      []string{"/srv/inbox"},
		Categories: []string{"Create", "Write", "DirChanged"},
	}
}

func validStreamWatch() Watch {
	return Watch{
		Name:      "source",
		Kind:      KindStream,
		Paths:     []string{"/srv/src", "/srv/docs"},
		Flags:     []string{"Created", "Removed", "Modified"},
		LatencyMS: 250,
		Recursive: true,
		Since:     40,
		Ignore:    []string{"**/.git/**", "*.tmp"},
		Resume:    true,
	}
}

func TestWatchValidate(t *testing.T) {
	if err := validPathWatch().Validate(); err != nil {
		t.Fatalf("expected path watch to validate, got %v", err)
	}
	if err := validStreamWatch().Validate(); err != nil {
		t.Fatalf("expected stream watch to validate, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Watch)
		stream bool
	}{
		{name: "empty name", mutate: func(w *Watch) { w.Name = " " }},
		{name: "unknown kind", mutate: func(w *Watch) { w.Kind = "poll" }},
		{name: "no paths", mutate: func(w *Watch) { w.Paths = nil }},
		{name: "blank path", mutate: func(w *Watch) { w.Paths = []string{" "} }},
		{name: "no categories", mutate: func(w *Watch) { w.Categories = nil }},
		{name: "unknown category", mutate: func(w *Watch) { w.Categories = []string{"Create", "Explode"} }},
		{name: "flags on path watch", mutate: func(w *Watch) { w.Flags = []string{"Modified"} }},
		{name: "recursive path watch", mutate: func(w *Watch) { w.Recursive = true }},
		{name: "resume on path watch", mutate: func(w *Watch) { w.Resume = true }},
		{name: "since on path watch", mutate: func(w *Watch) { w.Since = 7 }},
		{name: "negative latency", mutate: func(w *Watch) { w.LatencyMS = -1 }},
		{name: "categories on stream watch", stream: true, mutate: func(w *Watch) { w.Categories = []string{"Write"} }},
		{name: "unknown flag", stream: true, mutate: func(w *Watch) { w.Flags = []string{"Explode"} }},
	}

	for _, testCase := range cases {
		watch := validPathWatch()
		if testCase.stream {
			watch = validStreamWatch()
		}
		testCase.mutate(&watch)
		if err := watch.Validate(); err == nil {
			t.Fatalf("%s: expected a validation error", testCase.name)
		}
	}
}

func TestWatchKindIsNormalized(t *testing.T) {
	watch := validStreamWatch()
	watch.Kind = " Stream "
	if watch.NormalizedKind() != KindStream {
		t.Fatalf("expected normalized kind %q, got %q", KindStream, watch.NormalizedKind())
	}
	if err := watch.Validate(); err != nil {
		t.Fatalf("expected mixed-case kind to validate, got %v", err)
	}
}

func TestWatchSetBuilders(t *testing.T) {
	categories, err := validPathWatch().CategorySet()
	if err != nil {
		t.Fatalf("category set: %v", err)
	}
	expected := watcher.CategoryCreate | watcher.CategoryWrite | watcher.CategoryDirChanged
	if categories != expected {
		t.Fatalf("expected %s, got %s", expected, categories)
	}

	flags, err := validStreamWatch().FlagSet()
	if err != nil {
		t.Fatalf("flag set: %v", err)
	}
	if flags != watcher.FlagCreated|watcher.FlagRemoved|watcher.FlagModified {
		t.Fatalf("unexpected flag set %s", flags)
	}

	empty := validStreamWatch()
	empty.Flags = nil
	unfiltered, err := empty.FlagSet()
	if err != nil || unfiltered != watcher.FlagNone {
		t.Fatalf("expected FlagNone for an empty declaration, got %s (%v)", unfiltered, err)
	}
}

func TestWatchLatencyFallback(t *testing.T) {
	watch := validStreamWatch()
	if watch.Latency(time.Second) != 250*time.Millisecond {
		t.Fatalf("expected declared latency to win")
	}

	watch.LatencyMS = 0
	if watch.Latency(time.Second) != time.Second {
		t.Fatalf("expected fallback latency when unset")
	}
}
