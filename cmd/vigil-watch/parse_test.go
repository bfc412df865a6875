package main

import (
	"errors"
	"flag"
	"io"
	"strings"
	"testing"

	"vigil/internal/watcher"
)

func TestParseArgsStreamDefaults(t *testing.T) {
	cfg, err := parseArgs([]string{"/srv/src"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Mode != modeStream {
		t.Fatalf("expected stream mode default, got %q", cfg.Mode)
	}
	if len(cfg.Paths) != 1 || cfg.Paths[0] != "/srv/src" {
		t.Fatalf("unexpected paths %v", cfg.Paths)
	}
	if cfg.Flags != watcher.FlagNone {
		t.Fatalf("expected no flag filter by default, got %s", cfg.Flags)
	}
	if cfg.Latency != defaultLatency {
		t.Fatalf("unexpected latency %s", cfg.Latency)
	}
}

func TestParseArgsPathMode(t *testing.T) {
	cfg, err := parseArgs([]string{"--mode", "path", "--categories", "write,delete", "/etc/hosts"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Mode != modePath {
		t.Fatalf("expected path mode, got %q", cfg.Mode)
	}
	want := watcher.CategoryWrite | watcher.CategoryDelete
	if cfg.Categories != want {
		t.Fatalf("unexpected categories %s", cfg.Categories)
	}
}

func TestParseArgsPathModeDefaultCategories(t *testing.T) {
	cfg, err := parseArgs([]string{"--mode", "path", "/etc/hosts"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := watcher.CategoryCreate | watcher.CategoryWrite | watcher.CategoryDelete | watcher.CategoryRename
	if cfg.Categories != want {
		t.Fatalf("unexpected default categories %s", cfg.Categories)
	}
}

func TestParseArgsStreamFlags(t *testing.T) {
	cfg, err := parseArgs([]string{"--flags", "created, modified", "--recursive", "--since", "9", "/srv"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := watcher.FlagCreated | watcher.FlagModified
	if cfg.Flags != want {
		t.Fatalf("unexpected flags %s", cfg.Flags)
	}
	if !cfg.Recursive || cfg.Since != 9 {
		t.Fatalf("unexpected stream options %+v", cfg)
	}
}

func TestParseArgsIgnoreGlobs(t *testing.T) {
	cfg, err := parseArgs([]string{"--ignore", "*.tmp, **/.git/**", "/srv"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.IgnoreText) != 2 {
		t.Fatalf("unexpected ignore list %v", cfg.IgnoreText)
	}
	if !cfg.Ignore.Match("/srv/a.tmp") {
		t.Fatalf("expected ignore set to match *.tmp")
	}
	if cfg.Ignore.Match("/srv/a.txt") {
		t.Fatalf("expected ignore set to pass .txt")
	}
}

func TestParseArgsRejections(t *testing.T) {
	cases := [][]string{
		{},
		{"--mode", "batch", "/srv"},
		{"--mode", "path", "--flags", "created", "/srv"},
		{"--mode", "path", "--recursive", "/srv"},
		{"--mode", "path", "--since", "4", "/srv"},
		{"--categories", "write", "/srv"},
		{"--mode", "path", "--categories", "nonsense", "/srv"},
		{"--flags", "nonsense", "/srv"},
		{"--ignore", "[broken", "/srv"},
		{"--latency", "-5ms", "/srv"},
		{"--timeout", "-1s", "/srv"},
	}
	for _, args := range cases {
		if _, err := parseArgs(args, io.Discard); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestParseArgsHelp(t *testing.T) {
	var errOut strings.Builder
	_, err := parseArgs([]string{"--help"}, &errOut)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
	if !strings.Contains(errOut.String(), "Usage: vigil-watch") {
		t.Fatalf("expected usage text, got %q", errOut.String())
	}
	if !strings.Contains(errOut.String(), "Exit codes:") {
		t.Fatalf("expected exit code listing in help")
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(" a, b ,,c, "); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected split %v", got)
	}
	if got := splitList("  "); got != nil {
		t.Fatalf("expected nil for blank input, got %v", got)
	}
}

func TestParseArgsVersion(t *testing.T) {
	cfg, err := parseArgs([]string{"--version"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.ShowVersion {
		t.Fatalf("expected version request")
	}
}
