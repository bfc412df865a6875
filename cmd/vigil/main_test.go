package main

import (
	"errors"
	"flag"
	"io"
	"strings"
	"testing"
)

func TestParseDaemonArgsConfigFlag(t *testing.T) {
	opts, err := parseDaemonArgs([]string{"--config", "/etc/vigil.yaml"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.ConfigPath != "/etc/vigil.yaml" {
		t.Fatalf("unexpected config path %q", opts.ConfigPath)
	}
}

func TestParseDaemonArgsConfigEnvFallback(t *testing.T) {
	t.Setenv("VIGIL_CONFIG", "/srv/vigil.yaml")
	opts, err := parseDaemonArgs(nil, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.ConfigPath != "/srv/vigil.yaml" {
		t.Fatalf("expected env fallback, got %q", opts.ConfigPath)
	}
}

func TestParseDaemonArgsFlagWinsOverEnv(t *testing.T) {
	t.Setenv("VIGIL_CONFIG", "/srv/vigil.yaml")
	opts, err := parseDaemonArgs([]string{"--config", "/etc/vigil.yaml"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.ConfigPath != "/etc/vigil.yaml" {
		t.Fatalf("expected flag to win, got %q", opts.ConfigPath)
	}
}

func TestParseDaemonArgsHelp(t *testing.T) {
	var errOut strings.Builder
	_, err := parseDaemonArgs([]string{"--help"}, &errOut)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
	if !strings.Contains(errOut.String(), "Usage: vigil") {
		t.Fatalf("expected usage text, got %q", errOut.String())
	}
}

func TestParseDaemonArgsRejectsPositional(t *testing.T) {
	_, err := parseDaemonArgs([]string{"stray"}, io.Discard)
	if err == nil {
		t.Fatalf("expected error for positional argument")
	}
}

func TestRunVersion(t *testing.T) {
	var out strings.Builder
	code := run([]string{"--version"}, &out, io.Discard)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.HasPrefix(out.String(), "vigil") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestRunBadConfigPath(t *testing.T) {
	var errOut strings.Builder
	code := run([]string{"--config", "/does/not/exist.yaml"}, io.Discard, &errOut)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if errOut.Len() == 0 {
		t.Fatalf("expected an error message")
	}
}
