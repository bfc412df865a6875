package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"vigil/internal/cli"
	"vigil/internal/filter"
	"vigil/internal/watcher"
)

const (
	modePath   = "path"
	modeStream = "stream"

	defaultPathCategories = "create,write,delete,rename"
	defaultLatency        = 100 * time.Millisecond
)

type Config struct {
	Mode        string
	Paths       []string
	Categories  watcher.Category
	Flags       watcher.Flags
	Latency     time.Duration
	Recursive   bool
	Since       uint64
	Ignore      *filter.Set
	IgnoreText  []string
	JSON        bool
	Count       uint64
	Timeout     time.Duration
	ShowVersion bool
}

func parseArgs(args []string, errOut io.Writer) (Config, error) {
	fs := flag.NewFlagSet("vigil-watch", flag.ContinueOnError)
	fs.SetOutput(errOut)
	modeFlag := fs.String("mode", modeStream, "Watch mode: path or stream")
	categoriesFlag := fs.String("categories", "", "Comma-separated categories for path mode (default: create,write,delete,rename)")
	flagsFlag := fs.String("flags", "", "Comma-separated flags for stream mode (default: all)")
	latencyFlag := fs.Duration("latency", defaultLatency, "Stream batching window")
	recursiveFlag := fs.Bool("recursive", false, "Watch stream roots recursively")
	sinceFlag := fs.Uint64("since", 0, "Resume stream ids after this id")
	ignoreFlag := fs.String("ignore", "", "Comma-separated globs for paths to skip")
	jsonFlag := fs.Bool("json", false, "Print events as JSON lines")
	countFlag := fs.Uint64("count", 0, "Exit after this many events (0: run until interrupted)")
	timeoutFlag := fs.Duration("timeout", 0, "Exit after this duration (0: run until interrupted)")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show this help message", "Print version and exit")
	fs.Usage = func() {
		printWatchHelp(fs.Output())
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if helpVersion.Help {
		fs.Usage()
		return Config{}, flag.ErrHelp
	}
	if helpVersion.Version {
		return Config{ShowVersion: true}, nil
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return Config{}, fmt.Errorf("at least one path is required")
	}

	mode := strings.ToLower(strings.TrimSpace(*modeFlag))
	switch mode {
	case modePath, modeStream:
	default:
		return Config{}, fmt.Errorf("unknown mode %q", *modeFlag)
	}

	cfg := Config{
		Mode:      mode,
		Paths:     fs.Args(),
		Latency:   *latencyFlag,
		Recursive: *recursiveFlag,
		Since:     *sinceFlag,
		JSON:      *jsonFlag,
		Count:     *countFlag,
		Timeout:   *timeoutFlag,
	}

	switch mode {
	case modePath:
		if *flagsFlag != "" {
			return Config{}, fmt.Errorf("--flags applies to stream mode")
		}
		if *recursiveFlag {
			return Config{}, fmt.Errorf("--recursive applies to stream mode")
		}
		if *sinceFlag != 0 {
			return Config{}, fmt.Errorf("--since applies to stream mode")
		}
		names := *categoriesFlag
		if strings.TrimSpace(names) == "" {
			names = defaultPathCategories
		}
		categories, err := watcher.ParseCategories(splitList(names))
		if err != nil {
			return Config{}, err
		}
		cfg.Categories = categories
	case modeStream:
		if *categoriesFlag != "" {
			return Config{}, fmt.Errorf("--categories applies to path mode")
		}
		flags, err := watcher.ParseFlags(splitList(*flagsFlag))
		if err != nil {
			return Config{}, err
		}
		cfg.Flags = flags
	}

	if *latencyFlag < 0 {
		return Config{}, fmt.Errorf("negative latency")
	}
	if *timeoutFlag < 0 {
		return Config{}, fmt.Errorf("negative timeout")
	}

	cfg.IgnoreText = splitList(*ignoreFlag)
	ignore, err := filter.New(cfg.IgnoreText)
	if err != nil {
		return Config{}, err
	}
	cfg.Ignore = ignore

	return cfg, nil
}

// splitList turns a comma-separated flag value into trimmed entries,
// dropping empties so trailing commas parse cleanly.
func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	entries := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		entries = append(entries, trimmed)
	}
	return entries
}

func printWatchHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: vigil-watch [options] <path> [path...]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Watch filesystem paths and print decoded change events")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	writeWatchOption(out, "--mode MODE", "path or stream (default: stream)")
	writeWatchOption(out, "--categories LIST", "Comma-separated categories for path mode (default: create,write,delete,rename)")
	writeWatchOption(out, "--flags LIST", "Comma-separated flags for stream mode (default: all)")
	writeWatchOption(out, "--latency DURATION", "Stream batching window (default: 100ms)")
	writeWatchOption(out, "--recursive", "Watch stream roots recursively")
	writeWatchOption(out, "--since ID", "Resume stream ids after ID")
	writeWatchOption(out, "--ignore LIST", "Comma-separated globs for paths to skip")
	writeWatchOption(out, "--json", "Print events as JSON lines")
	writeWatchOption(out, "--count N", "Exit after N events")
	writeWatchOption(out, "--timeout DURATION", "Exit after DURATION")
	writeWatchOption(out, "--help", "Show this help message")
	writeWatchOption(out, "--version", "Print version and exit")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Examples:")
	fmt.Fprintln(out, "  vigil-watch --recursive /srv/src")
	fmt.Fprintln(out, "  vigil-watch --mode path --categories write,delete /etc/hosts")
	fmt.Fprintln(out, "  vigil-watch --json --ignore '*.tmp,**/.git/**' /srv/src")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Exit codes:")
	fmt.Fprintln(out, "  0  Success")
	fmt.Fprintln(out, "  1  Usage error")
	fmt.Fprintln(out, "  2  Target missing")
	fmt.Fprintln(out, "  3  Parent directory missing")
	fmt.Fprintln(out, "  4  Platform not supported")
	fmt.Fprintln(out, "  5  Watch failed")
}

func writeWatchOption(out io.Writer, name, desc string) {
	fmt.Fprintf(out, "  %-20s %s\n", name, desc)
}
