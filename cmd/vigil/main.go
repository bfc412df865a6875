package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vigil/internal/api"
	"vigil/internal/cli"
	"vigil/internal/config"
	"vigil/internal/cursor"
	"vigil/internal/event"
	"vigil/internal/logging"
	"vigil/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type daemonOptions struct {
	ConfigPath  string
	ShowVersion bool
}

func parseDaemonArgs(args []string, errOut io.Writer) (daemonOptions, error) {
	fs := flag.NewFlagSet("vigil", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configFlag := fs.String("config", "", "Config file path (env: VIGIL_CONFIG, default: none)")
	helpVersion := cli.AddHelpVersionFlags(fs, "Show this help message", "Print version and exit")
	fs.Usage = func() {
		printDaemonHelp(fs.Output())
	}

	if err := fs.Parse(args); err != nil {
		return daemonOptions{}, err
	}

	if helpVersion.Help {
		fs.Usage()
		return daemonOptions{}, flag.ErrHelp
	}
	if helpVersion.Version {
		return daemonOptions{ShowVersion: true}, nil
	}
	if fs.NArg() != 0 {
		fs.Usage()
		return daemonOptions{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	configPath := strings.TrimSpace(*configFlag)
	if configPath == "" {
		configPath = strings.TrimSpace(os.Getenv("VIGIL_CONFIG"))
	}
	return daemonOptions{ConfigPath: configPath}, nil
}

func printDaemonHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage: vigil [options]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Filesystem change-notification daemon: watches declared paths and")
	fmt.Fprintln(out, "streams, publishes decoded events over HTTP and websockets")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	writeDaemonOption(out, "--config PATH", "Config file path (env: VIGIL_CONFIG, default: none)")
	writeDaemonOption(out, "--help", "Show this help message")
	writeDaemonOption(out, "--version", "Print version and exit")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Environment:")
	writeDaemonOption(out, "VIGIL_LISTEN", "Listen address (default: 127.0.0.1:7411)")
	writeDaemonOption(out, "VIGIL_TOKEN", "API auth token (default: none)")
	writeDaemonOption(out, "VIGIL_LOG_LEVEL", "Log level: debug, info, warning, error")
	writeDaemonOption(out, "VIGIL_HISTORY", "Recent-event window size")
	writeDaemonOption(out, "VIGIL_DB_PATH", "Cursor database path")
	writeDaemonOption(out, "VIGIL_LATENCY_MS", "Default stream batching window")
}

func writeDaemonOption(out io.Writer, name, desc string) {
	fmt.Fprintf(out, "  %-18s %s\n", name, desc)
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	opts, err := parseDaemonArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if opts.ShowVersion {
		cli.PrintVersionLine(out, "vigil")
		return 0
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 1
	}

	logBuffer := logging.NewLogBuffer(logging.DefaultBufferSize)
	logger := logging.NewLogger(logBuffer, cfg.Level())

	return runDaemon(cfg, logger)
}

func runDaemon(cfg config.Config, logger *logging.Logger) int {
	logger.Info("vigil starting", map[string]string{
		"listen":  cfg.Listen,
		"watches": strconv.Itoa(len(cfg.Watches)),
	})

	var store *cursor.Store
	if cfg.DatabasePath != "" {
		opened, err := cursor.Open(cfg.DatabasePath)
		if err != nil {
			logger.Error("cursor store open failed", map[string]string{
				"path":  cfg.DatabasePath,
				"error": err.Error(),
			})
			return 1
		}
		store = opened
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	bus := event.NewBus[event.Event](shutdownCtx, event.BusOptions{
		Name:        "events",
		HistorySize: cfg.HistorySize,
		Registry:    metrics.Default,
		Logger:      logger,
	})

	sup, err := newSupervisor(cfg, bus, logger, metrics.Default, store)
	if err != nil {
		logger.Error("watch manifests invalid", map[string]string{
			"error": err.Error(),
		})
		bus.Close()
		_ = store.Close()
		return 1
	}
	sup.Start()

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Deps{
		Inventory:      sup,
		Bus:            bus,
		Registry:       metrics.Default,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
		StartedAt:      time.Now(),
	})
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	stopSignals := watchShutdownSignals(logger, shutdownCancel, signalCh)
	defer stopSignals()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	logger.Info("vigil listening", map[string]string{
		"addr": cfg.Listen,
	})

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", map[string]string{
				"error": err.Error(),
			})
			exitCode = 1
		}
		shutdownCancel()
	case <-shutdownCtx.Done():
	}

	coordinator := newShutdownCoordinator(logger)
	coordinator.Add("http", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})
	coordinator.Add("watches", func(context.Context) error {
		sup.Close()
		return nil
	})
	coordinator.Add("bus", func(context.Context) error {
		bus.Close()
		return nil
	})
	coordinator.Add("cursors", func(context.Context) error {
		return store.Close()
	})

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := coordinator.Run(drainCtx); err != nil {
		logger.Warn("shutdown finished with errors", map[string]string{
			"error": err.Error(),
		})
	}
	logger.Info("vigil stopped", nil)
	return exitCode
}
