// Package config loads the daemon configuration: defaults, then an
// optional YAML file, then VIGIL_* environment overrides. Watch
// declarations live inline in the same file.
package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"vigil/internal/logging"
)

const (
	defaultListen      = "127.0.0.1:7411"
	defaultLogLevel    = "info"
	defaultHistorySize = 512
	defaultLatencyMS   = 100
)

// Config is the merged daemon configuration. Sources records where
// each top-level value came from.
type Config struct {
	Listen         string   `yaml:"listen"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
	HistorySize    int      `yaml:"history_size"`
	DatabasePath   string   `yaml:"database"`
	LatencyMS      int64    `yaml:"latency_ms"`
	Watches        []Watch  `yaml:"watches"`

	Sources map[string]configSource `yaml:"-"`
}

type configSource string

const (
	sourceDefault configSource = "default"
	sourceFile    configSource = "file"
	sourceEnv     configSource = "env"
)

// Default returns the built-in configuration: local-only listener, no
// auth token, no cursor database, no watches.
func Default() Config {
	return Config{
		Listen:      defaultListen,
		LogLevel:    defaultLogLevel,
		HistorySize: defaultHistorySize,
		LatencyMS:   defaultLatencyMS,
	}
}

// Load builds the daemon configuration. An empty path skips the file
// layer. File values override defaults, environment values override
// both. Environment values that fail to parse are ignored so a stale
// variable cannot keep the daemon from starting; file values are
// validated strictly.
func Load(path string) (Config, error) {
	cfg := Default()
	cfg.Sources = map[string]configSource{
		"listen":       sourceDefault,
		"auth_token":   sourceDefault,
		"log_level":    sourceDefault,
		"history_size": sourceDefault,
		"database":     sourceDefault,
		"latency_ms":   sourceDefault,
	}

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := applyFile(&cfg, payload); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvironment(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, payload []byte) error {
	var file Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	if trimmed := strings.TrimSpace(file.Listen); trimmed != "" {
		cfg.Listen = trimmed
		cfg.Sources["listen"] = sourceFile
	}
	if file.AuthToken != "" {
		cfg.AuthToken = file.AuthToken
		cfg.Sources["auth_token"] = sourceFile
	}
	if len(file.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = file.AllowedOrigins
	}
	if trimmed := strings.TrimSpace(file.LogLevel); trimmed != "" {
		cfg.LogLevel = trimmed
		cfg.Sources["log_level"] = sourceFile
	}
	if file.HistorySize != 0 {
		cfg.HistorySize = file.HistorySize
		cfg.Sources["history_size"] = sourceFile
	}
	if trimmed := strings.TrimSpace(file.DatabasePath); trimmed != "" {
		cfg.DatabasePath = trimmed
		cfg.Sources["database"] = sourceFile
	}
	if file.LatencyMS != 0 {
		cfg.LatencyMS = file.LatencyMS
		cfg.Sources["latency_ms"] = sourceFile
	}
	if len(file.Watches) > 0 {
		cfg.Watches = file.Watches
	}
	return nil
}

func applyEnvironment(cfg *Config) {
	if rawListen := strings.TrimSpace(os.Getenv("VIGIL_LISTEN")); rawListen != "" {
		cfg.Listen = rawListen
		cfg.Sources["listen"] = sourceEnv
	}
	if rawToken := os.Getenv("VIGIL_TOKEN"); rawToken != "" {
		cfg.AuthToken = rawToken
		cfg.Sources["auth_token"] = sourceEnv
	}
	if rawLevel := strings.TrimSpace(os.Getenv("VIGIL_LOG_LEVEL")); rawLevel != "" {
		if _, ok := logging.ParseLevel(rawLevel); ok {
			cfg.LogLevel = rawLevel
			cfg.Sources["log_level"] = sourceEnv
		}
	}
	if rawHistory := os.Getenv("VIGIL_HISTORY"); rawHistory != "" {
		if parsed, err := strconv.Atoi(rawHistory); err == nil && parsed > 0 {
			cfg.HistorySize = parsed
			cfg.Sources["history_size"] = sourceEnv
		}
	}
	if rawDatabase := strings.TrimSpace(os.Getenv("VIGIL_DB_PATH")); rawDatabase != "" {
		cfg.DatabasePath = rawDatabase
		cfg.Sources["database"] = sourceEnv
	}
	if rawLatency := os.Getenv("VIGIL_LATENCY_MS"); rawLatency != "" {
		if parsed, err := strconv.ParseInt(rawLatency, 10, 64); err == nil && parsed > 0 {
			cfg.LatencyMS = parsed
			cfg.Sources["latency_ms"] = sourceEnv
		}
	}
}

// Validate checks the merged configuration and every watch it
// declares.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("invalid listen: address cannot be empty")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen %q: %v", c.Listen, err)
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("invalid history_size: must be > 0")
	}
	if c.LatencyMS <= 0 {
		return fmt.Errorf("invalid latency_ms: must be > 0")
	}

	seen := make(map[string]bool, len(c.Watches))
	for _, watch := range c.Watches {
		if err := watch.Validate(); err != nil {
			return err
		}
		name := strings.TrimSpace(watch.Name)
		if seen[name] {
			return fmt.Errorf("duplicate watch name %q", name)
		}
		seen[name] = true
	}
	return nil
}

// Level resolves the configured log level. Validate has already
// checked it, so the fallback only covers zero-value configs.
func (c Config) Level() logging.Level {
	if level, ok := logging.ParseLevel(c.LogLevel); ok {
		return level
	}
	return logging.LevelInfo
}
