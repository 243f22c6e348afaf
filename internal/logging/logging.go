// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const (
	EnvLogLevel  = "WORKBENCH_LOG_LEVEL"
	EnvLogFormat = "WORKBENCH_LOG_FORMAT"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config selects the handler of the default logger.
type Config struct {
	Level  slog.Level
	Format string // text or json
}

var configureOnce sync.Once

// Configure installs the default logger once. level and format come from
// workbench.yaml and may be empty; the environment overrides both.
func Configure(profile Profile, level, format string) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		if lvl, ok := ParseLevel(level); ok {
			cfg.Level = lvl
		}
		if f, ok := parseFormat(format); ok {
			cfg.Format = f
		}
		applyEnvOverrides(&cfg)
		slog.SetDefault(New(cfg, os.Stderr))
	})
}

// New builds a logger writing to w.
func New(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: slog.LevelDebug, Format: "text"}
	default:
		return Config{Level: slog.LevelInfo, Format: "text"}
	}
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if f, ok := parseFormat(os.Getenv(EnvLogFormat)); ok {
		cfg.Format = f
	}
}

// ParseLevel maps a level name to a slog level. The second result is false
// for empty or unknown names.
func ParseLevel(raw string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func parseFormat(raw string) (string, bool) {
	switch f := strings.ToLower(strings.TrimSpace(raw)); f {
	case "text", "json":
		return f, true
	}
	return "", false
}
