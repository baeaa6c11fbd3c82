/*
Package config loads server settings from an optional .env file and the
process environment.

SOURCES (later wins):
 1. Defaults
 2. .env file (missing file is not an error)
 3. Environment variables
 4. Command-line flags, applied by package cli after Load

VARIABLES:

	QURBAN_PORT          HTTP port                      (8080)
	QURBAN_DB            SQLite path or ":memory:"      (./data/qurban.db)
	QURBAN_LOG_LEVEL     debug | info | warn | error    (info)
	QURBAN_CORS_ORIGINS  comma-separated origins        (http://localhost:*)
	QURBAN_EVENT_BUFFER  per-subscriber event buffer    (256)
	QURBAN_MONITOR_EVERY discrepancy monitor interval   (5m, 0 disables)
	QURBAN_STALE_AFTER   age before an open discrepancy
	                     or SENT shipment is reported   (30m)
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvPort        = "QURBAN_PORT"
	EnvDB          = "QURBAN_DB"
	EnvLogLevel    = "QURBAN_LOG_LEVEL"
	EnvCORSOrigins = "QURBAN_CORS_ORIGINS"
	EnvEventBuffer = "QURBAN_EVENT_BUFFER"
	EnvMonitor     = "QURBAN_MONITOR_EVERY"
	EnvStaleAfter  = "QURBAN_STALE_AFTER"
)

type Config struct {
	Port         int
	DBPath       string
	LogLevel     string
	CORSOrigins  []string
	EventBuffer  int
	MonitorEvery time.Duration
	StaleAfter   time.Duration
}

func Default() Config {
	return Config{
		Port:         8080,
		DBPath:       "./data/qurban.db",
		LogLevel:     "info",
		CORSOrigins:  []string{"http://localhost:*", "http://127.0.0.1:*"},
		EventBuffer:  256,
		MonitorEvery: 5 * time.Minute,
		StaleAfter:   30 * time.Minute,
	}
}

// Load reads envFile (if it exists) into the environment without
// overriding variables already set, then builds a validated Config.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from defaults and environment variables.
func FromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %q is not a number", EnvPort, v)
		}
		cfg.Port = port
	}
	if v := os.Getenv(EnvDB); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(EnvCORSOrigins); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := os.Getenv(EnvEventBuffer); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %q is not a number", EnvEventBuffer, v)
		}
		cfg.EventBuffer = n
	}
	if v := os.Getenv(EnvMonitor); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvMonitor, err)
		}
		cfg.MonitorEvery = d
	}
	if v := os.Getenv(EnvStaleAfter); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvStaleAfter, err)
		}
		cfg.StaleAfter = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("database path is required")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("event buffer must not be negative, got %d", c.EventBuffer)
	}
	if c.MonitorEvery < 0 {
		return fmt.Errorf("monitor interval must not be negative, got %s", c.MonitorEvery)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale threshold must be positive, got %s", c.StaleAfter)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
