package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "tremor.db"
	defaultEngineURL    = "http://localhost:8800"
	defaultPollInterval = time.Second
	defaultPollTimeout  = 2 * time.Hour

	envListenAddr   = "TREMOR_LISTEN_ADDR"
	envDBPath       = "TREMOR_DB_PATH"
	envLogLevel     = "TREMOR_LOG_LEVEL"
	envEngineURL    = "TREMOR_ENGINE_URL"
	envPollInterval = "TREMOR_POLL_INTERVAL"
	envPollTimeout  = "TREMOR_POLL_TIMEOUT"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	DBPath       string
	LogLevel     slog.Level
	EngineURL    string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		DBPath:       defaultDBPath,
		LogLevel:     slog.LevelInfo,
		EngineURL:    defaultEngineURL,
		PollInterval: defaultPollInterval,
		PollTimeout:  defaultPollTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envEngineURL); v != "" {
		cfg.EngineURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv(envPollInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv(envPollTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollTimeout = d
		}
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
