package config

import (
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "rotor.db"

	envListenAddr = "ROTOR_LISTEN_ADDR"
	envDBPath     = "ROTOR_DB_PATH"
	envLogLevel   = "ROTOR_LOG_LEVEL"
	envEventLoops = "ROTOR_EVENT_LOOPS"
)

// Config holds daemon configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level
	EventLoops int
}

// Load reads configuration from environment variables with sensible defaults.
// EventLoops defaults to the core count and must be positive.
func Load() Config {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
		EventLoops: runtime.NumCPU(),
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
	if v := os.Getenv(envEventLoops); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EventLoops = n
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
