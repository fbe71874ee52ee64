// Package logging configures colored structured logging with tint.
//
// Usage:
//
//	logger := logging.Setup("debug")         // also installs slog.Default
//	logger := logging.New(os.Stderr, "warn")  // standalone, e.g. in tests
//
// Levels: debug, info, warn, error (default: info). LOG_LEVEL in the
// environment is honored when no level is configured.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a tint-backed logger writing to w at the given level.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      ParseLevel(level),
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}),
	)
}

// Setup installs a stderr logger as slog's default and returns it.
func Setup(level string) *slog.Logger {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	logger := New(os.Stderr, level)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
