// Logging helpers shared by all packages.
package utils

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

// InitLogger configures the process-wide logger. Level and format come from
// the environment (VISABUDDY_LOG_LEVEL, VISABUDDY_LOG_FORMAT) so the logger
// is usable before the config file has been loaded.
func InitLogger() {
	loggerOnce.Do(func() {
		logger = newLogger(os.Getenv("VISABUDDY_LOG_LEVEL"), os.Getenv("VISABUDDY_LOG_FORMAT"))
		slog.SetDefault(logger)
	})
}

// GetLogger returns the process-wide logger, initializing it with defaults if
// InitLogger has not been called yet.
func GetLogger() *slog.Logger {
	InitLogger()
	return logger
}

func newLogger(level, format string) *slog.Logger {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
