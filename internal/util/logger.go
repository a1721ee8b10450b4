package util

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Logger = *slog.Logger

func NewLogger() *slog.Logger {
	return NewLoggerWithLevel("info")
}

// NewLoggerWithLevel builds a text logger on stdout. Unknown level names
// fall back to info.
func NewLoggerWithLevel(level string) *slog.Logger {
	return newLogger(os.Stdout, level)
}

// DiscardLogger is used by tests and by components built without a logger.
func DiscardLogger() *slog.Logger {
	return newLogger(io.Discard, "error")
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

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
