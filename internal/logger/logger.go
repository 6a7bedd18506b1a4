// Package logger provides structured logging setup using slog.
package logger

import (
	"log/slog"
	"os"
)

// New creates the CLI logger: a leveled text handler writing to stderr, so
// stdout stays free for command results.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewJSON creates a structured JSON logger for non-interactive use.
func NewJSON(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// Level maps the CLI verbosity flags to a slog level: quiet mutes anything
// under WARN, one -v (or more) enables DEBUG.
func Level(verbose int, quiet bool) slog.Level {
	switch {
	case quiet:
		return slog.LevelWarn
	case verbose > 0:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
