package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns the process logger: JSON in production so log shippers can parse
// it, human-readable text everywhere else.
func New(production bool, level string) *slog.Logger {
	return newWithWriter(os.Stdout, production, level)
}

func newWithWriter(w io.Writer, production bool, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if production {
		return slog.New(slog.NewJSONHandler(w, opts)).With("service", "fieldops")
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
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

// Discard is a logger for tests and optional collaborators.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
