// v1
// internal/logging/logger.go
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates a text logger writing to stdout and to the file at path.
// If path is empty or cannot be opened it falls back to stdout only. The
// returned closer releases the file.
func New(path, level string) (*slog.Logger, io.Closer) {
	return newWithConsole(os.Stdout, path, level)
}

func newWithConsole(console io.Writer, path, level string) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.TrimSpace(path) == "" {
		return slog.New(slog.NewTextHandler(console, opts)), nopCloser{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l := slog.New(slog.NewTextHandler(console, opts))
		l.Error("log_dir_create_failed", "path", path, "err", err)
		return l, nopCloser{}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l := slog.New(slog.NewTextHandler(console, opts))
		l.Error("log_file_open_failed", "path", path, "err", err)
		return l, nopCloser{}
	}
	l := slog.New(slog.NewTextHandler(io.MultiWriter(console, f), opts))
	l.Info("logger_initialized", "file", path)
	return l, f
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
