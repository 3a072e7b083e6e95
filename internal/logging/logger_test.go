// v0
// internal/logging/logger_test.go
package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToConsoleAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "room-events.log")
	var console bytes.Buffer
	logger, closer := newWithConsole(&console, path, "info")
	logger.Info("producer_started", "topic", "room-events")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for name, out := range map[string]string{"console": console.String(), "file": string(data)} {
		if !strings.Contains(out, "producer_started") || !strings.Contains(out, "topic=room-events") {
			t.Fatalf("%s output missing record: %q", name, out)
		}
	}
}

func TestNewWithoutPathUsesConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger, closer := newWithConsole(&console, "", "warn")
	defer closer.Close()
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(console.String(), "hidden") {
		t.Fatalf("info record should be filtered at warn level: %q", console.String())
	}
	if !strings.Contains(console.String(), "shown") {
		t.Fatalf("warn record missing: %q", console.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}
