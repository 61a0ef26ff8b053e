package logging

import (
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSetupWritesDatedFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := Setup("debug", dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("onboarding started", "employee_id", "e1")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "staffctl-") {
		t.Fatalf("expected one staffctl log file, got %v", entries)
	}
}

func TestSetupStdoutOnly(t *testing.T) {
	logger, err := Setup("info", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected a logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
