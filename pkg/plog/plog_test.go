package plog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tc := range testCases {
		if got := LevelFromString(tc.input); got != tc.expected {
			t.Errorf("LevelFromString(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}

func TestSetOutputCapturesAllLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(slog.LevelInfo)

	Info("info message", "key", "value")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	for _, want := range []string{"info message", "warn message", "error message", "key=value"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestSetLevelSuppressesDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	SetLevel(slog.LevelInfo)
	Debug("hidden debug")
	if strings.Contains(buf.String(), "hidden debug") {
		t.Error("debug message should be suppressed at info level")
	}

	SetLevel(slog.LevelDebug)
	Debug("visible debug")
	if !strings.Contains(buf.String(), "visible debug") {
		t.Error("debug message should be visible at debug level")
	}
}

func TestQuietModeSuppressesInfo(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(slog.LevelInfo)

	SetQuiet(true)
	defer SetQuiet(false)

	if !IsQuiet() {
		t.Fatal("expected quiet mode to be enabled")
	}

	Info("quiet info")
	if strings.Contains(buf.String(), "quiet info") {
		t.Error("info message should be suppressed in quiet mode")
	}

	Warn("loud warn")
	if !strings.Contains(buf.String(), "loud warn") {
		t.Error("warn message should still be written in quiet mode")
	}
}
