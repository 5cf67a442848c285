package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nopWriter{})
		SetLevel(LevelInfo)
	})
	return &buf
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestInfoFormatsKeyValues(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(LevelInfo)

	Info("event added", "id", 7, "name", "Dentist visit")

	line := buf.String()
	if !strings.Contains(line, "[INFO] event added") {
		t.Fatalf("line = %q, want level and message", line)
	}
	if !strings.Contains(line, "id=7") {
		t.Fatalf("line = %q, want id=7", line)
	}
	if !strings.Contains(line, `name="Dentist visit"`) {
		t.Fatalf("line = %q, want quoted name", line)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(LevelWarn)

	Debug("hidden")
	Info("hidden too")
	Warn("shown")
	Error("failed", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("output = %q, want debug/info filtered", out)
	}
	if !strings.Contains(out, "[WARN] shown") {
		t.Fatalf("output = %q, want warn line", out)
	}
	if !strings.Contains(out, "err=boom") {
		t.Fatalf("output = %q, want err=boom", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
