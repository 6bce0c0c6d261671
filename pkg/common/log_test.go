package common

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "", WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below WarnLevel, got %q", buf.String())
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "[WARN] warn message") {
		t.Fatalf("expected warn message in output, got %q", buf.String())
	}
}

func TestLoggerSetLevelAndGetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "", InfoLevel)

	if logger.GetLevel() != InfoLevel {
		t.Fatalf("expected InfoLevel, got %v", logger.GetLevel())
	}

	logger.SetLevel(ErrorLevel)
	if logger.GetLevel() != ErrorLevel {
		t.Fatalf("expected ErrorLevel after SetLevel, got %v", logger.GetLevel())
	}

	logger.Warn("should be suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected warn to be suppressed at ErrorLevel, got %q", buf.String())
	}
}

func TestLoggerSetOutput(t *testing.T) {
	var first, second bytes.Buffer
	logger := NewLogger(&first, "", DebugLevel)

	logger.Info("to first")
	if !strings.Contains(first.String(), "to first") {
		t.Fatalf("expected message in first buffer, got %q", first.String())
	}

	logger.SetOutput(&second)
	logger.Info("to second")
	if strings.Contains(first.String(), "to second") {
		t.Fatalf("did not expect second message in first buffer")
	}
	if !strings.Contains(second.String(), "to second") {
		t.Fatalf("expected message in second buffer, got %q", second.String())
	}
}

func TestLogLevelString(t *testing.T) {
	cases := map[LogLevel]string{
		DebugLevel: "DEBUG",
		InfoLevel:  "INFO",
		WarnLevel:  "WARN",
		ErrorLevel: "ERROR",
		LogLevel(99): "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Fatalf("level %d: expected %q, got %q", level, want, got)
		}
	}
}

func TestLoggerFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "", DebugLevel)

	logger.Error("failed on broker %d after %d attempts", 3, 5)
	if !strings.Contains(buf.String(), "failed on broker 3 after 5 attempts") {
		t.Fatalf("expected formatted message, got %q", buf.String())
	}
}

func TestDefaultLoggerConvenienceFunctions(t *testing.T) {
	var buf bytes.Buffer
	originalLevel := GetLevel()
	defer SetLevel(originalLevel)

	SetOutput(&buf)
	SetLevel(DebugLevel)

	Info("routed through default logger")
	if !strings.Contains(buf.String(), "routed through default logger") {
		t.Fatalf("expected message via default logger, got %q", buf.String())
	}
}
