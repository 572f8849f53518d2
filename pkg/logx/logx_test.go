package logx

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

// capture points a logger at a buffer so tests can inspect its output.
func capture(l *Logger) *bytes.Buffer {
	var buf bytes.Buffer
	l.logger = log.New(&buf, "", 0)
	return &buf
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("session")

	if logger.Component() != "session" {
		t.Errorf("Expected component 'session', got '%s'", logger.Component())
	}
}

func TestLogFormat(t *testing.T) {
	logger := NewLogger("workflow")
	buf := capture(logger)

	logger.Info("Stage transition: %s -> %s", "CHAT", "PERSONA_SELECTION")
	output := buf.String()

	if !strings.Contains(output, "[workflow]") {
		t.Errorf("Expected component tag in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected log level in output, got: %s", output)
	}
	if !strings.Contains(output, "Stage transition: CHAT -> PERSONA_SELECTION") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}
	// ISO timestamp, basic check.
	if !strings.Contains(output, "T") || !strings.Contains(output, "Z") {
		t.Errorf("Expected ISO timestamp in output, got: %s", output)
	}
}

func TestDebugGating(t *testing.T) {
	logger := NewLogger("test")
	buf := capture(logger)

	SetDebug(false)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected no output with debug disabled, got: %s", buf.String())
	}

	SetDebug(true)
	defer SetDebug(false)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("Expected debug output with debug enabled, got: %s", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	logger := NewLogger("parent")
	buf := capture(logger)

	child := logger.WithComponent("child")
	child.Warn("warning from child")

	output := buf.String()
	if !strings.Contains(output, "[child]") {
		t.Errorf("Expected child component tag, got: %s", output)
	}
	if !strings.Contains(output, "WARN") {
		t.Errorf("Expected WARN level, got: %s", output)
	}
}

func TestErrorf(t *testing.T) {
	err := Errorf("request %d failed: %w", 3, errors.New("timeout"))
	if err == nil {
		t.Fatal("Expected an error")
	}
	if err.Error() != "request 3 failed: timeout" {
		t.Errorf("Unexpected error message: %s", err.Error())
	}
	if !errors.Is(err, errors.Unwrap(err)) {
		t.Error("Expected wrapped cause to be preserved")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrapping nil should return nil")
	}

	cause := errors.New("disk full")
	err := Wrap(cause, "open event log")
	if err.Error() != "open event log: disk full" {
		t.Errorf("Unexpected error message: %s", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected wrapped cause to be preserved")
	}
}
