package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("Level.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warn", WarnLevel},
		{"WARNING", WarnLevel},
		{"error", ErrorLevel},
		{"invalid", InfoLevel}, // Default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestJSONLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	logger.Info("user joined", UserID(42), Room("demo"))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log output: %v", err)
	}

	if entry.Level != "INFO" {
		t.Errorf("Expected level INFO, got %s", entry.Level)
	}
	if entry.Message != "user joined" {
		t.Errorf("Expected message 'user joined', got %q", entry.Message)
	}
	if entry.Fields["user_id"] != float64(42) {
		t.Errorf("Expected user_id field 42, got %v", entry.Fields["user_id"])
	}
	if entry.Fields["room"] != "demo" {
		t.Errorf("Expected room field 'demo', got %v", entry.Fields["room"])
	}
}

func TestJSONLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Error("Log output contains messages below the configured level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("Expected warn message in output")
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	child := logger.With(Node("node-1"), Component("cluster"))
	child.Info("heartbeat published")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log output: %v", err)
	}

	if entry.Fields["node"] != "node-1" {
		t.Errorf("Expected pre-set node field, got %v", entry.Fields["node"])
	}
	if entry.Fields["component"] != "cluster" {
		t.Errorf("Expected pre-set component field, got %v", entry.Fields["component"])
	}
}

func TestErrorField(t *testing.T) {
	f := Error(errors.New("boom"))
	if f.Key != "error" || f.Value != "boom" {
		t.Errorf("Error() = %+v, want {Key:error Value:boom}", f)
	}

	f = Error(nil)
	if f.Key != "error" || f.Value != nil {
		t.Errorf("Error(nil) = %+v, want {Key:error Value:nil}", f)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	// Must not panic and must return a usable child logger
	logger.Info("ignored")
	logger.With(Node("x")).Error("ignored too")
}
