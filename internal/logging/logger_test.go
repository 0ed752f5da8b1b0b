// Package logging provides unit tests for the structured logger.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Info("sync pass started", map[string]interface{}{"owner": "user-1"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected valid JSON output: %v", err)
	}

	if entry.Level != "INFO" {
		t.Errorf("Expected INFO level, got %s", entry.Level)
	}
	if entry.Message != "sync pass started" {
		t.Errorf("Unexpected message: %s", entry.Message)
	}
	if entry.Context["owner"] != "user-1" {
		t.Errorf("Expected context owner=user-1, got %v", entry.Context["owner"])
	}
	if entry.Timestamp == "" {
		t.Error("Expected timestamp to be set")
	}
}

func TestLoggerMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected debug and info to be suppressed below WARN")
	}
	if !strings.Contains(out, "visible") {
		t.Error("Expected warn entry to be written")
	}
}

func TestLoggerErrorField(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Error("upload failed", errors.New("connection reset"))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected valid JSON output: %v", err)
	}
	if entry.Error != "connection reset" {
		t.Errorf("Expected error field, got %q", entry.Error)
	}
}

func TestMergeContext(t *testing.T) {
	merged := mergeContext(
		map[string]interface{}{"a": 1},
		map[string]interface{}{"b": 2},
	)

	if merged["a"] != 1 || merged["b"] != 2 {
		t.Errorf("Expected merged context, got %v", merged)
	}

	if mergeContext() != nil {
		t.Error("Expected nil for empty context")
	}
}
