package logging

import (
	"io"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)

	logger.Info("watch armed", map[string]string{"watch_id": "1"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != LevelInfo {
		t.Fatalf("expected info level, got %q", entry.Level)
	}
	if entry.Message != "watch armed" {
		t.Fatalf("expected message watch armed, got %q", entry.Message)
	}
	if entry.Context["watch_id"] != "1" {
		t.Fatalf("expected context watch_id=1, got %v", entry.Context)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, io.Discard)

	logger.Info("info", nil)
	logger.Warn("warn", nil)

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != LevelWarning {
		t.Fatalf("expected warning level, got %q", entries[0].Level)
	}
}

func TestLoggerStreamDeliversAllEntries(t *testing.T) {
	logger := NewLoggerWithOutput(NewLogBuffer(50), LevelInfo, io.Discard)
	output, cancel := logger.Subscribe()
	defer cancel()

	const total = 200
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			logger.Info("message", nil)
		}
		close(done)
	}()

	received := 0
	deadline := time.After(2 * time.Second)
	for received < total {
		select {
		case <-output:
			received++
		case <-deadline:
			t.Fatalf("timed out after receiving %d entries", received)
		}
	}

	<-done
}

func TestLoggerWithMergesFields(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelDebug, io.Discard).With(map[string]string{
		"vigil.component": "stream",
	})

	logger.Debug("flush", map[string]string{"stream": "project"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	context := entries[0].Context
	if context["vigil.component"] != "stream" {
		t.Fatalf("expected base field carried, got %v", context)
	}
	if context["stream"] != "project" {
		t.Fatalf("expected call field merged, got %v", context)
	}
}

func TestFormatEntryStampsTime(t *testing.T) {
	entry := LogEntry{
		Timestamp: time.Date(2024, 5, 4, 12, 30, 0, 0, time.UTC),
		Level:     LevelWarning,
		Message:   "queue overflow",
	}

	line := formatEntry(entry)
	want := `ts=2024-05-04T12:30:00Z level=warning msg="queue overflow"`
	if line != want {
		t.Fatalf("expected %q, got %q", want, line)
	}
}

func TestFormatEntrySortsFields(t *testing.T) {
	entry := LogEntry{
		Level:   LevelInfo,
		Message: "event delivered",
		Context: map[string]string{"path": "/tmp/a", "id": "12"},
	}

	line := formatEntry(entry)
	if !strings.HasPrefix(line, `level=info msg="event delivered"`) {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if strings.Index(line, "id=") > strings.Index(line, "path=") {
		t.Fatalf("expected sorted fields, got %q", line)
	}
}
