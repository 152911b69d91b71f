package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func fixedLogger(level Level, jsonFormat bool) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(level, jsonFormat)
	l.SetOutput(&buf)
	l.sink.now = func() time.Time { return time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC) }
	return l, &buf
}

func TestLevelFiltering(t *testing.T) {
	l, buf := fixedLogger(WARN, false)

	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("INFO message written below WARN level: %q", out)
	}
	if !strings.Contains(out, "WARN: shown") {
		t.Errorf("expected WARN line, got %q", out)
	}
}

func TestTextFormatSortsFields(t *testing.T) {
	l, buf := fixedLogger(DEBUG, false)

	l.Named("poll").WithField("channel", "status").Info("tick", Fields{"attempt": 2})

	want := "[2026-01-02 10:00:00] INFO: [poll] tick attempt=2 channel=status\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestJSONFormat(t *testing.T) {
	l, buf := fixedLogger(DEBUG, true)

	l.Named("engine").Error("logout", Fields{"reason": "unauthorized"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse json line: %v", err)
	}
	if entry.Level != "ERROR" || entry.Component != "engine" || entry.Message != "logout" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["reason"] != "unauthorized" {
		t.Errorf("missing field, got %+v", entry.Fields)
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	l, buf := fixedLogger(DEBUG, false)
	_ = l.WithField("child", true)

	l.Info("parent")
	if strings.Contains(buf.String(), "child") {
		t.Errorf("parent logger picked up child field: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{" error ", ERROR},
		{"fatal", FATAL},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
