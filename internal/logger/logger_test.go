package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONWritesAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "JSON")
	log.Debug("assigned", slog.Int64("contact_id", 12))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "assigned" {
		t.Errorf("msg = %v, want assigned", entry["msg"])
	}
	if entry["contact_id"] != float64(12) {
		t.Errorf("contact_id = %v, want 12", entry["contact_id"])
	}
}

func TestNewTextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn", "text")
	log.Info("hidden")
	log.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	custom := New(&buf, "info", "text").With("request_id", "12345")

	ctx := WithContext(context.Background(), custom)
	FromContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), "request_id=12345") {
		t.Fatalf("expected context logger to be used, got %q", buf.String())
	}

	if FromContext(context.Background()) != L {
		t.Error("expected fallback to L without attached logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%s) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
