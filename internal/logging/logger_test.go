package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := levelFromString(tt.in).Level(); got != tt.want {
			t.Errorf("levelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerTo_WritesJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info")
	logger.Debug("hidden")
	logger.Info("dispatch_decided", "ride_id", "r1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "dispatch_decided" {
		t.Errorf("expected msg dispatch_decided, got %v", record["msg"])
	}
	if record["ride_id"] != "r1" {
		t.Errorf("expected ride_id r1, got %v", record["ride_id"])
	}
}
