package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(&buf, slog.LevelInfo)

	log.Info("booking confirmed", slog.String("booking_id", "b1"))
	log.Debug("dropped")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "booking confirmed" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["booking_id"] != "b1" {
		t.Fatalf("unexpected booking_id: %v", entry["booking_id"])
	}
}
