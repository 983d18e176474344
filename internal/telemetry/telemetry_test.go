package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerRedactsAndRenamesTime(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "json")
	logger.Info("staged backup", "backup_password", "hunter2", "salt_file", "/tmp/salt", "path", "/tmp/x")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one log line at info level, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if _, ok := rec["timestamp"]; !ok {
		t.Error("expected timestamp key")
	}
	if _, ok := rec["time"]; ok {
		t.Error("time key should be renamed")
	}
	if rec["backup_password"] != Redacted || rec["salt_file"] != Redacted {
		t.Errorf("sensitive keys not redacted: %v", rec)
	}
	if rec["path"] != "/tmp/x" {
		t.Errorf("path = %v", rec["path"])
	}
	if rec["component"] != "chatlift" {
		t.Errorf("component = %v", rec["component"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNilWriterDiscards(t *testing.T) {
	NewLogger(nil, "debug", "text").Info("nothing")
}

func TestProviderSnapshot(t *testing.T) {
	p, err := NewProvider()
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	defer p.Shutdown(context.Background())

	ctx := context.Background()
	p.Metrics.MessagesExtracted.Add(ctx, 3)
	p.Metrics.MessagesExtracted.Add(ctx, 2)
	p.Metrics.AttachmentsMissing.Add(ctx, 1)
	p.Metrics.ExtractionDuration.Record(ctx, 1.5)

	snap, err := p.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap["chatlift.messages"] != 5 {
		t.Errorf("messages = %v, want 5", snap["chatlift.messages"])
	}
	if snap["chatlift.attachments.missing"] != 1 {
		t.Errorf("missing = %v, want 1", snap["chatlift.attachments.missing"])
	}
	if snap["chatlift.extraction.duration"] != 1.5 {
		t.Errorf("duration = %v, want 1.5", snap["chatlift.extraction.duration"])
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics()
	if m == nil || m.MessagesExtracted == nil || m.ExtractionDuration == nil {
		t.Fatal("expected noop instruments")
	}
	m.RowErrors.Add(context.Background(), 1)
}
