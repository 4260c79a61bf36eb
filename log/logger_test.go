package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(Context{InstanceID: "inst-1", Runtime: "app1"}, &buf, zapcore.DebugLevel)

	l.Info("chunk installed", map[string]any{"chunk": "app2/shared"})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	entry := lines[0]
	if entry["instance_id"] != "inst-1" {
		t.Errorf("instance_id = %v, want inst-1", entry["instance_id"])
	}
	if entry["runtime"] != "app1" {
		t.Errorf("runtime = %v, want app1", entry["runtime"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["message"] != "chunk installed" {
		t.Errorf("message = %v", entry["message"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["chunk"] != "app2/shared" {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(Context{InstanceID: "x"}, &buf, zapcore.WarnLevel)

	l.Debug("dropped", nil)
	l.Info("dropped", nil)
	l.Warn("kept", nil)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if _, ok := lines[0]["runtime"]; ok {
		t.Error("runtime field should be omitted when empty")
	}
}

func TestLogger_Named(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(Context{InstanceID: "x"}, &buf, zapcore.DebugLevel).Named("registry")
	l.Sugar().Infof("loaded %d chunks", 2)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["component"] != "registry" {
		t.Errorf("component = %v", lines[0]["component"])
	}
	if lines[0]["message"] != "loaded 2 chunks" {
		t.Errorf("message = %v", lines[0]["message"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Error("ignored", map[string]any{"k": 1})
	l.Sugar().Warnf("ignored %d", 1)
}
