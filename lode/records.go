package lode

import (
	"encoding/json"
	"time"

	"github.com/justapithecus/fedrun/types"
)

// DeriveDay computes the day partition from an event timestamp.
// Format: YYYY-MM-DD in UTC. Unparseable timestamps fall back to now.
func DeriveDay(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		t = time.Now()
	}
	return t.UTC().Format("2006-01-02")
}

// toRecordMap converts a LoadEvent to a map for Lode storage.
// Lode HiveLayout requires records as map[string]any.
func toRecordMap(e *types.LoadEvent) map[string]any {
	m := map[string]any{
		"contract_version": e.ContractVersion,
		"event_id":         e.EventID,
		"type":             string(e.Type),
		"event_type":       string(e.Type), // partition key
		"instance_id":      e.InstanceID,
		"runtime":          e.Runtime,
		"remote":           e.Remote,
		"day":              DeriveDay(e.Ts),
		"duration_ms":      e.DurationMs,
		"ts":               e.Ts,
	}
	if e.ChunkID != "" {
		m["chunk_id"] = string(e.ChunkID)
	}
	if e.ModuleID != "" {
		m["module_id"] = string(e.ModuleID)
	}
	if e.Source != "" {
		m["source"] = string(e.Source)
	}
	if e.Location != "" {
		m["location"] = e.Location
	}
	if e.Bytes != 0 {
		m["bytes"] = e.Bytes
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}

// fromRecordMap rebuilds a LoadEvent from a stored record.
func fromRecordMap(m map[string]any) *types.LoadEvent {
	return &types.LoadEvent{
		ContractVersion: toString(m["contract_version"]),
		EventID:         toString(m["event_id"]),
		Type:            types.LoadEventType(toString(m["type"])),
		InstanceID:      toString(m["instance_id"]),
		Runtime:         toString(m["runtime"]),
		Remote:          toString(m["remote"]),
		ChunkID:         types.ChunkID(toString(m["chunk_id"])),
		ModuleID:        types.ModuleID(toString(m["module_id"])),
		Source:          types.ChunkSource(toString(m["source"])),
		Location:        toString(m["location"]),
		Bytes:           toInt64(m["bytes"]),
		DurationMs:      toInt64(m["duration_ms"]),
		Error:           toString(m["error"]),
		Ts:              toString(m["ts"]),
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}
