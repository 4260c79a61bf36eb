package lode

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/fedrun/metrics"
	"github.com/justapithecus/fedrun/types"
)

// sharedFactory returns a StoreFactory that always returns the same store,
// so a journal and a read-back dataset see the same data.
func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func event(n int, typ types.LoadEventType, remote string) *types.LoadEvent {
	return &types.LoadEvent{
		ContractVersion: types.ContractVersion,
		EventID:         fmt.Sprintf("evt-%d", n),
		Type:            typ,
		InstanceID:      "inst-1",
		Runtime:         "host",
		Remote:          remote,
		ChunkID:         types.NewChunkID(remote, "shared"),
		Source:          types.SourceRemote,
		Location:        "http://localhost/" + remote + "/shared.lua",
		Bytes:           int64(100 + n),
		DurationMs:      int64(n),
		Ts:              fmt.Sprintf("2026-10-19T12:00:%02dZ", n),
	}
}

func TestJournal_AppendAndHistory(t *testing.T) {
	store := lode.NewMemory()
	collector := metrics.NewCollector("host", "inst-1")

	j, err := NewJournal(sharedFactory(store), collector)
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}

	want := []*types.LoadEvent{
		event(1, types.LoadEventChunkInstalled, "app2"),
		event(2, types.LoadEventChunkFailed, "app3"),
		event(3, types.LoadEventChunkInstalled, "app3"),
	}
	for _, e := range want {
		if err := j.Observe(t.Context(), e); err != nil {
			t.Fatalf("Observe failed: %v", err)
		}
	}

	if got := collector.Snapshot().JournalWriteSuccess; got != 3 {
		t.Errorf("JournalWriteSuccess = %d, want 3", got)
	}

	ds, err := NewDataset(sharedFactory(store))
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}

	got, err := History(t.Context(), ds, Filter{})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	newestFirst := []*types.LoadEvent{want[2], want[1], want[0]}
	if diff := cmp.Diff(newestFirst, got); diff != "" {
		t.Errorf("History mismatch (-want +got):\n%s", diff)
	}
}

func TestHistory_Filters(t *testing.T) {
	store := lode.NewMemory()
	j, err := NewJournal(sharedFactory(store), nil)
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}
	for i, e := range []*types.LoadEvent{
		event(1, types.LoadEventChunkInstalled, "app2"),
		event(2, types.LoadEventChunkInstalled, "app20"),
		event(3, types.LoadEventChunkFailed, "app2"),
		event(4, types.LoadEventChunkInstalled, "app2"),
	} {
		if err := j.Append(t.Context(), e); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"by remote exact", Filter{Remote: "app2"}, []string{"evt-4", "evt-3", "evt-1"}},
		{"by type", Filter{Type: types.LoadEventChunkFailed}, []string{"evt-3"}},
		{"remote and type", Filter{Remote: "app2", Type: types.LoadEventChunkInstalled}, []string{"evt-4", "evt-1"}},
		{"limit", Filter{Limit: 2}, []string{"evt-4", "evt-3"}},
		{"no match", Filter{Remote: "missing"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := History(t.Context(), j.Dataset(), tt.filter)
			if err != nil {
				t.Fatalf("History failed: %v", err)
			}
			var ids []string
			for _, e := range got {
				ids = append(ids, e.EventID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Errorf("event ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHistory_EmptyDataset(t *testing.T) {
	ds, err := NewDataset(lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewDataset failed: %v", err)
	}
	got, err := History(t.Context(), ds, Filter{})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("History on empty dataset = %d events, want 0", len(got))
	}
}

func TestJournal_AppendAfterClose(t *testing.T) {
	j, err := NewJournal(lode.NewMemoryFactory(), nil)
	if err != nil {
		t.Fatalf("NewJournal failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := j.Append(t.Context(), event(1, types.LoadEventChunkInstalled, "app2")); err == nil {
		t.Error("Append after Close should fail")
	}
}

func TestDeriveDay(t *testing.T) {
	if got := DeriveDay("2026-10-19T23:59:59.5-02:00"); got != "2026-10-20" {
		t.Errorf("DeriveDay = %q, want 2026-10-20", got)
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/journal", "bucket", "journal"},
		{"bucket/a/b", "bucket", "a/b"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = (%q, %q), want (%q, %q)", tt.in, b, p, tt.bucket, tt.prefix)
		}
	}
}

func TestMatchesPartitionValue(t *testing.T) {
	path := "fedrun/remote=app20/day=2026-10-19/event_type=chunk_installed/data.jsonl"
	if matchesPartitionValue(path, "remote", "app2") {
		t.Error("remote=app2 should not match remote=app20")
	}
	if !matchesPartitionValue(path, "remote", "app20") {
		t.Error("remote=app20 should match")
	}
}
