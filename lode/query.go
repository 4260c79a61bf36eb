package lode

import (
	"context"
	"fmt"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/fedrun/types"
)

// Filter narrows a History query. Zero fields match everything.
type Filter struct {
	Remote string
	Type   types.LoadEventType
	// Limit caps the number of events returned; zero means no cap.
	Limit int
}

// History reads journaled events newest first.
//
// Manifest paths are a coarse pre-filter; record fields are authoritative.
func History(ctx context.Context, ds lode.Dataset, f Filter) ([]*types.LoadEvent, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, DatasetID+"/snapshots")
	}

	var out []*types.LoadEvent
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatches(snap, "remote", f.Remote) ||
			!snapshotMatches(snap, "event_type", string(f.Type)) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", DatasetID, snap.ID))
		}

		for k := len(data) - 1; k >= 0; k-- {
			record, ok := data[k].(map[string]any)
			if !ok {
				continue
			}
			e := fromRecordMap(record)
			if f.Remote != "" && e.Remote != f.Remote {
				continue
			}
			if f.Type != "" && e.Type != f.Type {
				continue
			}
			out = append(out, e)
			if f.Limit > 0 && len(out) >= f.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}
