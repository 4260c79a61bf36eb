package reader

import (
	"context"
	"fmt"
	"sort"

	lodelib "github.com/justapithecus/lode/lode"

	"github.com/justapithecus/fedrun/lode"
	"github.com/justapithecus/fedrun/metrics"
	"github.com/justapithecus/fedrun/resolver"
	"github.com/justapithecus/fedrun/runtime"
	"github.com/justapithecus/fedrun/types"
)

func locationKind(d *types.RemoteDescriptor) string {
	if d.IsRemoteLocation() {
		return "url"
	}
	return "path"
}

// ListRemotes returns the configured remotes sorted by name.
func ListRemotes(r *resolver.Resolver) []RemoteListItem {
	descs := r.Descriptors()
	items := make([]RemoteListItem, 0, len(descs))
	for _, d := range descs {
		items = append(items, RemoteListItem{
			Name:       d.Name,
			Kind:       locationKind(d),
			Location:   d.PrimaryLocation,
			ShareScope: d.ShareScope,
			Exposes:    len(d.Exposes),
			Fallbacks:  len(d.FallbackLocations),
		})
	}
	return items
}

// InspectRemote describes one remote with the derived location of every
// exposed chunk and its current registry state.
func InspectRemote(rt *runtime.Runtime, name string) (*InspectRemoteResponse, error) {
	desc, err := rt.Resolver().Resolve(name)
	if err != nil {
		return nil, err
	}

	states := map[types.ChunkID]string{}
	for _, c := range rt.Snapshot().Chunks {
		states[c.ID] = c.State
	}

	paths := make([]string, 0, len(desc.Exposes))
	for p := range desc.Exposes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	resp := &InspectRemoteResponse{
		Name:              desc.Name,
		Kind:              locationKind(desc),
		PrimaryLocation:   desc.PrimaryLocation,
		ShareScope:        desc.ShareScope,
		FallbackLocations: desc.FallbackLocations,
		ChunkFilename:     desc.ChunkFilename,
		Exposes:           make([]ExposeItem, 0, len(paths)),
	}
	for _, p := range paths {
		exp := desc.Exposes[p]
		loc, err := rt.Locate(desc.Name, exp.Chunk)
		if err != nil {
			return nil, fmt.Errorf("locate %s: %w", p, err)
		}
		state, ok := states[loc.Chunk]
		if !ok {
			state = "unloaded"
		}
		resp.Exposes = append(resp.Exposes, ExposeItem{
			Path:      p,
			Module:    string(exp.Module),
			Chunk:     exp.Chunk,
			Requires:  requires(exp),
			LocalPath: loc.LocalPath,
			URLs:      loc.URLs,
			State:     state,
		})
	}
	return resp, nil
}

func requires(exp types.ExposedModule) []string {
	var out []string
	for _, c := range exp.Chunks {
		if c != exp.Chunk {
			out = append(out, c)
		}
	}
	return out
}

// Stats converts a metrics snapshot to its CLI view.
func Stats(s metrics.Snapshot) *ImportStats {
	return &ImportStats{
		Runtime:            s.Runtime,
		InstanceID:         s.InstanceID,
		ChunkRequests:      s.ChunkRequests,
		DedupJoins:         s.DedupJoins,
		LoadsStarted:       s.LoadsStarted,
		LoadsInstalled:     s.LoadsInstalled,
		LoadsFailed:        s.LoadsFailed,
		LocalFetchSuccess:  s.LocalFetchSuccess,
		LocalFetchFailure:  s.LocalFetchFailure,
		RemoteFetchSuccess: s.RemoteFetchSuccess,
		RemoteFetchFailure: s.RemoteFetchFailure,
		BytesFetched:       s.BytesFetched,
		Evaluations:        s.Evaluations,
		EvaluationFailures: s.EvaluationFailures,
		ModuleImports:      s.ModuleImports,
		ModuleCacheHits:    s.ModuleCacheHits,
		ObserverFailures:   s.ObserverFailures,
		InstalledByRemote:  s.InstalledByRemote,
	}
}

// History reads journaled load events newest first.
func History(ctx context.Context, ds lodelib.Dataset, f lode.Filter) ([]HistoryItem, error) {
	events, err := lode.History(ctx, ds, f)
	if err != nil {
		return nil, err
	}
	items := make([]HistoryItem, 0, len(events))
	for _, e := range events {
		items = append(items, HistoryItem{
			Ts:         e.Ts,
			Type:       string(e.Type),
			Remote:     e.Remote,
			Chunk:      string(e.ChunkID),
			Module:     string(e.ModuleID),
			Source:     string(e.Source),
			Bytes:      e.Bytes,
			DurationMs: e.DurationMs,
			Error:      e.Error,
		})
	}
	return items, nil
}
