// Package reader provides the read-side data access layer for the fedrun CLI.
//
// Commands build their output payloads here so that table, json, yaml and
// TUI rendering all share the same data.
package reader

// RemoteListItem is one row of `fedrun remotes`.
type RemoteListItem struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"` // url or path
	Location   string `json:"location"`
	ShareScope string `json:"share_scope"`
	Exposes    int    `json:"exposes"`
	Fallbacks  int    `json:"fallbacks"`
}

// ExposeItem is one manifest entry with its derived chunk location.
type ExposeItem struct {
	Path      string   `json:"path"`
	Module    string   `json:"module"`
	Chunk     string   `json:"chunk"`
	Requires  []string `json:"requires,omitempty"` // other chunks installed first
	LocalPath string   `json:"local_path,omitempty"`
	URLs      []string `json:"urls"`
	State     string   `json:"state"`
}

// InspectRemoteResponse is the payload of `fedrun inspect remote`.
type InspectRemoteResponse struct {
	Name              string       `json:"name"`
	Kind              string       `json:"kind"`
	PrimaryLocation   string       `json:"primary_location"`
	ShareScope        string       `json:"share_scope"`
	FallbackLocations []string     `json:"fallback_locations"`
	ChunkFilename     string       `json:"chunk_filename"`
	Exposes           []ExposeItem `json:"exposes"`
}

// ImportResult is the payload of `fedrun import`.
type ImportResult struct {
	Remote  string   `json:"remote"`
	Expose  string   `json:"expose"`
	Module  string   `json:"module"`
	Kind    string   `json:"kind"`
	Exports []string `json:"exports"`
	Call    string   `json:"call,omitempty"`
	Results []any    `json:"results,omitempty"`
}

// ImportStats is the metrics view printed by `fedrun import --stats`.
type ImportStats struct {
	Runtime            string           `json:"runtime"`
	InstanceID         string           `json:"instance_id"`
	ChunkRequests      int64            `json:"chunk_requests"`
	DedupJoins         int64            `json:"dedup_joins"`
	LoadsStarted       int64            `json:"loads_started"`
	LoadsInstalled     int64            `json:"loads_installed"`
	LoadsFailed        int64            `json:"loads_failed"`
	LocalFetchSuccess  int64            `json:"local_fetch_success"`
	LocalFetchFailure  int64            `json:"local_fetch_failure"`
	RemoteFetchSuccess int64            `json:"remote_fetch_success"`
	RemoteFetchFailure int64            `json:"remote_fetch_failure"`
	BytesFetched       int64            `json:"bytes_fetched"`
	Evaluations        int64            `json:"evaluations"`
	EvaluationFailures int64            `json:"evaluation_failures"`
	ModuleImports      int64            `json:"module_imports"`
	ModuleCacheHits    int64            `json:"module_cache_hits"`
	ObserverFailures   int64            `json:"observer_failures"`
	InstalledByRemote  map[string]int64 `json:"installed_by_remote"`
}

// HistoryItem is one row of `fedrun history`.
type HistoryItem struct {
	Ts         string `json:"ts"`
	Type       string `json:"type"`
	Remote     string `json:"remote"`
	Chunk      string `json:"chunk,omitempty"`
	Module     string `json:"module,omitempty"`
	Source     string `json:"source,omitempty"`
	Bytes      int64  `json:"bytes"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}
