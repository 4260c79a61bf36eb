package types

// LoadEventType discriminates LoadEvent records.
type LoadEventType string

// LoadEvent types.
const (
	LoadEventChunkInstalled LoadEventType = "chunk_installed"
	LoadEventChunkFailed    LoadEventType = "chunk_failed"
	LoadEventModuleImported LoadEventType = "module_imported"
)

// ChunkSource records where a chunk's bytes came from.
type ChunkSource string

// Chunk sources.
const (
	SourceLocal  ChunkSource = "local"
	SourceRemote ChunkSource = "remote"
)

// LoadEvent is the record observers receive for every chunk install, chunk
// failure and module import. Field tags cover JSON (journal, webhook) and
// msgpack (adapter encoding) consumers.
type LoadEvent struct {
	ContractVersion string        `json:"contract_version" msgpack:"contract_version"`
	EventID         string        `json:"event_id" msgpack:"event_id"`
	Type            LoadEventType `json:"type" msgpack:"type"`
	InstanceID      string        `json:"instance_id" msgpack:"instance_id"`
	Runtime         string        `json:"runtime" msgpack:"runtime"`
	Remote          string        `json:"remote" msgpack:"remote"`
	ChunkID         ChunkID       `json:"chunk_id,omitempty" msgpack:"chunk_id,omitempty"`
	ModuleID        ModuleID      `json:"module_id,omitempty" msgpack:"module_id,omitempty"`
	Source          ChunkSource   `json:"source,omitempty" msgpack:"source,omitempty"`
	Location        string        `json:"location,omitempty" msgpack:"location,omitempty"`
	Bytes           int64         `json:"bytes,omitempty" msgpack:"bytes,omitempty"`
	DurationMs      int64         `json:"duration_ms" msgpack:"duration_ms"`
	Error           string        `json:"error,omitempty" msgpack:"error,omitempty"`
	// Ts is the event timestamp in RFC 3339 UTC.
	Ts string `json:"ts" msgpack:"ts"`
}
