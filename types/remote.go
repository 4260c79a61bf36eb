package types

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ChunkID names a unit of deployable code. Runtime chunk ids are qualified
// with the owning remote: "<remote>/<chunk>".
type ChunkID string

// ModuleID keys the module factory table. Module ids are assumed to be
// unique across every installed chunk.
type ModuleID string

// DefaultShareScope is the share scope used when a remote does not name one.
const DefaultShareScope = "default"

// NewChunkID qualifies a chunk name with its remote.
func NewChunkID(remote, chunk string) ChunkID {
	return ChunkID(remote + "/" + chunk)
}

// Remote returns the remote part of a qualified chunk id.
func (c ChunkID) Remote() string {
	remote, _, _ := strings.Cut(string(c), "/")
	return remote
}

// Name returns the unqualified chunk name.
func (c ChunkID) Name() string {
	_, name, found := strings.Cut(string(c), "/")
	if !found {
		return string(c)
	}
	return name
}

// ExposedModule is one manifest entry: the module id an expose path maps to,
// the chunk that carries its factory, and every chunk that must be installed
// before the factory runs (vendor chunks plus its own).
type ExposedModule struct {
	Module ModuleID `json:"module" yaml:"module"`
	// Chunk carries the module factory. Defaults to the last of Chunks.
	Chunk string `json:"chunk" yaml:"chunk"`
	// Chunks are installed together before the module is instantiated.
	// A bare Chunk is shorthand for a one-element list.
	Chunks []string `json:"chunks,omitempty" yaml:"chunks,omitempty"`
}

// Normalized fills Chunk and Chunks from each other. Chunk always appears in
// Chunks, which keeps its declared order.
func (e ExposedModule) Normalized() ExposedModule {
	chunks := append([]string(nil), e.Chunks...)
	if e.Chunk == "" && len(chunks) > 0 {
		e.Chunk = chunks[len(chunks)-1]
	}
	if e.Chunk != "" && !slices.Contains(chunks, e.Chunk) {
		chunks = append(chunks, e.Chunk)
	}
	e.Chunks = chunks
	return e
}

// RemoteDescriptor describes where a remote's chunks live and what it exposes.
// Descriptors are built once at startup and never mutated afterwards.
type RemoteDescriptor struct {
	// Name is the remote name used in import requests ("app2").
	Name string `json:"name"`
	// PrimaryLocation is either a URL whose directory holds the remote's
	// chunk files, or a path relative to the output directory.
	PrimaryLocation string `json:"primary_location"`
	// ShareScope names the bucket shared dependencies are registered in.
	ShareScope string `json:"share_scope"`
	// FallbackLocations are alternate base URLs, tried in order after the
	// primary remote source fails.
	FallbackLocations []string `json:"fallback_locations,omitempty"`
	// ChunkFilename overrides the runtime chunk filename template.
	ChunkFilename string `json:"chunk_filename,omitempty"`
	// Exposes maps normalized expose paths ("./shared") to manifest entries.
	Exposes map[string]ExposedModule `json:"exposes"`
}

// IsRemoteLocation reports whether the primary location is a URL rather
// than a filesystem path.
func (d *RemoteDescriptor) IsRemoteLocation() bool {
	return IsURL(d.PrimaryLocation)
}

// Validate checks the invariants a descriptor must satisfy before it is
// registered.
func (d *RemoteDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("remote name is required")
	}
	if strings.Contains(d.Name, "/") {
		return fmt.Errorf("remote %q: name must not contain '/'", d.Name)
	}
	if d.PrimaryLocation == "" {
		return fmt.Errorf("remote %q: location is required", d.Name)
	}
	for i, fb := range d.FallbackLocations {
		if !IsURL(fb) {
			return fmt.Errorf("remote %q: fallback %d (%q) is not a URL", d.Name, i, fb)
		}
	}
	for path, exp := range d.Exposes {
		if exp.Module == "" {
			return fmt.Errorf("remote %q: expose %q has no module id", d.Name, path)
		}
		if exp.Chunk == "" && len(exp.Chunks) == 0 {
			return fmt.Errorf("remote %q: expose %q has no chunk", d.Name, path)
		}
		if slices.Contains(exp.Chunks, "") {
			return fmt.Errorf("remote %q: expose %q lists an empty chunk", d.Name, path)
		}
	}
	return nil
}

// IsURL reports whether s carries a URL scheme. Single-letter schemes are
// treated as Windows drive letters, not URLs.
func IsURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return len(u.Scheme) > 1
}
