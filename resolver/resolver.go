// Package resolver maps remote names to their descriptors and expose paths
// to manifest entries.
//
// The table is built once at startup and read without locking afterwards.
// Nothing in this package performs I/O.
package resolver

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/justapithecus/fedrun/types"
)

// Resolver is the immutable remote table.
type Resolver struct {
	remotes map[string]*types.RemoteDescriptor
}

// New validates descs and builds the remote table.
// Descriptors are copied; expose paths and chunk lists are normalized and an
// empty share scope becomes types.DefaultShareScope.
func New(descs []types.RemoteDescriptor) (*Resolver, error) {
	remotes := make(map[string]*types.RemoteDescriptor, len(descs))
	for i := range descs {
		d := descs[i]
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := remotes[d.Name]; dup {
			return nil, fmt.Errorf("remote %q configured twice", d.Name)
		}
		if d.ShareScope == "" {
			d.ShareScope = types.DefaultShareScope
		}
		d.FallbackLocations = append([]string(nil), d.FallbackLocations...)

		exposes := make(map[string]types.ExposedModule, len(d.Exposes))
		for p, exp := range d.Exposes {
			key := NormalizeExpose(p)
			if _, dup := exposes[key]; dup {
				return nil, fmt.Errorf("remote %q: expose %q configured twice", d.Name, key)
			}
			exposes[key] = exp.Normalized()
		}
		d.Exposes = exposes

		remotes[d.Name] = &d
	}
	return &Resolver{remotes: remotes}, nil
}

// Resolve returns the descriptor registered for remote.
func (r *Resolver) Resolve(remote string) (*types.RemoteDescriptor, error) {
	d, ok := r.remotes[remote]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownRemote, remote)
	}
	return d, nil
}

// Expose resolves remote and looks up the manifest entry for exposePath.
func (r *Resolver) Expose(remote, exposePath string) (*types.RemoteDescriptor, types.ExposedModule, error) {
	d, err := r.Resolve(remote)
	if err != nil {
		return nil, types.ExposedModule{}, err
	}
	key := NormalizeExpose(exposePath)
	exp, ok := d.Exposes[key]
	if !ok {
		return nil, types.ExposedModule{}, fmt.Errorf("%w: %s from remote %s", types.ErrModuleNotExposed, key, remote)
	}
	return d, exp, nil
}

// Names returns the configured remote names in sorted order.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.remotes))
	for name := range r.remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns the descriptors sorted by name.
func (r *Resolver) Descriptors() []*types.RemoteDescriptor {
	names := r.Names()
	out := make([]*types.RemoteDescriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.remotes[name])
	}
	return out
}

// NormalizeExpose canonicalizes an expose path so that "shared", "./shared"
// and "./shared/" name the same entry. The root expose is ".".
func NormalizeExpose(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "./" {
		return "."
	}
	cleaned := path.Clean(strings.TrimPrefix(p, "./"))
	if cleaned == "." {
		return "."
	}
	return "./" + strings.TrimPrefix(cleaned, "/")
}

// ParseReference splits the "name@location" shorthand. A reference without
// '@' is taken as a bare location with an empty name.
func ParseReference(ref string) (name, location string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("empty remote reference")
	}
	at := strings.Index(ref, "@")
	if at < 0 {
		return "", ref, nil
	}
	name, location = ref[:at], ref[at+1:]
	if name == "" {
		return "", "", fmt.Errorf("remote reference %q: missing name before '@'", ref)
	}
	if location == "" {
		return "", "", fmt.Errorf("remote reference %q: missing location after '@'", ref)
	}
	return name, location, nil
}

// SplitRequest splits an import request "app2/shared" into the remote name
// and the normalized expose path ("app2", "./shared"). A bare remote name
// requests the root expose.
func SplitRequest(request string) (remote, exposePath string, err error) {
	request = strings.TrimSpace(request)
	remote, rest, _ := strings.Cut(request, "/")
	if remote == "" {
		return "", "", fmt.Errorf("invalid import request %q: missing remote name", request)
	}
	return remote, NormalizeExpose(rest), nil
}
