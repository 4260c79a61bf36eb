package runtime

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/justapithecus/fedrun/fetch"
	"github.com/justapithecus/fedrun/types"
)

// DefaultChunkFilename is the chunk filename template used when neither the
// runtime nor the remote sets one.
const DefaultChunkFilename = "[name].lua"

// ChunkFilename expands a filename template. Placeholders: [name] and [id]
// are the chunk name, [remote] is the remote name.
func ChunkFilename(template, remote, chunk string) string {
	if template == "" {
		template = DefaultChunkFilename
	}
	return strings.NewReplacer(
		"[name]", chunk,
		"[id]", chunk,
		"[remote]", remote,
	).Replace(template)
}

// locate derives where chunk of desc lives.
//
// A path primary is read from OutputDir first. The remote stage for a path
// primary uses PublicPath when set, followed by the descriptor fallbacks.
// A URL primary has no local stage.
func (rt *Runtime) locate(desc *types.RemoteDescriptor, chunk string) fetch.Location {
	template := desc.ChunkFilename
	if template == "" {
		template = rt.chunkFilename
	}
	filename := ChunkFilename(template, desc.Name, chunk)
	loc := fetch.Location{Chunk: types.NewChunkID(desc.Name, chunk)}

	if desc.IsRemoteLocation() {
		loc.URLs = append(loc.URLs, joinURL(urlDir(desc.PrimaryLocation), filename))
	} else {
		loc.LocalPath = filepath.Join(rt.outputDir, filepath.FromSlash(desc.PrimaryLocation), filepath.FromSlash(filename))
		if rt.publicPath != "" {
			rel := strings.TrimPrefix(path.Clean(filepath.ToSlash(desc.PrimaryLocation)), "./")
			loc.URLs = append(loc.URLs, joinURL(rt.publicPath, strings.TrimPrefix(rel+"/"+filename, "./")))
		}
	}

	for _, fb := range desc.FallbackLocations {
		loc.URLs = append(loc.URLs, joinURL(urlDir(fb), filename))
	}
	return loc
}

// urlDir returns the directory part of a URL, ending in '/'. A URL whose
// path already ends in '/' is its own directory.
func urlDir(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path == "" {
		u.Path = "/"
	} else if !strings.HasSuffix(u.Path, "/") {
		u.Path = path.Dir(u.Path)
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// joinURL appends a relative path to a base URL, stripping a leading "./".
func joinURL(base, rel string) string {
	rel = strings.TrimPrefix(rel, "./")
	rel = strings.TrimPrefix(rel, "/")
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + rel
}

// originDir is the logical __dirname of a fetched chunk.
func originDir(res *fetch.Result) string {
	if res.Source == types.SourceRemote {
		return strings.TrimSuffix(urlDir(res.From), "/")
	}
	return filepath.Dir(res.From)
}
