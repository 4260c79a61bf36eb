// Package fetch retrieves raw chunk bytes from local storage or over HTTP.
//
// A Location names a local path and an ordered list of remote URLs. The
// local path is tried first; on any local failure the URLs are tried once
// each, in order. There is no backoff and no second attempt of a URL.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/justapithecus/fedrun/iox"
	"github.com/justapithecus/fedrun/log"
	"github.com/justapithecus/fedrun/metrics"
	"github.com/justapithecus/fedrun/types"
)

// ErrChunkTooLarge is returned when a remote body exceeds Config.MaxBytes.
var ErrChunkTooLarge = errors.New("chunk exceeds size limit")

// Location is where a chunk's bytes may be found.
type Location struct {
	// Chunk is the chunk being fetched, for diagnostics.
	Chunk types.ChunkID
	// LocalPath is the fully joined local file path. Empty skips the local stage.
	LocalPath string
	// URLs are tried in order after the local stage fails.
	URLs []string
}

// Result is a successfully fetched chunk.
type Result struct {
	Data   []byte
	Source types.ChunkSource
	// From is the path or URL the bytes were read from.
	From string
}

// Config configures a Fetcher. The zero value is usable.
type Config struct {
	// Client is the HTTP client used for remote fetches (default http.DefaultClient).
	Client *http.Client
	// Timeout bounds each HTTP attempt. Zero means no timeout.
	Timeout time.Duration
	// MaxBytes caps a remote body. Zero means unbounded.
	MaxBytes int64
	// Metrics receives transport counters. May be nil.
	Metrics *metrics.Collector
	// Logger receives per-attempt debug entries. Nil discards.
	Logger *log.Logger
}

// Fetcher implements the local-then-remote fetch policy.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	metrics  *metrics.Collector
	logger   *log.Logger
}

// New creates a Fetcher from cfg.
func New(cfg Config) *Fetcher {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Fetcher{
		client:   client,
		timeout:  cfg.Timeout,
		maxBytes: cfg.MaxBytes,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Fetch returns the bytes of loc.
//
// When the local stage fails and loc has no URLs, the local error is
// returned unchanged. Otherwise the error of the last URL attempted is
// returned.
func (f *Fetcher) Fetch(ctx context.Context, loc Location) (*Result, error) {
	var lastErr error

	if loc.LocalPath != "" {
		data, err := f.readLocal(loc.LocalPath)
		f.metrics.IncLocalFetch(err == nil)
		if err == nil {
			f.metrics.AddBytesFetched(int64(len(data)))
			return &Result{Data: data, Source: types.SourceLocal, From: loc.LocalPath}, nil
		}
		f.logger.Debug("local chunk read failed", map[string]any{
			"chunk": string(loc.Chunk),
			"path":  loc.LocalPath,
			"error": err.Error(),
		})
		lastErr = err
		if len(loc.URLs) == 0 {
			return nil, err
		}
	}

	if len(loc.URLs) == 0 {
		return nil, fmt.Errorf("%w: chunk %s has no local path or remote URL", types.ErrNotFound, loc.Chunk)
	}

	for _, u := range loc.URLs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := f.getRemote(ctx, u)
		f.metrics.IncRemoteFetch(err == nil)
		if err == nil {
			f.metrics.AddBytesFetched(int64(len(data)))
			return &Result{Data: data, Source: types.SourceRemote, From: u}, nil
		}
		f.logger.Debug("remote chunk fetch failed", map[string]any{
			"chunk": string(loc.Chunk),
			"url":   u,
			"error": err.Error(),
		})
		lastErr = err
	}

	return nil, lastErr
}

func (f *Fetcher) readLocal(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, path)
		}
		return nil, fmt.Errorf("read chunk %s: %w", path, err)
	}
	return data, nil
}

func (f *Fetcher) getRemote(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse chunk url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q (%s)", types.ErrUnsupportedProtocol, u.Scheme, rawURL)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &types.RequestFailedError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	counter := &iox.CountingReader{R: body}

	var buf bytes.Buffer
	if resp.ContentLength > 0 && (f.maxBytes <= 0 || resp.ContentLength <= f.maxBytes) {
		buf.Grow(int(resp.ContentLength))
	}
	if _, err := buf.ReadFrom(counter); err != nil {
		return nil, fmt.Errorf("read body %s: %w", rawURL, err)
	}
	if f.maxBytes > 0 && counter.N > f.maxBytes {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrChunkTooLarge, rawURL, f.maxBytes)
	}

	return buf.Bytes(), nil
}
