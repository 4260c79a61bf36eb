package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/justapithecus/fedrun/metrics"
	"github.com/justapithecus/fedrun/types"
)

func countingServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func writeChunk(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	return path
}

func TestFetch_LocalHitSkipsNetwork(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, "remote")
	path := writeChunk(t, "shared.lua", "local")

	f := New(Config{})
	res, err := f.Fetch(t.Context(), Location{Chunk: "app2/shared", LocalPath: path, URLs: []string{srv.URL + "/shared.lua"}})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(res.Data) != "local" {
		t.Errorf("Data = %q, want local", res.Data)
	}
	if res.Source != types.SourceLocal || res.From != path {
		t.Errorf("Source/From = %s/%s", res.Source, res.From)
	}
	if hits.Load() != 0 {
		t.Errorf("server hits = %d, want 0", hits.Load())
	}
}

func TestFetch_LocalMissFallsBackOnce(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, "remote body")
	missing := filepath.Join(t.TempDir(), "absent.lua")

	m := metrics.NewCollector("app1", "inst")
	f := New(Config{Metrics: m})
	res, err := f.Fetch(t.Context(), Location{Chunk: "app2/shared", LocalPath: missing, URLs: []string{srv.URL + "/shared.lua"}})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(res.Data) != "remote body" || res.Source != types.SourceRemote {
		t.Errorf("result = %q from %s", res.Data, res.Source)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}

	s := m.Snapshot()
	if s.LocalFetchFailure != 1 || s.RemoteFetchSuccess != 1 {
		t.Errorf("metrics = local fail %d, remote ok %d", s.LocalFetchFailure, s.RemoteFetchSuccess)
	}
	if s.BytesFetched != int64(len("remote body")) {
		t.Errorf("BytesFetched = %d", s.BytesFetched)
	}
}

func TestFetch_LocalMissNoURLReturnsLocalError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.lua")

	f := New(Config{})
	_, err := f.Fetch(t.Context(), Location{Chunk: "app2/shared", LocalPath: missing})
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), missing) {
		t.Errorf("error should name the path: %v", err)
	}
}

func TestFetch_Non200IsRequestFailed(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusNoContent} {
		srv, hits := countingServer(t, status, "nope")
		f := New(Config{})
		_, err := f.Fetch(t.Context(), Location{Chunk: "app3/main", URLs: []string{srv.URL + "/app3.lua"}})

		var reqErr *types.RequestFailedError
		if !errors.As(err, &reqErr) {
			t.Fatalf("status %d: err = %v, want RequestFailedError", status, err)
		}
		if reqErr.StatusCode != status {
			t.Errorf("StatusCode = %d, want %d", reqErr.StatusCode, status)
		}
		if hits.Load() != 1 {
			t.Errorf("status %d: hits = %d, want 1 (no retry)", status, hits.Load())
		}
	}
}

func TestFetch_FallbackURLsInOrder(t *testing.T) {
	bad, badHits := countingServer(t, http.StatusNotFound, "")
	good, goodHits := countingServer(t, http.StatusOK, "from fallback")

	f := New(Config{})
	res, err := f.Fetch(t.Context(), Location{Chunk: "app2/shared", URLs: []string{bad.URL + "/a.lua", good.URL + "/a.lua"}})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(res.Data) != "from fallback" || res.From != good.URL+"/a.lua" {
		t.Errorf("result = %q from %s", res.Data, res.From)
	}
	if badHits.Load() != 1 || goodHits.Load() != 1 {
		t.Errorf("hits = %d/%d, want 1/1", badHits.Load(), goodHits.Load())
	}
}

func TestFetch_AllURLsFailReturnsLast(t *testing.T) {
	first, _ := countingServer(t, http.StatusInternalServerError, "")
	second, _ := countingServer(t, http.StatusNotFound, "")

	f := New(Config{})
	_, err := f.Fetch(t.Context(), Location{Chunk: "c", URLs: []string{first.URL, second.URL}})
	if got := types.StatusCode(err); got != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (last error)", got)
	}
}

func TestFetch_UnsupportedProtocol(t *testing.T) {
	f := New(Config{})
	_, err := f.Fetch(t.Context(), Location{Chunk: "c", URLs: []string{"ftp://example.com/c.lua"}})
	if !errors.Is(err, types.ErrUnsupportedProtocol) {
		t.Errorf("err = %v, want ErrUnsupportedProtocol", err)
	}
}

func TestFetch_MaxBytes(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK, strings.Repeat("x", 100))

	f := New(Config{MaxBytes: 10})
	_, err := f.Fetch(t.Context(), Location{Chunk: "c", URLs: []string{srv.URL}})
	if !errors.Is(err, ErrChunkTooLarge) {
		t.Errorf("err = %v, want ErrChunkTooLarge", err)
	}

	f = New(Config{MaxBytes: 100})
	res, err := f.Fetch(t.Context(), Location{Chunk: "c", URLs: []string{srv.URL}})
	if err != nil {
		t.Fatalf("Fetch at limit: %v", err)
	}
	if len(res.Data) != 100 {
		t.Errorf("len = %d, want 100", len(res.Data))
	}
}

func TestFetch_CanceledContext(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, "x")
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	f := New(Config{})
	_, err := f.Fetch(ctx, Location{Chunk: "c", URLs: []string{srv.URL}})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	if hits.Load() != 0 {
		t.Errorf("hits = %d, want 0", hits.Load())
	}
}

func TestFetch_NoSources(t *testing.T) {
	f := New(Config{})
	_, err := f.Fetch(t.Context(), Location{Chunk: "c"})
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
