// Package registry tracks the install state of every chunk and deduplicates
// concurrent load requests.
//
// Each chunk record moves Unloaded -> Loading -> Loaded exactly once. While
// a load is in flight, later requests for the same chunk wait on it instead
// of starting another. A failed load rejects every waiter in attachment
// order and leaves the record re-attemptable.
package registry

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/justapithecus/fedrun/log"
	"github.com/justapithecus/fedrun/metrics"
	"github.com/justapithecus/fedrun/sandbox"
	"github.com/justapithecus/fedrun/types"
)

// State is a chunk record's install state.
type State int

// Chunk record states.
const (
	Unloaded State = iota
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Payload is the outcome of fetching and evaluating one chunk.
type Payload struct {
	// IDs are the qualified chunk ids the payload satisfies. The requested
	// id is always marked loaded as well.
	IDs []types.ChunkID
	// Factories are merged into the FactoryTable.
	Factories map[types.ModuleID]sandbox.Factory
	// Init is the chunk's runtime initializer. May be nil.
	Init func() error

	// Source, Location and Bytes describe where the bytes came from.
	Source   types.ChunkSource
	Location string
	Bytes    int64
}

// Loader fetches and evaluates a chunk. Implementations must not call back
// into the Registry for the same chunk.
type Loader interface {
	Load(ctx context.Context, id types.ChunkID) (*Payload, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, id types.ChunkID) (*Payload, error)

// Load calls f(ctx, id).
func (f LoaderFunc) Load(ctx context.Context, id types.ChunkID) (*Payload, error) {
	return f(ctx, id)
}

// Outcome is reported to the hook after every load attempt.
type Outcome struct {
	Chunk    types.ChunkID
	Payload  *Payload // nil when the loader failed
	Err      error
	Duration time.Duration
}

// ChunkStatus is a diagnostic view of one record.
type ChunkStatus struct {
	ID       types.ChunkID `json:"id"`
	State    string        `json:"state"`
	Waiters  int           `json:"waiters"`
	InFlight bool          `json:"in_flight"`
}

type record struct {
	state    State
	waiters  []chan error
	inflight bool
}

// Registry owns chunk records and drives loads through a Loader.
type Registry struct {
	mu      sync.Mutex
	records map[types.ChunkID]*record

	table   *FactoryTable
	loader  Loader
	logger  *log.Logger
	metrics *metrics.Collector
	hook    func(Outcome)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithHook registers a func called after every load attempt settles.
// The hook runs on the load goroutine before waiters are released.
func WithHook(fn func(Outcome)) Option {
	return func(r *Registry) { r.hook = fn }
}

// New creates a Registry installing into table.
func New(table *FactoryTable, loader Loader, opts ...Option) *Registry {
	r := &Registry{
		records: make(map[types.ChunkID]*record),
		table:   table,
		loader:  loader,
		logger:  log.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// recordLocked returns the record for id, creating it Unloaded.
func (r *Registry) recordLocked(id types.ChunkID) *record {
	rec, ok := r.records[id]
	if !ok {
		rec = &record{}
		r.records[id] = rec
	}
	return rec
}

// EnsureInstalled returns once chunk id is loaded, starting a load if none
// is in flight. The load itself is detached from ctx: when ctx ends this
// caller stops waiting and gets ctx.Err(), while the load and any other
// waiters continue.
func (r *Registry) EnsureInstalled(ctx context.Context, id types.ChunkID) error {
	r.metrics.IncChunkRequest()

	r.mu.Lock()
	rec := r.recordLocked(id)
	if rec.state == Loaded {
		r.mu.Unlock()
		return nil
	}

	done := make(chan error, 1)
	rec.waiters = append(rec.waiters, done)
	start := !rec.inflight
	if start {
		rec.state = Loading
		rec.inflight = true
	}
	r.mu.Unlock()

	if start {
		r.metrics.IncLoadStarted()
		go r.load(context.WithoutCancel(ctx), id)
	} else {
		r.metrics.IncDedupJoin()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		r.detach(id, done)
		return ctx.Err()
	}
}

// detach removes an abandoned waiter.
func (r *Registry) detach(id types.ChunkID, done chan error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return
	}
	rec.waiters = slices.DeleteFunc(rec.waiters, func(ch chan error) bool { return ch == done })
}

// load runs one fetch/evaluate/install sequence for id.
func (r *Registry) load(ctx context.Context, id types.ChunkID) {
	started := time.Now()
	r.logger.Debug("chunk load started", map[string]any{"chunk": string(id)})

	var release func()
	payload, err := r.loader.Load(ctx, id)
	if err != nil {
		release = r.settle(id, nil, err)
	} else {
		ids := payload.IDs
		if !slices.Contains(ids, id) {
			ids = append([]types.ChunkID{id}, ids...)
		}
		release, err = r.install(id, ids, payload.Factories, payload.Init)
	}

	if err != nil {
		r.metrics.IncLoadFailed()
		r.logger.Warn("chunk load failed", map[string]any{
			"chunk": string(id),
			"error": err.Error(),
		})
	} else {
		r.metrics.IncLoadInstalled(id.Remote())
	}

	if r.hook != nil {
		if err != nil {
			payload = nil
		}
		r.hook(Outcome{Chunk: id, Payload: payload, Err: err, Duration: time.Since(started)})
	}
	release()
}

// Install merges factories into the table, runs init once and marks every
// id loaded, resolving queued waiters in attachment order. When init fails
// no record changes and merged factories stay merged.
func (r *Registry) Install(ids []types.ChunkID, factories map[types.ModuleID]sandbox.Factory, init func() error) error {
	release, err := r.install("", ids, factories, init)
	release()
	return err
}

// install applies an install on behalf of the load of owner and returns
// the func that releases waiters.
func (r *Registry) install(owner types.ChunkID, ids []types.ChunkID, factories map[types.ModuleID]sandbox.Factory, init func() error) (func(), error) {
	if len(ids) == 0 {
		return func() {}, errors.New("install: no chunk ids")
	}

	r.table.Merge(factories)

	if init != nil {
		if err := init(); err != nil {
			return r.settle(owner, ids, err), err
		}
	}

	release := r.settle(owner, ids, nil)
	r.logger.Debug("chunk installed", map[string]any{
		"chunks":  chunkStrings(ids),
		"modules": len(factories),
	})
	return release, nil
}

// settle ends a load. A nil err marks every id loaded and takes all of
// their waiters. A failure touches only owner, the id whose load failed;
// declared ids may have loads of their own in flight. Owner keeps its state
// so a later request starts a new load. The returned func hands err to the
// taken waiters in attachment order.
func (r *Registry) settle(owner types.ChunkID, ids []types.ChunkID, err error) func() {
	if err != nil {
		ids = nil
		if owner != "" {
			ids = []types.ChunkID{owner}
		}
	}

	r.mu.Lock()
	var waiters []chan error
	for _, id := range ids {
		rec := r.recordLocked(id)
		if err == nil {
			rec.state = Loaded
		}
		rec.inflight = false
		waiters = append(waiters, rec.waiters...)
		rec.waiters = nil
	}
	r.mu.Unlock()

	return func() {
		for _, ch := range waiters {
			ch <- err
		}
	}
}

// State returns the state of chunk id.
func (r *Registry) State(id types.ChunkID) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return rec.state
	}
	return Unloaded
}

// Snapshot returns every known record sorted by chunk id.
func (r *Registry) Snapshot() []ChunkStatus {
	r.mu.Lock()
	out := make([]ChunkStatus, 0, len(r.records))
	for id, rec := range r.records {
		out = append(out, ChunkStatus{
			ID:       id,
			State:    rec.state.String(),
			Waiters:  len(rec.waiters),
			InFlight: rec.inflight,
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func chunkStrings(ids []types.ChunkID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
