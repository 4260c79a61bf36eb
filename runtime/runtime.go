// Package runtime is the federation façade. A Runtime resolves a remote
// module reference, makes sure its chunk is installed exactly once and hands
// back the module's exports.
//
// A Runtime is an explicit context object: every registry, cache and share
// scope it uses lives on the Runtime, and two Runtimes share nothing.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/justapithecus/fedrun/fetch"
	"github.com/justapithecus/fedrun/log"
	"github.com/justapithecus/fedrun/metrics"
	"github.com/justapithecus/fedrun/registry"
	"github.com/justapithecus/fedrun/resolver"
	"github.com/justapithecus/fedrun/sandbox"
	"github.com/justapithecus/fedrun/types"
)

// Config configures a Runtime.
type Config struct {
	// Name is the host application name, used as a log and metrics dimension.
	Name string
	// InstanceID identifies this Runtime. Generated when empty.
	InstanceID string
	// OutputDir is the root for path-based remote locations.
	OutputDir string
	// PublicPath is the base URL for the remote stage of path-based remotes.
	// Empty disables it.
	PublicPath string
	// ChunkFilename is the default chunk filename template.
	ChunkFilename string
	// Remotes is the remote table.
	Remotes []types.RemoteDescriptor

	// FetchTimeout bounds each HTTP attempt. Zero means no timeout.
	FetchTimeout time.Duration
	// MaxChunkBytes caps a remote chunk body. Zero means unbounded.
	MaxChunkBytes int64
	// HTTPClient overrides the client used for remote fetches.
	HTTPClient *http.Client
	// MemoryLimitPages bounds wasm instance memory in 64KiB pages.
	MemoryLimitPages uint32

	// Logger receives runtime logs. Nil discards.
	Logger *log.Logger
	// Metrics is the collector to record into. Created when nil.
	Metrics *metrics.Collector
	// Observers receive every load event.
	Observers []Observer
}

// Runtime loads remote modules.
type Runtime struct {
	name          string
	instanceID    string
	outputDir     string
	publicPath    string
	chunkFilename string

	resolver *resolver.Resolver
	fetcher  *fetch.Fetcher
	host     *sandbox.Host
	table    *registry.FactoryTable
	registry *registry.Registry

	logger   *log.Logger
	metrics  *metrics.Collector
	dispatch *dispatcher
	now      func() time.Time
}

// Snapshot is a diagnostic view of a Runtime.
type Snapshot struct {
	Name       string                 `json:"name"`
	InstanceID string                 `json:"instance_id"`
	Chunks     []registry.ChunkStatus `json:"chunks"`
	Modules    []types.ModuleID       `json:"modules"`
	Metrics    metrics.Snapshot       `json:"metrics"`
}

// New builds a Runtime from cfg.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	res, err := resolver.New(cfg.Remotes)
	if err != nil {
		return nil, fmt.Errorf("invalid remotes: %w", err)
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewCollector(cfg.Name, instanceID)
	}
	chunkFilename := cfg.ChunkFilename
	if chunkFilename == "" {
		chunkFilename = DefaultChunkFilename
	}

	table := registry.NewFactoryTable(logger.Named("registry"))
	host, err := sandbox.New(ctx, sandbox.Config{
		Table:            table,
		Logger:           logger.Named("sandbox"),
		Metrics:          m,
		MemoryLimitPages: cfg.MemoryLimitPages,
	})
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		name:          cfg.Name,
		instanceID:    instanceID,
		outputDir:     cfg.OutputDir,
		publicPath:    cfg.PublicPath,
		chunkFilename: chunkFilename,
		resolver:      res,
		fetcher: fetch.New(fetch.Config{
			Client:   cfg.HTTPClient,
			Timeout:  cfg.FetchTimeout,
			MaxBytes: cfg.MaxChunkBytes,
			Metrics:  m,
			Logger:   logger.Named("fetch"),
		}),
		host:    host,
		table:   table,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	rt.dispatch = newDispatcher(cfg.Observers, logger, m)
	rt.registry = registry.New(table, chunkLoader{rt},
		registry.WithLogger(logger.Named("registry")),
		registry.WithMetrics(m),
		registry.WithHook(rt.onLoad),
	)

	logger.Info("runtime started", map[string]any{
		"remotes":     res.Names(),
		"output_dir":  cfg.OutputDir,
		"public_path": cfg.PublicPath,
	})
	return rt, nil
}

// InstanceID returns the runtime instance id.
func (rt *Runtime) InstanceID() string { return rt.instanceID }

// Resolver returns the remote table.
func (rt *Runtime) Resolver() *resolver.Resolver { return rt.resolver }

// Metrics returns the runtime's collector.
func (rt *Runtime) Metrics() *metrics.Collector { return rt.metrics }

// ImportRemote loads the module remote exposes at exposePath. Every chunk
// the expose lists is installed first. Repeated calls return the same
// *sandbox.Exports.
func (rt *Runtime) ImportRemote(ctx context.Context, remote, exposePath string) (*sandbox.Exports, error) {
	_, exp, err := rt.resolver.Expose(remote, exposePath)
	if err != nil {
		return nil, err
	}
	chunk := types.NewChunkID(remote, exp.Chunk)

	if err := rt.ensureChunks(ctx, remote, exp.Chunks); err != nil {
		return nil, fmt.Errorf("import %s %s: %w", remote, exposePath, err)
	}

	started := rt.now()
	ex, created, err := rt.host.Instantiate(ctx, exp.Module)
	if err != nil {
		return nil, fmt.Errorf("import %s %s: %w", remote, exposePath, err)
	}
	if created {
		ev := rt.newEvent(types.LoadEventModuleImported, chunk)
		ev.ModuleID = exp.Module
		ev.DurationMs = rt.now().Sub(started).Milliseconds()
		rt.logger.Info("module imported", map[string]any{
			"remote": remote,
			"module": string(exp.Module),
			"chunk":  string(chunk),
		})
		rt.dispatch.emit(ev)
	}
	return ex, nil
}

// ensureChunks installs chunks of remote concurrently. The first failure in
// list order is returned.
func (rt *Runtime) ensureChunks(ctx context.Context, remote string, chunks []string) error {
	if len(chunks) == 1 {
		return rt.registry.EnsureInstalled(ctx, types.NewChunkID(remote, chunks[0]))
	}

	errs := make([]error, len(chunks))
	var wg sync.WaitGroup
	for i, c := range chunks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = rt.registry.EnsureInstalled(ctx, types.NewChunkID(remote, c))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Import loads a "remote/path" request.
func (rt *Runtime) Import(ctx context.Context, request string) (*sandbox.Exports, error) {
	remote, exposePath, err := resolver.SplitRequest(request)
	if err != nil {
		return nil, err
	}
	return rt.ImportRemote(ctx, remote, exposePath)
}

// EnsureChunk installs a remote chunk without instantiating any module.
func (rt *Runtime) EnsureChunk(ctx context.Context, remote, chunk string) error {
	if _, err := rt.resolver.Resolve(remote); err != nil {
		return err
	}
	return rt.registry.EnsureInstalled(ctx, types.NewChunkID(remote, chunk))
}

// Locate returns the fetch location derived for a remote chunk.
func (rt *Runtime) Locate(remote, chunk string) (fetch.Location, error) {
	desc, err := rt.resolver.Resolve(remote)
	if err != nil {
		return fetch.Location{}, err
	}
	return rt.locate(desc, chunk), nil
}

// RegisterHostModule exposes Go functions to chunk code under name.
func (rt *Runtime) RegisterHostModule(name string, funcs map[string]lua.LGFunction) error {
	return rt.host.RegisterHostModule(name, funcs)
}

// Snapshot returns chunk states, installed module ids and metrics.
func (rt *Runtime) Snapshot() Snapshot {
	return Snapshot{
		Name:       rt.name,
		InstanceID: rt.instanceID,
		Chunks:     rt.registry.Snapshot(),
		Modules:    rt.table.IDs(),
		Metrics:    rt.metrics.Snapshot(),
	}
}

// Close flushes pending events, closes observers and releases the sandbox.
func (rt *Runtime) Close(ctx context.Context) error {
	errs := []error{rt.dispatch.close(), rt.host.Close(ctx)}
	rt.logger.Info("runtime closed", map[string]any{
		"chunks": len(rt.registry.Snapshot()),
	})
	return errors.Join(errs...)
}

// onLoad turns a registry outcome into a load event.
func (rt *Runtime) onLoad(o registry.Outcome) {
	ev := rt.newEvent(types.LoadEventChunkInstalled, o.Chunk)
	ev.DurationMs = o.Duration.Milliseconds()
	if o.Payload != nil {
		ev.Source = o.Payload.Source
		ev.Location = o.Payload.Location
		ev.Bytes = o.Payload.Bytes
	}

	if o.Err != nil {
		ev.Type = types.LoadEventChunkFailed
		ev.Error = o.Err.Error()
	} else {
		rt.logger.Info("chunk installed", map[string]any{
			"chunk":       string(o.Chunk),
			"source":      string(ev.Source),
			"location":    ev.Location,
			"bytes":       ev.Bytes,
			"duration_ms": ev.DurationMs,
		})
	}
	rt.dispatch.emit(ev)
}

func (rt *Runtime) newEvent(typ types.LoadEventType, chunk types.ChunkID) *types.LoadEvent {
	return &types.LoadEvent{
		ContractVersion: types.ContractVersion,
		EventID:         uuid.NewString(),
		Type:            typ,
		InstanceID:      rt.instanceID,
		Runtime:         rt.name,
		Remote:          chunk.Remote(),
		ChunkID:         chunk,
		Ts:              rt.now().UTC().Format(time.RFC3339Nano),
	}
}
