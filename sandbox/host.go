// Package sandbox evaluates chunk source in isolated scopes and instantiates
// the module factories chunks provide.
//
// A Host owns one Lua state and one WebAssembly runtime. Every evaluation,
// chunk initialization, module instantiation and call into module exports
// runs under the host mutex, so the host behaves as a single control thread
// regardless of how many goroutines fetch chunks concurrently.
//
// Lua chunks run in a fresh environment table that exposes a safe prelude
// plus five injected names: exports, require, module, __filename and
// __dirname. A Lua chunk exports its payload shaped as:
//
//	exports.ids = { "shared" }
//	exports.modules = {
//	  ["./src/shared"] = function(module, exports, require) ... end,
//	}
//	exports.runtime = function(require, shareScope) ... end
//
// WebAssembly chunks contribute a single module whose id is the chunk id.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	lua "github.com/yuin/gopher-lua"

	"github.com/justapithecus/fedrun/log"
	"github.com/justapithecus/fedrun/metrics"
	"github.com/justapithecus/fedrun/types"
)

// wasmMagic prefixes every WebAssembly binary.
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// ErrClosed is returned by operations on a closed Host.
var ErrClosed = errors.New("sandbox host closed")

// Table resolves module ids to installed factories.
type Table interface {
	Lookup(id types.ModuleID) (Factory, bool)
}

// Factory produces the exports of one module. Factories are created only by
// Host.Evaluate.
type Factory interface {
	// Chunk returns the chunk that provided the factory.
	Chunk() types.ChunkID
	// Kind returns "lua" or "wasm".
	Kind() string

	instantiate(ctx context.Context, h *Host, inst *instance) error
}

// Origin identifies the chunk being evaluated.
type Origin struct {
	Chunk types.ChunkID
	// Filename is the logical filename bound to __filename.
	Filename string
	// Dirname is the logical directory bound to __dirname.
	Dirname string
}

// Config configures a Host.
type Config struct {
	// Table resolves module ids for Require (required).
	Table Table
	// Logger backs the default log host module and print. Nil discards.
	Logger *log.Logger
	// Metrics receives evaluation and import counters. May be nil.
	Metrics *metrics.Collector
	// MemoryLimitPages bounds wasm instance memory in 64KiB pages.
	// Zero keeps the wazero default.
	MemoryLimitPages uint32
}

// Host is the evaluation context shared by every chunk of one runtime.
type Host struct {
	mu      sync.Mutex
	closed  bool
	L       *lua.LState
	libs    map[string]*lua.LTable
	wasm    wazero.Runtime
	table   Table
	logger  *log.Logger
	metrics *metrics.Collector

	cache       map[types.ModuleID]*instance
	scopes      map[string]*lua.LTable
	hostModules map[string]*lua.LTable
	requireFn   *lua.LFunction
}

// instance is one module-cache entry.
type instance struct {
	id      types.ModuleID
	kind    string
	module  *lua.LTable
	exports *Exports
}

// New creates a Host with the default log host module registered.
func New(ctx context.Context, cfg Config) (*Host, error) {
	if cfg.Table == nil {
		return nil, errors.New("sandbox: module table is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	state, err := newLuaState()
	if err != nil {
		return nil, fmt.Errorf("sandbox: open lua state: %w", err)
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	h := &Host{
		L:           state.L,
		libs:        state.libs,
		wasm:        wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		table:       cfg.Table,
		logger:      logger,
		metrics:     cfg.Metrics,
		cache:       make(map[types.ModuleID]*instance),
		scopes:      make(map[string]*lua.LTable),
		hostModules: make(map[string]*lua.LTable),
	}
	h.requireFn = state.L.NewFunction(h.luaRequire)

	if err := h.RegisterHostModule("log", h.logModule()); err != nil {
		h.L.Close()
		return nil, err
	}
	return h, nil
}

// enter acquires the host and binds ctx to the Lua state until the returned
// func is called.
func (h *Host) enter(ctx context.Context) (func(), error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if ctx != nil {
		h.L.SetContext(ctx)
	}
	return func() {
		h.L.RemoveContext()
		h.mu.Unlock()
	}, nil
}

// Evaluate runs source as a standalone module body and returns the chunk it
// exports. WebAssembly binaries are compiled instead of run.
func (h *Host) Evaluate(ctx context.Context, source []byte, origin Origin) (*Chunk, error) {
	leave, err := h.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	var chunk *Chunk
	if bytes.HasPrefix(source, wasmMagic) {
		chunk, err = h.evaluateWasm(ctx, source, origin)
	} else {
		chunk, err = h.evaluateLua(source, origin)
	}
	h.metrics.IncEvaluation(err != nil)
	if err != nil {
		var evalErr *types.EvaluationError
		if !errors.As(err, &evalErr) {
			err = &types.EvaluationError{Chunk: origin.Chunk, Filename: origin.Filename, Cause: err}
		}
		return nil, err
	}

	h.logger.Debug("chunk evaluated", map[string]any{
		"chunk":    string(origin.Chunk),
		"filename": origin.Filename,
		"modules":  len(chunk.Factories),
	})
	return chunk, nil
}

// Require returns the exports of module id, instantiating it on first use.
// The same *Exports is returned for every later call.
func (h *Host) Require(ctx context.Context, id types.ModuleID) (*Exports, error) {
	ex, _, err := h.Instantiate(ctx, id)
	return ex, err
}

// Instantiate is Require that also reports whether this call ran the
// module factory.
func (h *Host) Instantiate(ctx context.Context, id types.ModuleID) (*Exports, bool, error) {
	leave, err := h.enter(ctx)
	if err != nil {
		return nil, false, err
	}
	defer leave()

	inst, cached, err := h.requireLocked(ctx, id)
	if err != nil {
		return nil, false, err
	}
	h.metrics.IncModuleImport(cached)
	return inst.exports, !cached, nil
}

// Instantiated reports whether module id is in the module cache.
func (h *Host) Instantiated(id types.ModuleID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.cache[id]
	return ok
}

// requireLocked implements the module cache. The cache entry exists before
// the factory runs, so a cyclic require observes the partial exports. A
// failing factory leaves no cache entry behind.
func (h *Host) requireLocked(ctx context.Context, id types.ModuleID) (*instance, bool, error) {
	if inst, ok := h.cache[id]; ok {
		return inst, true, nil
	}

	f, ok := h.table.Lookup(id)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", types.ErrModuleNotFound, id)
	}

	module := h.L.NewTable()
	module.RawSetString("id", lua.LString(id))
	module.RawSetString("exports", h.L.NewTable())

	inst := &instance{id: id, kind: f.Kind(), module: module}
	inst.exports = &Exports{host: h, inst: inst}
	h.cache[id] = inst

	if err := f.instantiate(ctx, h, inst); err != nil {
		delete(h.cache, id)
		return nil, false, &types.EvaluationError{Chunk: f.Chunk(), Module: id, Cause: err}
	}

	h.logger.Debug("module instantiated", map[string]any{
		"module": string(id),
		"chunk":  string(f.Chunk()),
		"kind":   f.Kind(),
	})
	return inst, false, nil
}

// shareScope returns the Lua table backing a named share scope, creating it
// on first use. Callers must hold the host.
func (h *Host) shareScope(name string) *lua.LTable {
	if name == "" {
		name = types.DefaultShareScope
	}
	scope, ok := h.scopes[name]
	if !ok {
		scope = h.L.NewTable()
		h.scopes[name] = scope
	}
	return scope
}

// ShareScopeKeys lists the keys registered in a share scope, for diagnostics.
func (h *Host) ShareScopeKeys(name string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	scope, ok := h.scopes[name]
	if !ok {
		return nil
	}
	return tableKeys(scope)
}

// RegisterHostModule makes a table of Go functions requireable from chunks
// under name. Host modules take precedence over installed module ids.
func (h *Host) RegisterHostModule(name string, funcs map[string]lua.LGFunction) error {
	if name == "" {
		return errors.New("sandbox: host module name is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.hostModules[name] = h.L.SetFuncs(h.L.NewTable(), funcs)
	return nil
}

// Close releases the Lua state and the wasm runtime.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.cache = nil
	h.L.Close()
	return h.wasm.Close(ctx)
}
