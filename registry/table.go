package registry

import (
	"sort"
	"sync"

	"github.com/justapithecus/fedrun/log"
	"github.com/justapithecus/fedrun/sandbox"
	"github.com/justapithecus/fedrun/types"
)

// FactoryTable is the append-only union of every installed module factory.
// A merge is applied under one write lock, so readers never observe a
// partially merged chunk. On id collision the last writer wins.
type FactoryTable struct {
	mu        sync.RWMutex
	factories map[types.ModuleID]sandbox.Factory
	logger    *log.Logger
}

// NewFactoryTable creates an empty table. A nil logger discards collision
// warnings.
func NewFactoryTable(logger *log.Logger) *FactoryTable {
	if logger == nil {
		logger = log.NewNop()
	}
	return &FactoryTable{
		factories: make(map[types.ModuleID]sandbox.Factory),
		logger:    logger,
	}
}

// Lookup returns the factory registered for id.
func (t *FactoryTable) Lookup(id types.ModuleID) (sandbox.Factory, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.factories[id]
	return f, ok
}

// Merge adds factories to the table and returns the ids that replaced an
// existing factory from a different chunk.
func (t *FactoryTable) Merge(factories map[types.ModuleID]sandbox.Factory) []types.ModuleID {
	var replaced []types.ModuleID

	t.mu.Lock()
	for id, f := range factories {
		if prev, ok := t.factories[id]; ok && prev.Chunk() != f.Chunk() {
			replaced = append(replaced, id)
			t.logger.Warn("module factory replaced", map[string]any{
				"module":         string(id),
				"previous_chunk": string(prev.Chunk()),
				"chunk":          string(f.Chunk()),
			})
		}
		t.factories[id] = f
	}
	t.mu.Unlock()

	sort.Slice(replaced, func(i, j int) bool { return replaced[i] < replaced[j] })
	return replaced
}

// Len returns the number of registered factories.
func (t *FactoryTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.factories)
}

// IDs returns the registered module ids in sorted order.
func (t *FactoryTable) IDs() []types.ModuleID {
	t.mu.RLock()
	ids := make([]types.ModuleID, 0, len(t.factories))
	for id := range t.factories {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var _ sandbox.Table = (*FactoryTable)(nil)
