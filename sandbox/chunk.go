package sandbox

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/justapithecus/fedrun/types"
)

// Chunk is the result of evaluating one chunk's source.
type Chunk struct {
	Origin Origin
	// IDs are the chunk names this payload satisfies, unqualified.
	// Defaults to the origin chunk's own name.
	IDs []string
	// Factories are the module factories to merge into the factory table.
	Factories map[types.ModuleID]Factory

	runtime *lua.LFunction
	host    *Host
}

// HasInitializer reports whether the chunk declared a runtime initializer.
func (c *Chunk) HasInitializer() bool {
	return c.runtime != nil
}

// Initializer returns a func that runs the chunk's runtime initializer with
// require and the named share scope. The func is a no-op for chunks without
// one. It acquires the host when called.
func (c *Chunk) Initializer(ctx context.Context, shareScope string) func() error {
	return func() error {
		if c.runtime == nil {
			return nil
		}
		h := c.host
		leave, err := h.enter(ctx)
		if err != nil {
			return err
		}
		defer leave()

		err = h.L.CallByParam(lua.P{Fn: c.runtime, NRet: 0, Protect: true},
			h.requireFn, h.shareScope(shareScope))
		if err != nil {
			return &types.EvaluationError{Chunk: c.Origin.Chunk, Filename: c.Origin.Filename, Cause: luaError(err)}
		}
		return nil
	}
}
