package sandbox

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/justapithecus/fedrun/types"
)

// Exports is the memoized export value of one instantiated module.
// All methods acquire the host.
type Exports struct {
	host *Host
	inst *instance
}

// Module returns the module id.
func (e *Exports) Module() types.ModuleID {
	return e.inst.id
}

// Kind returns "lua" or "wasm".
func (e *Exports) Kind() string {
	return e.inst.kind
}

// value reads module.exports. Factories may replace it, so it is read on
// every access. Callers must hold the host.
func (e *Exports) value() lua.LValue {
	return e.inst.module.RawGetString("exports")
}

// Keys lists the export names in sorted order. Empty when the module
// exports a non-table value.
func (e *Exports) Keys() []string {
	h := e.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if t, ok := e.value().(*lua.LTable); ok {
		return tableKeys(t)
	}
	return nil
}

// Get returns the Go conversion of a named export.
func (e *Exports) Get(name string) (any, bool) {
	h := e.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	t, ok := e.value().(*lua.LTable)
	if !ok {
		return nil, false
	}
	v := t.RawGetString(name)
	if v == lua.LNil {
		return nil, false
	}
	return toGo(v), true
}

// Value returns the Go conversion of the whole export value.
func (e *Exports) Value() any {
	h := e.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	return toGo(e.value())
}

// Call invokes an exported function with args converted to Lua and returns
// its results converted to Go.
func (e *Exports) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	h := e.host
	leave, err := h.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	var fn lua.LValue = lua.LNil
	if t, ok := e.value().(*lua.LTable); ok {
		fn = t.RawGetString(name)
	} else if name == "" {
		fn = e.value()
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%s: export %q is not a function", e.inst.id, name)
	}

	L := h.L
	base := L.GetTop()
	L.Push(fn)
	for i, arg := range args {
		lv, err := toLua(L, arg)
		if err != nil {
			L.SetTop(base)
			return nil, fmt.Errorf("%s.%s: argument %d: %w", e.inst.id, name, i+1, err)
		}
		L.Push(lv)
	}

	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		L.SetTop(base)
		return nil, &types.EvaluationError{Module: e.inst.id, Cause: luaError(err)}
	}

	n := L.GetTop() - base
	out := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, toGo(L.Get(base+i)))
	}
	L.SetTop(base)
	return out, nil
}
