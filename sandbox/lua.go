package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/justapithecus/fedrun/types"
)

// preludeGlobals are the base-library names visible to chunk code. Loaders,
// file access and environment manipulation stay out of reach.
var preludeGlobals = []string{
	"assert", "error", "ipairs", "next", "pairs", "pcall",
	"rawequal", "rawget", "rawset", "select", "setmetatable", "getmetatable",
	"tonumber", "tostring", "type", "unpack", "xpcall", "_VERSION",
}

// preludeLibs are copied per chunk so one chunk cannot patch another's view.
var preludeLibs = []string{lua.StringLibName, lua.TabLibName, lua.MathLibName}

// luaState is a Lua state plus pristine copies of the prelude libraries,
// taken before any chunk code runs.
type luaState struct {
	L    *lua.LState
	libs map[string]*lua.LTable
}

func newLuaState() (*luaState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, err
		}
	}

	libs := make(map[string]*lua.LTable, len(preludeLibs))
	for _, name := range preludeLibs {
		lib, ok := L.G.Global.RawGetString(name).(*lua.LTable)
		if !ok {
			L.Close()
			return nil, fmt.Errorf("library %s not loaded", name)
		}
		libs[name] = copyLib(L, lib)
	}
	sealStringMetatable(L, libs[lua.StringLibName])
	return &luaState{L: L, libs: libs}, nil
}

// sealStringMetatable replaces the shared string metatable with one whose
// __index is a private copy of the string library. getmetatable on a string
// returns false, so chunks cannot reach or patch string methods.
func sealStringMetatable(L *lua.LState, stringLib *lua.LTable) {
	mt := L.NewTable()
	mt.RawSetString("__index", copyLib(L, stringLib))
	mt.RawSetString("__metatable", lua.LFalse)
	L.SetMetatable(lua.LString(""), mt)
}

// copyLib copies a library table without its metatable fields.
func copyLib(L *lua.LState, src *lua.LTable) *lua.LTable {
	dst := L.NewTable()
	src.ForEach(func(k, v lua.LValue) {
		if name, ok := k.(lua.LString); ok && strings.HasPrefix(string(name), "__") {
			return
		}
		dst.RawSet(k, v)
	})
	return dst
}

// newEnv builds a fresh global environment for one chunk.
func (h *Host) newEnv(origin Origin) *lua.LTable {
	globals := h.L.G.Global
	env := h.L.NewTable()
	for _, name := range preludeGlobals {
		if v := globals.RawGetString(name); v != lua.LNil {
			env.RawSetString(name, v)
		}
	}
	for _, name := range preludeLibs {
		env.RawSetString(name, copyTable(h.L, h.libs[name]))
	}
	env.RawSetString("print", h.L.NewFunction(h.printFor(origin.Chunk)))
	env.RawSetString("_G", env)
	return env
}

// evaluateLua runs a Lua chunk body. Callers must hold the host.
func (h *Host) evaluateLua(source []byte, origin Origin) (*Chunk, error) {
	fn, err := h.L.Load(bytes.NewReader(source), origin.Filename)
	if err != nil {
		return nil, &types.EvaluationError{Chunk: origin.Chunk, Filename: origin.Filename, Cause: luaError(err)}
	}

	exports := h.L.NewTable()
	module := h.L.NewTable()
	module.RawSetString("exports", exports)

	env := h.newEnv(origin)
	env.RawSetString("exports", exports)
	env.RawSetString("module", module)
	env.RawSetString("require", h.requireFn)
	env.RawSetString("__filename", lua.LString(origin.Filename))
	env.RawSetString("__dirname", lua.LString(origin.Dirname))
	fn.Env = env

	if err := h.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return nil, &types.EvaluationError{Chunk: origin.Chunk, Filename: origin.Filename, Cause: luaError(err)}
	}

	payload, ok := module.RawGetString("exports").(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("chunk exports must be a table, got %s", module.RawGetString("exports").Type())
	}
	return h.parseLuaChunk(payload, origin)
}

// parseLuaChunk reads ids, modules and runtime from a chunk's exports.
func (h *Host) parseLuaChunk(payload *lua.LTable, origin Origin) (*Chunk, error) {
	chunk := &Chunk{
		Origin:    origin,
		Factories: make(map[types.ModuleID]Factory),
		host:      h,
	}

	switch ids := payload.RawGetString("ids").(type) {
	case *lua.LNilType:
		chunk.IDs = []string{origin.Chunk.Name()}
	case *lua.LTable:
		for i := 1; i <= ids.Len(); i++ {
			s, ok := ids.RawGetInt(i).(lua.LString)
			if !ok || s == "" {
				return nil, fmt.Errorf("exports.ids[%d] must be a non-empty string", i)
			}
			chunk.IDs = append(chunk.IDs, string(s))
		}
	default:
		return nil, fmt.Errorf("exports.ids must be a list, got %s", ids.Type())
	}

	switch mods := payload.RawGetString("modules").(type) {
	case *lua.LNilType:
	case *lua.LTable:
		var bad error
		mods.ForEach(func(k, v lua.LValue) {
			if bad != nil {
				return
			}
			key, ok := k.(lua.LString)
			if !ok {
				bad = fmt.Errorf("exports.modules key %s must be a string", k.String())
				return
			}
			fn, ok := v.(*lua.LFunction)
			if !ok {
				bad = fmt.Errorf("exports.modules[%q] must be a function, got %s", string(key), v.Type())
				return
			}
			chunk.Factories[types.ModuleID(key)] = &luaFactory{chunk: origin.Chunk, fn: fn}
		})
		if bad != nil {
			return nil, bad
		}
	default:
		return nil, fmt.Errorf("exports.modules must be a table, got %s", mods.Type())
	}

	switch rt := payload.RawGetString("runtime").(type) {
	case *lua.LNilType:
	case *lua.LFunction:
		chunk.runtime = rt
	default:
		return nil, fmt.Errorf("exports.runtime must be a function, got %s", rt.Type())
	}

	return chunk, nil
}

// luaFactory runs function(module, exports, require).
type luaFactory struct {
	chunk types.ChunkID
	fn    *lua.LFunction
}

func (f *luaFactory) Chunk() types.ChunkID { return f.chunk }
func (f *luaFactory) Kind() string         { return "lua" }

func (f *luaFactory) instantiate(_ context.Context, h *Host, inst *instance) error {
	err := h.L.CallByParam(lua.P{Fn: f.fn, NRet: 0, Protect: true},
		inst.module, inst.module.RawGetString("exports"), h.requireFn)
	return luaError(err)
}

// luaRequire is the require binding handed to chunk code. It runs with the
// host already held by the caller that entered Lua.
func (h *Host) luaRequire(L *lua.LState) int {
	name := L.CheckString(1)

	if mod, ok := h.hostModules[name]; ok {
		L.Push(mod)
		return 1
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	inst, _, err := h.requireLocked(ctx, types.ModuleID(name))
	if err != nil {
		L.RaiseError("require %q: %s", name, err.Error())
		return 0
	}
	L.Push(inst.module.RawGetString("exports"))
	return 1
}

// printFor routes print through the runtime logger.
func (h *Host) printFor(chunk types.ChunkID) lua.LGFunction {
	return func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		h.logger.Info("chunk output", map[string]any{
			"chunk":   string(chunk),
			"message": strings.Join(parts, "\t"),
		})
		return 0
	}
}

// logModule backs require("log").
func (h *Host) logModule() map[string]lua.LGFunction {
	emit := func(write func(string, map[string]any)) lua.LGFunction {
		return func(L *lua.LState) int {
			msg := L.CheckString(1)
			var fields map[string]any
			if tbl, ok := L.Get(2).(*lua.LTable); ok {
				if m, ok := toGo(tbl).(map[string]any); ok {
					fields = m
				}
			}
			write(msg, fields)
			return 0
		}
	}
	return map[string]lua.LGFunction{
		"debug": emit(h.logger.Debug),
		"info":  emit(h.logger.Info),
		"warn":  emit(h.logger.Warn),
		"error": emit(h.logger.Error),
	}
}

func copyTable(L *lua.LState, src *lua.LTable) *lua.LTable {
	dst := L.NewTable()
	src.ForEach(func(k, v lua.LValue) {
		dst.RawSet(k, v)
	})
	return dst
}

// luaError unwraps the message of a raised Lua error.
func luaError(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return errors.New(apiErr.Object.String())
	}
	return err
}
