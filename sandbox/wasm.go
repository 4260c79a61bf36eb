package sandbox

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	lua "github.com/yuin/gopher-lua"

	"github.com/justapithecus/fedrun/types"
)

// evaluateWasm compiles a WebAssembly chunk. Callers must hold the host.
func (h *Host) evaluateWasm(ctx context.Context, source []byte, origin Origin) (*Chunk, error) {
	compiled, err := h.wasm.CompileModule(ctx, source)
	if err != nil {
		return nil, &types.EvaluationError{Chunk: origin.Chunk, Filename: origin.Filename, Cause: fmt.Errorf("compile wasm: %w", err)}
	}
	return &Chunk{
		Origin: origin,
		IDs:    []string{origin.Chunk.Name()},
		Factories: map[types.ModuleID]Factory{
			types.ModuleID(origin.Chunk): &wasmFactory{chunk: origin.Chunk, compiled: compiled},
		},
		host: h,
	}, nil
}

// wasmFactory instantiates a compiled module and exposes its exported
// functions as Lua functions on the module's exports table.
type wasmFactory struct {
	chunk    types.ChunkID
	compiled wazero.CompiledModule
}

func (f *wasmFactory) Chunk() types.ChunkID { return f.chunk }
func (f *wasmFactory) Kind() string         { return "wasm" }

func (f *wasmFactory) instantiate(ctx context.Context, h *Host, inst *instance) error {
	mod, err := h.wasm.InstantiateModule(ctx, f.compiled, wazero.NewModuleConfig().WithName(string(inst.id)))
	if err != nil {
		return fmt.Errorf("instantiate wasm: %w", err)
	}

	defs := f.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	exports := h.L.NewTable()
	for _, name := range names {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			continue
		}
		exports.RawSetString(name, h.L.NewFunction(wasmCall(name, fn, defs[name])))
	}
	inst.module.RawSetString("exports", exports)
	return nil
}

// wasmCall adapts a wasm export to the Lua calling convention. Arguments
// and results are numbers encoded per the function signature.
func wasmCall(name string, fn api.Function, def api.FunctionDefinition) lua.LGFunction {
	params := def.ParamTypes()
	results := def.ResultTypes()
	return func(L *lua.LState) int {
		if L.GetTop() != len(params) {
			L.RaiseError("%s: expected %d arguments, got %d", name, len(params), L.GetTop())
			return 0
		}
		args := make([]uint64, len(params))
		for i, vt := range params {
			n := L.CheckNumber(i + 1)
			v, err := encodeWasmValue(vt, float64(n))
			if err != nil {
				L.ArgError(i+1, err.Error())
				return 0
			}
			args[i] = v
		}

		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		out, err := fn.Call(ctx, args...)
		if err != nil {
			L.RaiseError("%s: %s", name, err.Error())
			return 0
		}
		for i, vt := range results {
			v, err := decodeWasmValue(vt, out[i])
			if err != nil {
				L.RaiseError("%s: %s", name, err.Error())
				return 0
			}
			L.Push(v)
		}
		return len(results)
	}
}

// encodeWasmValue rejects integer arguments that are fractional or do not
// fit the parameter type instead of truncating them.
func encodeWasmValue(vt api.ValueType, n float64) (uint64, error) {
	switch vt {
	case api.ValueTypeI32:
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, fmt.Errorf("%v is not an i32", n)
		}
		return api.EncodeI32(int32(n)), nil
	case api.ValueTypeI64:
		// 2^63 is exact as a float64; MaxInt64 is not.
		if n != math.Trunc(n) || n < math.MinInt64 || n >= 1<<63 {
			return 0, fmt.Errorf("%v is not an i64", n)
		}
		return api.EncodeI64(int64(n)), nil
	case api.ValueTypeF32:
		return api.EncodeF32(float32(n)), nil
	case api.ValueTypeF64:
		return api.EncodeF64(n), nil
	default:
		return 0, fmt.Errorf("unsupported parameter type %s", api.ValueTypeName(vt))
	}
}

func decodeWasmValue(vt api.ValueType, v uint64) (lua.LValue, error) {
	switch vt {
	case api.ValueTypeI32:
		return lua.LNumber(api.DecodeI32(v)), nil
	case api.ValueTypeI64:
		return lua.LNumber(int64(v)), nil
	case api.ValueTypeF32:
		return lua.LNumber(api.DecodeF32(v)), nil
	case api.ValueTypeF64:
		return lua.LNumber(api.DecodeF64(v)), nil
	default:
		return lua.LNil, fmt.Errorf("unsupported result type %s", api.ValueTypeName(vt))
	}
}
