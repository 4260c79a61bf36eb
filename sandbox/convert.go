package sandbox

import (
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// maxConvertDepth bounds recursion through nested or cyclic tables.
const maxConvertDepth = 32

// toGo converts a Lua value to plain Go data. Sequence tables become []any,
// other tables map[string]any. Functions become the string "function".
func toGo(v lua.LValue) any {
	return toGoDepth(v, 0)
}

func toGoDepth(v lua.LValue, depth int) any {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LString:
		return string(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case *lua.LTable:
		if depth >= maxConvertDepth {
			return "table"
		}
		if n := v.Len(); n > 0 && isSequence(v, n) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, toGoDepth(v.RawGetInt(i), depth+1))
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(k, val lua.LValue) {
			out[k.String()] = toGoDepth(val, depth+1)
		})
		return out
	case *lua.LFunction:
		return "function"
	default:
		return v.Type().String()
	}
}

func isSequence(t *lua.LTable, n int) bool {
	count := 0
	sequence := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		num, ok := k.(lua.LNumber)
		if !ok || float64(num) != math.Trunc(float64(num)) || num < 1 || int(num) > n {
			sequence = false
		}
	})
	return sequence && count == n
}

// toLua converts Go data to a Lua value.
func toLua(L *lua.LState, v any) (lua.LValue, error) {
	switch v := v.(type) {
	case nil:
		return lua.LNil, nil
	case lua.LValue:
		return v, nil
	case bool:
		return lua.LBool(v), nil
	case string:
		return lua.LString(v), nil
	case int:
		return lua.LNumber(v), nil
	case int32:
		return lua.LNumber(v), nil
	case int64:
		return lua.LNumber(v), nil
	case uint32:
		return lua.LNumber(v), nil
	case uint64:
		return lua.LNumber(v), nil
	case float32:
		return lua.LNumber(v), nil
	case float64:
		return lua.LNumber(v), nil
	case []string:
		t := L.CreateTable(len(v), 0)
		for _, s := range v {
			t.Append(lua.LString(s))
		}
		return t, nil
	case []any:
		t := L.CreateTable(len(v), 0)
		for i, item := range v {
			lv, err := toLua(L, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			t.Append(lv)
		}
		return t, nil
	case map[string]any:
		t := L.CreateTable(0, len(v))
		for k, item := range v {
			lv, err := toLua(L, item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			t.RawSetString(k, lv)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}

// tableKeys returns the string keys of t in sorted order.
func tableKeys(t *lua.LTable) []string {
	var keys []string
	t.ForEach(func(k, _ lua.LValue) {
		if s, ok := k.(lua.LString); ok {
			keys = append(keys, string(s))
		}
	})
	sort.Strings(keys)
	return keys
}
