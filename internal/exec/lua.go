package exec

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// LuaInvoker runs .lua entry files. Each invocation gets a fresh state
// with a restricted standard library: no os, no io, no file loading.
type LuaInvoker struct{}

func (i *LuaInvoker) Invoke(ctx context.Context, ws *Workspace, file, function string, input map[string]any) (map[string]any, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	// OpenBase registers file loading; the sandbox forbids it.
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)

	L.SetContext(ctx)

	if err := L.DoFile(ws.Path(file)); err != nil {
		return nil, fmt.Errorf("load %s: %w", file, err)
	}

	fn := L.GetGlobal(function)
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("script %s defines no function %q: %w", file, function, ErrEntryPointNotFound)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, goMapToLua(L, input)); err != nil {
		return nil, fmt.Errorf("call %s: %w", function, err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	if ret == lua.LNil {
		return map[string]any{}, nil
	}
	if out, ok := luaToGo(ret).(map[string]any); ok {
		return out, nil
	}
	return map[string]any{"result": luaToGo(ret)}, nil
}

func goMapToLua(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		L.SetField(tbl, k, goValueToLua(L, v))
	}
	return tbl
}

func goValueToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.RawSetInt(tbl, i+1, goValueToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			L.RawSetInt(tbl, i+1, lua.LString(item))
		}
		return tbl
	case map[string]any:
		return goMapToLua(L, val)
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		// Tables with only 1..n integer keys come back as slices,
		// everything else as maps. Empty tables decode as empty slices.
		isArray := true
		maxIdx := 0
		val.ForEach(func(k, _ lua.LValue) {
			if num, ok := k.(lua.LNumber); ok {
				if idx := int(num); idx > maxIdx {
					maxIdx = idx
				}
			} else {
				isArray = false
			}
		})
		if isArray {
			arr := make([]any, maxIdx)
			val.ForEach(func(k, item lua.LValue) {
				if num, ok := k.(lua.LNumber); ok {
					if idx := int(num) - 1; idx >= 0 && idx < len(arr) {
						arr[idx] = luaToGo(item)
					}
				}
			})
			return arr
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			if key, ok := k.(lua.LString); ok {
				out[string(key)] = luaToGo(item)
			}
		})
		return out
	default:
		return nil
	}
}
