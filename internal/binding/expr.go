// Package binding evaluates subject-binding criterion expressions against
// token claims. Expressions are Lua, compiled once per criterion and
// evaluated with the claims exposed as the `claims` global, e.g.
// `claims.email` or `string.lower(claims.upn)`.
package binding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// ErrEvaluation wraps any failure while evaluating a criterion expression.
var ErrEvaluation = errors.New("criterion expression evaluation failed")

// evalTimeout bounds a single expression evaluation.
const evalTimeout = 5 * time.Second

// CompiledCriterion is a pre-compiled criterion expression, reusable across
// evaluations.
type CompiledCriterion struct {
	attribute string
	proto     *lua.FunctionProto
	mu        sync.Mutex
}

// Attribute returns the user attribute this criterion filters on.
func (cc *CompiledCriterion) Attribute() string { return cc.attribute }

// Compile parses and compiles a criterion expression. The expression must
// evaluate to a single value; it is wrapped in a return statement before
// compilation.
func Compile(attribute, expression string) (*CompiledCriterion, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	fn, err := L.LoadString("return (" + expression + ")")
	if err != nil {
		return nil, fmt.Errorf("%w: compile %q: %v", ErrEvaluation, expression, err)
	}
	return &CompiledCriterion{attribute: attribute, proto: fn.Proto}, nil
}

// Evaluate runs the expression against the given claims and returns the
// resulting value as a string. A nil result is returned as the empty string;
// deciding whether an empty value is acceptable is the caller's policy.
func (cc *CompiledCriterion) Evaluate(claims map[string]any) (string, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()
	L.SetContext(ctx)

	openSafeLibs(L)

	L.SetGlobal("claims", mapToLTable(L, claims))

	fn := L.NewFunctionFromProto(cc.proto)
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return luaToString(ret)
}

func luaToString(v lua.LValue) (string, error) {
	switch val := v.(type) {
	case lua.LString:
		return string(val), nil
	case lua.LNumber:
		return strconv.FormatFloat(float64(val), 'f', -1, 64), nil
	case lua.LBool:
		return strconv.FormatBool(bool(val)), nil
	case *lua.LNilType:
		return "", nil
	default:
		return "", fmt.Errorf("%w: expression returned unsupported type %s", ErrEvaluation, v.Type())
	}
}

// openSafeLibs opens only side-effect-free standard libraries; os, io,
// debug and package never become visible to expressions.
func openSafeLibs(L *lua.LState) {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
}

// mapToLTable converts a Go map to a Lua table.
func mapToLTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		tbl.RawSetString(k, goToLua(L, v))
	}
	return tbl
}

// goToLua converts a Go claim value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case map[string]any:
		return mapToLTable(L, val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, lua.LString(item))
		}
		return tbl
	case nil:
		return lua.LNil
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
