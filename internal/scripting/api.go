package scripting

import (
	"sort"

	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/simpletalk/kernel/internal/core/part"
	lua "github.com/yuin/gopher-lua"
)

const partTypeName = "part"

var partMethods = map[string]lua.LGFunction{
	"id":       partID,
	"kind":     partKind,
	"get":      partGet,
	"set":      partSet,
	"send":     partSend,
	"tell":     partTell,
	"owner":    partOwner,
	"subparts": partSubparts,
}

func registerPartType(vm *lua.LState) {
	mt := vm.NewTypeMetatable(partTypeName)
	vm.SetField(mt, "__index", vm.SetFuncs(vm.NewTable(), partMethods))
}

func newPartValue(vm *lua.LState, p *part.Part) lua.LValue {
	if p == nil {
		return lua.LNil
	}
	ud := vm.NewUserData()
	ud.Value = p
	vm.SetMetatable(ud, vm.GetTypeMetatable(partTypeName))
	return ud
}

func checkPart(vm *lua.LState, n int) *part.Part {
	ud := vm.CheckUserData(n)
	if p, ok := ud.Value.(*part.Part); ok {
		return p
	}
	vm.ArgError(n, "part expected")
	return nil
}

func partID(vm *lua.LState) int {
	vm.Push(lua.LString(checkPart(vm, 1).ID()))
	return 1
}

func partKind(vm *lua.LState) int {
	vm.Push(lua.LString(checkPart(vm, 1).Kind()))
	return 1
}

func partGet(vm *lua.LState) int {
	p := checkPart(vm, 1)
	v, err := p.Get(vm.CheckString(2))
	if err != nil {
		vm.RaiseError("%s", err.Error())
	}
	vm.Push(toLua(vm, v))
	return 1
}

func partSet(vm *lua.LState) int {
	p := checkPart(vm, 1)
	if err := p.Set(vm.CheckString(2), fromLua(vm.Get(3))); err != nil {
		vm.RaiseError("%s", err.Error())
	}
	return 0
}

// partSend dispatches a command from the part to itself, so it travels the
// part's own delegation chain. Returns the outcome name.
func partSend(vm *lua.LState) int {
	p := checkPart(vm, 1)
	cmd := message.Command(vm.CheckString(2), restArgs(vm, 3)...)
	return pushOutcome(vm, p, cmd, nil)
}

// partTell dispatches a command from the part to another part by id.
func partTell(vm *lua.LState) int {
	p := checkPart(vm, 1)
	target, ok := p.Factory().Lookup(vm.CheckString(2))
	if !ok {
		vm.ArgError(2, "no such part")
		return 0
	}
	cmd := message.Command(vm.CheckString(3), restArgs(vm, 4)...)
	return pushOutcome(vm, p, cmd, target)
}

func pushOutcome(vm *lua.LState, p *part.Part, msg message.Message, target *part.Part) int {
	res, err := p.SendMessage(msg, target)
	if err != nil {
		vm.RaiseError("%s", err.Error())
	}
	vm.Push(lua.LString(res.Outcome.String()))
	return 1
}

func partOwner(vm *lua.LState) int {
	vm.Push(newPartValue(vm, checkPart(vm, 1).Owner()))
	return 1
}

func partSubparts(vm *lua.LState) int {
	t := vm.NewTable()
	for _, c := range checkPart(vm, 1).Subparts() {
		t.Append(newPartValue(vm, c))
	}
	vm.Push(t)
	return 1
}

func restArgs(vm *lua.LState, from int) []any {
	var out []any
	for i := from; i <= vm.GetTop(); i++ {
		out = append(out, fromLua(vm.Get(i)))
	}
	return out
}

// messageTable describes a non-command message to a handler.
func messageTable(vm *lua.LState, msg message.Message) *lua.LTable {
	t := vm.NewTable()
	t.RawSetString("type", lua.LString(msg.Type))
	if msg.SenderID != "" {
		t.RawSetString("sender", lua.LString(msg.SenderID))
	}
	if msg.TargetID != "" {
		t.RawSetString("target", lua.LString(msg.TargetID))
	}
	switch msg.Type {
	case message.TypeCoordinate:
		t.RawSetString("coordinate", toLua(vm, msg.Coordinate))
	case message.TypeError:
		t.RawSetString("error", lua.LString(msg.ErrorName))
		t.RawSetString("message", lua.LString(msg.ErrorMessage))
	case message.TypeDoesNotUnderstand:
		if msg.Original != nil {
			t.RawSetString("original", lua.LString(msg.Original.Selector()))
		}
	}
	return t
}

// toLua converts a property value to Lua. Lists become sequences and
// maps become tables; anything unknown is nil.
func toLua(vm *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case float64:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case []string:
		tbl := vm.NewTable()
		for _, s := range t {
			tbl.Append(lua.LString(s))
		}
		return tbl
	case []float64:
		tbl := vm.NewTable()
		for _, f := range t {
			tbl.Append(lua.LNumber(f))
		}
		return tbl
	case [][]float64:
		tbl := vm.NewTable()
		for _, row := range t {
			tbl.Append(toLua(vm, row))
		}
		return tbl
	case []any:
		tbl := vm.NewTable()
		for _, e := range t {
			tbl.Append(toLua(vm, e))
		}
		return tbl
	case map[string]any:
		tbl := vm.NewTable()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			tbl.RawSetString(k, toLua(vm, t[k]))
		}
		return tbl
	case *part.Part:
		return newPartValue(vm, t)
	}
	return lua.LNil
}

// fromLua converts a Lua value to the shapes the property store holds:
// numbers are float64, sequences are []any, other tables map[string]any.
func fromLua(v lua.LValue) any {
	switch t := v.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LString:
		return string(t)
	case lua.LNumber:
		return float64(t)
	case *lua.LTable:
		if n := t.MaxN(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(t.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		t.ForEach(func(k, val lua.LValue) {
			if ks, ok := k.(lua.LString); ok {
				out[string(ks)] = fromLua(val)
			}
		})
		if len(out) == 0 {
			return []any{}
		}
		return out
	case *lua.LUserData:
		if p, ok := t.Value.(*part.Part); ok {
			return p.ID()
		}
	}
	return nil
}
