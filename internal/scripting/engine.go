package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/simpletalk/kernel/internal/core/part"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM shared by every compiled part script.
// Single-goroutine access only (kernel loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads the shared library scripts from
// libDir. Globals defined there are visible to every part script. An empty
// libDir loads nothing.
func NewEngine(libDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	registerPartType(vm)

	e := &Engine{vm: vm, log: log}
	if libDir != "" {
		if err := e.loadDir(libDir); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load script library: %w", err)
		}
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// SetGlobal exposes a Go function to every script.
func (e *Engine) SetGlobal(name string, fn lua.LGFunction) {
	e.vm.SetGlobal(name, e.vm.NewFunction(fn))
}

// Script is the compiled form of one part's script: every top-level
// function it defines becomes a handler for the selector of the same name.
type Script struct {
	engine   *Engine
	name     string
	handlers map[string]*lua.LFunction
}

// Compile runs source in a fresh environment that falls back to the
// globals, and collects the functions it defines.
func (e *Engine) Compile(name, source string) (*Script, error) {
	fn, err := e.vm.Load(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	env := e.vm.NewTable()
	mt := e.vm.NewTable()
	mt.RawSetString("__index", e.vm.G.Global)
	e.vm.SetMetatable(env, mt)
	e.vm.SetFEnv(fn, env)

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}); err != nil {
		return nil, fmt.Errorf("run %s: %w", name, err)
	}

	s := &Script{engine: e, name: name, handlers: make(map[string]*lua.LFunction)}
	env.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			return
		}
		if f, ok := v.(*lua.LFunction); ok {
			s.handlers[string(key)] = f
		}
	})
	return s, nil
}

// Selectors lists the handler names the script defines.
func (s *Script) Selectors() []string {
	out := make([]string, 0, len(s.handlers))
	for k := range s.handlers {
		out = append(out, k)
	}
	return out
}

// Handle runs the handler matching msg's selector. Commands receive their
// arguments spread after self; other messages receive a table describing
// the message. A handler that returns false passes the message on to the
// owner chain. Lua errors are logged and count as handled.
func (s *Script) Handle(p *part.Part, msg message.Message) bool {
	fn, ok := s.handlers[msg.Selector()]
	if !ok {
		return false
	}
	vm := s.engine.vm

	args := []lua.LValue{newPartValue(vm, p)}
	if msg.Type == message.TypeCommand {
		for _, a := range msg.Args {
			args = append(args, toLua(vm, a))
		}
	} else {
		args = append(args, messageTable(vm, msg))
	}

	if err := vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		s.engine.log.Error("lua handler error",
			zap.String("part", p.ID()),
			zap.String("handler", msg.Selector()),
			zap.Error(err),
		)
		return true
	}

	result := vm.Get(-1)
	vm.Pop(1)
	return result != lua.LFalse
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
