package scripting

import (
	"fmt"

	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/simpletalk/kernel/internal/core/part"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

type commandFunc func(s *System, msg message.Message) error

// System is the end of every delegation chain. It compiles part scripts
// and implements the commands no part handles itself.
type System struct {
	factory  *part.Factory
	engine   *Engine
	log      *zap.Logger
	commands map[string]commandFunc
}

// NewSystem wires a System to f and installs it on f's dispatcher. A nil
// engine disables scripting: scripts are stored but never compiled.
func NewSystem(f *part.Factory, engine *Engine, log *zap.Logger) *System {
	s := &System{
		factory: f,
		engine:  engine,
		log:     log,
		commands: map[string]commandFunc{
			"newModel":          (*System).newModel,
			"deleteModel":       (*System).deleteModel,
			"openScriptEditor":  (*System).openScriptEditor,
			"closeScriptEditor": (*System).closeScriptEditor,
			"setProperty":       (*System).setProperty,
		},
	}
	if engine != nil {
		engine.SetGlobal("lookup", s.luaLookup)
	}
	f.Dispatcher().SetSystem(s)
	return s
}

// Receive implements part.System.
func (s *System) Receive(msg message.Message) bool {
	switch msg.Type {
	case message.TypeCompile:
		s.compile(msg)
		return true
	case message.TypeError:
		s.log.Warn("error reached the system",
			zap.String("error", msg.ErrorName),
			zap.String("detail", msg.ErrorMessage),
			zap.String("sender", msg.SenderID),
		)
		return true
	case message.TypeDoesNotUnderstand:
		s.NotUnderstood(msg)
		return true
	case message.TypeCommand:
		fn, ok := s.commands[msg.CommandName]
		if !ok {
			return false
		}
		if err := fn(s, msg); err != nil {
			s.commandFailed(msg, err)
		}
		return true
	}
	return false
}

// commandFailed reports err to the command's sender as an error message,
// so an "error" handler in its script (or an owner's) can react. Without a
// live sender the failure is only logged.
func (s *System) commandFailed(msg message.Message, err error) {
	s.log.Warn("system command failed",
		zap.String("command", msg.CommandName),
		zap.String("sender", msg.SenderID),
		zap.Error(err),
	)
	sender, ok := s.factory.Lookup(msg.SenderID)
	if !ok {
		return
	}
	report := message.Error(message.CommandFailed, fmt.Sprintf("%s: %v", msg.CommandName, err)).To(sender.ID())
	if _, err := s.factory.Dispatcher().Send(report, nil, sender); err != nil {
		s.log.Warn("command failure not delivered", zap.String("sender", sender.ID()), zap.Error(err))
	}
}

// NotUnderstood logs a doesNotUnderstand notice.
func (s *System) NotUnderstood(notice message.Message) {
	sel := ""
	if notice.Original != nil {
		sel = notice.Original.Selector()
	}
	s.log.Info("message not understood",
		zap.String("selector", sel),
		zap.String("sender", notice.TargetID),
	)
}

func (s *System) compile(msg message.Message) {
	p, ok := s.factory.Lookup(msg.TargetID)
	if !ok {
		s.log.Debug("compile for unknown part", zap.String("part", msg.TargetID))
		return
	}
	if msg.Source == "" || s.engine == nil {
		p.SetScript(nil)
		return
	}
	script, err := s.engine.Compile("part "+p.ID(), msg.Source)
	if err != nil {
		// The previous handlers are dropped: a part never runs code that
		// no longer matches its script property.
		p.SetScript(nil)
		s.log.Warn("script compile failed", zap.String("part", p.ID()), zap.Error(err))
		return
	}
	p.SetScript(script)
	s.log.Debug("script compiled", zap.String("part", p.ID()), zap.Strings("handlers", script.Selectors()))
}

// newModel(kind, ownerId) creates a part and mounts it. ownerId defaults
// to the sender.
func (s *System) newModel(msg message.Message) error {
	kind := part.Kind(argString(msg.Args, 0))
	ownerID := argString(msg.Args, 1)
	if ownerID == "" {
		ownerID = msg.SenderID
	}
	owner, err := s.lookup(ownerID)
	if err != nil {
		return err
	}
	child, err := s.factory.New(kind)
	if err != nil {
		return err
	}
	if err := owner.AddChild(child); err != nil {
		s.factory.Discard(child)
		return err
	}
	s.log.Debug("model created",
		zap.String("part", child.ID()),
		zap.String("kind", string(kind)),
		zap.String("owner", owner.ID()),
	)
	return nil
}

// deleteModel(id) removes a part and its subtree from its owner.
func (s *System) deleteModel(msg message.Message) error {
	p, err := s.lookup(argString(msg.Args, 0))
	if err != nil {
		return err
	}
	owner := p.Owner()
	if owner == nil {
		return fmt.Errorf("delete %s: part has no owner", p.ID())
	}
	_, err = owner.RemoveChild(p.ID())
	return err
}

func (s *System) openScriptEditor(msg message.Message) error {
	return s.setEditor(msg, true)
}

func (s *System) closeScriptEditor(msg message.Message) error {
	return s.setEditor(msg, false)
}

func (s *System) setEditor(msg message.Message, open bool) error {
	p, err := s.lookup(argString(msg.Args, 0))
	if err != nil {
		return err
	}
	return p.Set("editorOpen", open)
}

// setProperty(id, name, value) writes a property on any part.
func (s *System) setProperty(msg message.Message) error {
	if len(msg.Args) < 3 {
		return fmt.Errorf("setProperty: want 3 arguments, got %d", len(msg.Args))
	}
	p, err := s.lookup(argString(msg.Args, 0))
	if err != nil {
		return err
	}
	return p.Set(argString(msg.Args, 1), msg.Args[2])
}

func (s *System) lookup(id string) (*part.Part, error) {
	p, ok := s.factory.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("no part with id %q", id)
	}
	return p, nil
}

// luaLookup is the script global lookup(id): the part or nil.
func (s *System) luaLookup(vm *lua.LState) int {
	p, _ := s.factory.Lookup(vm.CheckString(1))
	vm.Push(newPartValue(vm, p))
	return 1
}

func argString(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	switch v := args[i].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
