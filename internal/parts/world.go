package parts

import (
	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/simpletalk/kernel/internal/core/part"
	"go.uber.org/zap"
)

// World is the root of every ownership chain and the last part asked
// before a message reaches the System. It aggregates the loaded stacks
// and owns the global cursor state fed by the vision poller.
type World struct {
	deps *Deps
}

func (w *World) Kind() part.Kind { return part.KindWorld }

func (w *World) AcceptedChildKinds() []part.Kind { return []part.Kind{part.KindStack} }

func (w *World) DeclareProperties(p *part.Part) error {
	return declare(p,
		prop{"currentStack", ""},
		prop{"cursorPosition", []float64{}},
		prop{"useVisionCursor", false},
	)
}

func (w *World) OnPropertyChanged(p *part.Part, name string, value any) {
	if name != "useVisionCursor" || !w.deps.polls() {
		return
	}
	if truthy(value) {
		w.deps.startPolling(p.ID(), w.deps.VisionURL, w.deps.CursorPollTime)
	} else {
		w.deps.stopPolling(p.ID())
	}
}

// Restored resumes the vision cursor for a world saved with it on.
func (w *World) Restored(p *part.Part) {
	if on, _ := p.Get("useVisionCursor"); truthy(on) && w.deps.polls() {
		w.deps.startPolling(p.ID(), w.deps.VisionURL, w.deps.CursorPollTime)
	}
}

// Respond maps poller traffic addressed to the world onto cursor state.
func (w *World) Respond(p *part.Part, msg message.Message) bool {
	if msg.TargetID != p.ID() {
		return false
	}
	switch msg.Type {
	case message.TypeStopped:
		if w.deps.staleStop(p.ID()) {
			return true
		}
		setOrLog(p, "useVisionCursor", false)
	case message.TypeCoordinate:
		setOrLog(p, "cursorPosition", msg.Coordinate)
	case message.TypeEmpty:
		setOrLog(p, "cursorPosition", []float64{})
	case message.TypeError:
		if msg.ErrorName == message.CommandFailed {
			return false
		}
		setOrLog(p, "useVisionCursor", false)
		if _, err := p.Delegate(msg); err != nil {
			p.Logger().Warn("vision error not delivered", zap.Error(err))
		}
	default:
		return false
	}
	return true
}

// LoadedStacks returns the stack subparts in order.
func LoadedStacks(world *part.Part) []*part.Part {
	var out []*part.Part
	for _, c := range world.Subparts() {
		if c.Kind() == part.KindStack {
			out = append(out, c)
		}
	}
	return out
}

func (w *World) DecorateSnapshot(p *part.Part, s *part.PartSnapshot) {
	s.LoadedStacks = []string{}
	for _, st := range LoadedStacks(p) {
		s.LoadedStacks = append(s.LoadedStacks, st.ID())
	}
	current, _ := p.Get("currentStack")
	if id, ok := current.(string); ok && id != "" {
		s.CurrentStack = &id
	}
}
