package system

import (
	"time"

	"github.com/simpletalk/kernel/internal/core/event"
	coresys "github.com/simpletalk/kernel/internal/core/system"
)

// EventDispatchSystem delivers the kernel events emitted last tick.
// Phase 1 (Events).
type EventDispatchSystem struct {
	bus *event.Bus
}

func NewEventDispatchSystem(bus *event.Bus) *EventDispatchSystem {
	return &EventDispatchSystem{bus: bus}
}

func (s *EventDispatchSystem) Phase() coresys.Phase { return coresys.PhaseEvents }

func (s *EventDispatchSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}
