package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput   Phase = iota // 0: drain the kernel inbox
	PhaseEvents               // 1: deliver last tick's kernel events
	PhaseUpdate               // 2: periodic kernel work
	PhasePersist              // 3: snapshot saves
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhaseEvents:
		return "events"
	case PhaseUpdate:
		return "update"
	case PhasePersist:
		return "persist"
	}
	return "unknown"
}

// System is the interface every kernel system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
