package system

import (
	"time"

	"github.com/simpletalk/kernel/internal/core/event"
	"github.com/simpletalk/kernel/internal/core/part"
	coresys "github.com/simpletalk/kernel/internal/core/system"
	"go.uber.org/zap"
)

// InboxSystem drains the kernel inbox and dispatches what other goroutines
// posted: poller readings, bridge requests. Phase 0 (Input).
type InboxSystem struct {
	queue      *event.Queue
	factory    *part.Factory
	bus        *event.Bus
	maxPerTick int
	log        *zap.Logger
}

func NewInboxSystem(queue *event.Queue, factory *part.Factory, bus *event.Bus, maxPerTick int, log *zap.Logger) *InboxSystem {
	return &InboxSystem{
		queue:      queue,
		factory:    factory,
		bus:        bus,
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *InboxSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InboxSystem) Update(_ time.Duration) {
	for _, it := range s.queue.Drain(s.maxPerTick) {
		if it.Run != nil {
			s.run(it.Run)
			continue
		}
		s.deliver(it)
	}
}

func (s *InboxSystem) deliver(it event.Item) {
	msg := it.Message
	target, ok := s.factory.Lookup(msg.TargetID)
	if !ok {
		// Readings for a part removed after its poller posted them.
		s.log.Debug("inbox message for unknown part",
			zap.String("target", msg.TargetID),
			zap.Stringer("msg", msg),
		)
		return
	}
	res, err := s.factory.Dispatcher().Send(msg, nil, target)
	if err != nil {
		s.log.Warn("inbox dispatch failed", zap.Stringer("msg", msg), zap.Error(err))
		return
	}
	if res.Notice != nil {
		event.Emit(s.bus, event.NotUnderstood{Notice: *res.Notice})
	}
}

func (s *InboxSystem) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("inbox task panic recovered", zap.Any("panic", r))
		}
	}()
	fn()
}
