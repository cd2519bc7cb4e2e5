// Package parts holds the concrete part kinds. Each kind only declares its
// properties and reacts to its own changes and messages; the tree,
// property store and dispatch machinery are shared from core/part.
package parts

import (
	"time"

	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/simpletalk/kernel/internal/core/part"
	"go.uber.org/zap"
)

// Poller is the vision polling collaborator. Parts drive it with start
// and stop messages; readings come back later as ordinary messages
// targeted at the part.
type Poller interface {
	Handle(targetID string, msg message.Message)
	Running(targetID string) bool
}

// Deps carries what the kinds need from the outside world.
type Deps struct {
	Poller         Poller
	VisionURL      string
	CursorPollTime time.Duration
	Log            *zap.Logger
}

// RegisterAll installs every kind on the factory.
func RegisterAll(f *part.Factory, deps *Deps) {
	f.Register(part.KindWorld, func() part.Behavior { return &World{deps: deps} })
	f.Register(part.KindStack, func() part.Behavior { return &Stack{} })
	f.Register(part.KindCard, func() part.Behavior { return &Card{} })
	f.Register(part.KindField, func() part.Behavior { return &Field{} })
	f.Register(part.KindButton, func() part.Behavior { return &Button{} })
	f.Register(part.KindSvg, func() part.Behavior { return &Svg{} })
	f.Register(part.KindVisionField, func() part.Behavior { return &VisionField{deps: deps} })
}

func (d *Deps) polls() bool { return d != nil && d.Poller != nil }

func (d *Deps) startPolling(targetID, url string, pollTime time.Duration) {
	d.Poller.Handle(targetID, message.Start(url, int(pollTime/time.Millisecond)))
}

func (d *Deps) stopPolling(targetID string) {
	d.Poller.Handle(targetID, message.Stop())
}

// staleStop reports whether a stopped notice belongs to an earlier polling
// session: the part was switched back on and a newer loop is running.
func (d *Deps) staleStop(targetID string) bool {
	return d.polls() && d.Poller.Running(targetID)
}

type prop struct {
	name  string
	value any
}

func declare(p *part.Part, props ...prop) error {
	s := p.Properties()
	for _, d := range props {
		if err := s.Declare(d.name, d.value); err != nil {
			return err
		}
	}
	return nil
}

// setOrLog writes a property from inside a reaction, where there is no
// caller to return the error to.
func setOrLog(p *part.Part, name string, value any) {
	if err := p.Set(name, value); err != nil {
		p.Logger().Warn("property write failed", zap.String("property", name), zap.Error(err))
	}
}

func truthy(v any) bool {
	b, _ := v.(bool)
	return b
}

func number(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return fallback
}
