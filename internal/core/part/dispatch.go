package part

import (
	"fmt"

	"github.com/simpletalk/kernel/internal/core/message"
	"go.uber.org/zap"
)

// System is the collaborator of last resort: it compiles scripts and holds
// the handlers no part in the chain provides. Receive reports whether the
// message was understood.
type System interface {
	Receive(msg message.Message) bool
}

// Outcome of dispatching one message.
type Outcome int

const (
	// Handled by a part in the delegation chain.
	Handled Outcome = iota
	// Forwarded past the world to the System, which handled it.
	Forwarded
	// Unhandled: nobody understood the message.
	Unhandled
)

func (o Outcome) String() string {
	switch o {
	case Handled:
		return "Handled"
	case Forwarded:
		return "Forwarded"
	case Unhandled:
		return "Unhandled"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result describes how a message was resolved. Notice is the
// doesNotUnderstand message reported back to the sender, nil when the
// message was handled or marked ignore-if-unhandled.
type Result struct {
	Outcome   Outcome
	HandledBy string
	Notice    *message.Message
}

// Dispatcher resolves messages along the ownership chain:
// target -> owner -> ... -> world -> System. Dispatch is synchronous; a
// message and every notification it triggers complete before Send returns.
type Dispatcher struct {
	system System
	log    *zap.Logger
}

func newDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{log: log}
}

// SetSystem installs the System collaborator.
func (d *Dispatcher) SetSystem(s System) { d.system = s }

// Send dispatches msg from sender starting at target (sender when target
// is nil). sender may be nil for messages from outside the tree.
func (d *Dispatcher) Send(msg message.Message, sender, target *Part) (Result, error) {
	if target == nil {
		target = sender
	}
	if target == nil {
		return Result{}, partErr(ErrNoTarget, "", "%s", msg)
	}
	if target.destroyed {
		return Result{}, partErr(ErrDestroyedPart, target.id, "cannot deliver %s", msg)
	}
	if sender != nil && msg.SenderID == "" {
		msg = msg.From(sender.id)
	}

	// Iterative walk bounded by tree depth; the tree is acyclic by
	// construction so no part is offered the message twice.
	for cur := target; cur != nil; cur = cur.owner {
		handled, err := d.offer(cur, msg)
		if err != nil {
			return Result{}, err
		}
		if handled {
			return Result{Outcome: Handled, HandledBy: cur.id}, nil
		}
	}
	return d.terminate(msg, sender)
}

// terminate runs the end of the chain: System, then doesNotUnderstand.
func (d *Dispatcher) terminate(msg message.Message, sender *Part) (Result, error) {
	if d.ToSystem(msg) {
		return Result{Outcome: Forwarded, HandledBy: "system"}, nil
	}
	if msg.ShouldIgnore {
		d.log.Debug("unhandled message dropped", zap.Stringer("msg", msg), zap.String("sender", msg.SenderID))
		return Result{Outcome: Unhandled}, nil
	}

	notice := message.DoesNotUnderstand(msg)
	d.log.Debug("does not understand", zap.Stringer("msg", msg), zap.String("sender", msg.SenderID))
	// Reported to the sender's own handlers only; never escalated.
	if sender != nil && !sender.destroyed {
		if _, err := d.offer(sender, notice); err != nil {
			return Result{}, err
		}
	}
	return Result{Outcome: Unhandled, Notice: &notice}, nil
}

// ToSystem hands msg directly to the System collaborator.
func (d *Dispatcher) ToSystem(msg message.Message) bool {
	if d.system == nil {
		return false
	}
	ok, err := d.safeCall("system", func() bool { return d.system.Receive(msg) })
	if err != nil {
		return true
	}
	return ok
}

// offer is the local attempt: compiled script first, then built-ins.
func (d *Dispatcher) offer(p *Part, msg message.Message) (bool, error) {
	return d.safeCall(p.id, func() bool {
		if p.script != nil && p.script.Handle(p, msg) {
			return true
		}
		if r, ok := p.behavior.(Responder); ok && r.Respond(p, msg) {
			return true
		}
		return false
	})
}

// safeCall recovers handler panics so one bad script cannot take down the
// kernel loop.
func (d *Dispatcher) safeCall(where string, fn func() bool) (handled bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("handler panic recovered",
				zap.String("part", where),
				zap.Any("panic", rec),
			)
			err = partErr(ErrHandlerPanic, where, "%v", rec)
		}
	}()
	return fn(), nil
}
