// Package view binds renderers to parts. A View observes every property of
// its model part and turns user events into messages sent from the model.
// Views are driven from the kernel loop goroutine only.
package view

import (
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/simpletalk/kernel/internal/core/part"
	"go.uber.org/zap"
)

var (
	ErrNoModel        = errors.New("view has no model")
	ErrDisposed       = errors.New("view is disposed")
	ErrEventNotBound  = errors.New("event not bound on model")
	ErrDestroyedModel = errors.New("model part is destroyed")
)

// Handler reacts to one property's new value.
type Handler func(v *View, value any)

// View is the observer half of a part binding.
type View struct {
	id       string
	model    *part.Part
	handlers map[string]Handler
	fallback func(v *View, name string, value any)
	events   map[string]bool
	disposed bool
	log      *zap.Logger
}

func New(log *zap.Logger) *View {
	v := &View{
		id:       uuid.NewString(),
		handlers: make(map[string]Handler),
		events:   make(map[string]bool),
	}
	v.log = log.With(zap.String("view", v.id))
	v.OnPropChange("events", (*View).setEvents)
	return v
}

func (v *View) ID() string        { return v.id }
func (v *View) Model() *part.Part { return v.model }
func (v *View) Disposed() bool    { return v.disposed }

// OnPropChange installs the handler for one property, replacing any
// previous one.
func (v *View) OnPropChange(name string, h Handler) {
	v.handlers[name] = h
}

// OnAnyChange installs a handler for properties without their own.
func (v *View) OnAnyChange(fn func(v *View, name string, value any)) {
	v.fallback = fn
}

// SetModel binds the view to p, unbinding any previous model, and replays
// every current property value through the handlers.
func (v *View) SetModel(p *part.Part) error {
	if v.disposed {
		return ErrDisposed
	}
	if p.IsDestroyed() {
		return ErrDestroyedModel
	}
	v.UnsetModel()
	v.model = p
	p.Properties().SubscribeAll(v)

	values := p.Properties().Values()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v.apply(name, values[name])
	}
	return nil
}

// UnsetModel unsubscribes from the current model, if any.
func (v *View) UnsetModel() {
	if v.model == nil {
		return
	}
	v.model.Properties().UnsubscribeAll(v)
	v.model = nil
	v.events = make(map[string]bool)
}

// Dispose unbinds the view for good.
func (v *View) Dispose() {
	v.UnsetModel()
	v.disposed = true
}

// PropertyChanged implements property.Observer.
func (v *View) PropertyChanged(name string, value any, ownerID string) {
	if v.model == nil || ownerID != v.model.ID() {
		return
	}
	v.apply(name, value)
}

func (v *View) apply(name string, value any) {
	if h, ok := v.handlers[name]; ok {
		h(v, value)
		if name != "events" || v.fallback == nil {
			return
		}
	}
	if v.fallback != nil {
		v.fallback(v, name, value)
	}
}

func (v *View) setEvents(value any) {
	v.events = make(map[string]bool)
	for _, e := range part.Strings(value) {
		v.events[e] = true
	}
}

// Events lists the events the model currently listens for.
func (v *View) Events() []string {
	out := make([]string, 0, len(v.events))
	for e := range v.events {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Trigger forwards a user event to the model as an ignorable command sent
// from the model itself.
func (v *View) Trigger(eventName string, args ...any) (part.Result, error) {
	if v.model == nil {
		return part.Result{}, ErrNoModel
	}
	if !v.events[eventName] {
		return part.Result{}, ErrEventNotBound
	}
	v.log.Debug("view event", zap.String("event", eventName), zap.String("part", v.model.ID()))
	return v.model.SendMessage(message.IgnorableCommand(eventName, args...), nil)
}
