package part

import (
	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/simpletalk/kernel/internal/core/property"
	"go.uber.org/zap"
)

// Part is a node of the ownership tree. Parts are only created by a
// Factory and destroyed by removal from their owner.
type Part struct {
	id       string
	behavior Behavior
	owner    *Part
	subparts []*Part
	props    *property.Store
	script   Handler
	factory  *Factory

	destroyed bool
}

func (p *Part) ID() string                  { return p.id }
func (p *Part) Kind() Kind                  { return p.behavior.Kind() }
func (p *Part) Behavior() Behavior          { return p.behavior }
func (p *Part) Owner() *Part                { return p.owner }
func (p *Part) Properties() *property.Store { return p.props }
func (p *Part) IsDestroyed() bool           { return p.destroyed }
func (p *Part) Script() Handler             { return p.script }
func (p *Part) SetScript(h Handler)         { p.script = h }

// Get reads a property of p.
func (p *Part) Get(name string) (any, error) {
	return p.props.Get(name)
}

// Set writes a property of p, notifying synchronously.
func (p *Part) Set(name string, value any) error {
	return p.props.Set(name, value)
}

// Subparts returns the ordered children. The slice is a copy.
func (p *Part) Subparts() []*Part {
	out := make([]*Part, len(p.subparts))
	copy(out, p.subparts)
	return out
}

// Subpart finds a direct child by id.
func (p *Part) Subpart(id string) *Part {
	for _, c := range p.subparts {
		if c.id == id {
			return c
		}
	}
	return nil
}

// Accepts reports whether kind may be added as a child.
func (p *Part) Accepts(kind Kind) bool {
	for _, k := range p.behavior.AcceptedChildKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// AddChild appends c to the subparts. The tree is unchanged on error.
func (p *Part) AddChild(c *Part) error {
	if p.destroyed {
		return partErr(ErrDestroyedPart, p.id, "cannot add to a destroyed part")
	}
	if c.destroyed {
		return partErr(ErrDestroyedPart, c.id, "cannot add a destroyed part")
	}
	if !p.Accepts(c.Kind()) {
		return partErr(ErrRejectedChildKind, p.id, "%s does not accept %s", p.Kind(), c.Kind())
	}
	if c.owner != nil {
		return partErr(ErrHasOwner, c.id, "owned by %s", c.owner.id)
	}
	for a := p; a != nil; a = a.owner {
		if a == c {
			return partErr(ErrOwnershipCycle, c.id, "is an ancestor of %s", p.id)
		}
	}
	p.subparts = append(p.subparts, c)
	c.owner = p
	return nil
}

// RemoveChild detaches the child and destroys its subtree: subscriptions
// are torn down, ids unregistered and further messages to any removed part
// fail with ErrDestroyedPart.
func (p *Part) RemoveChild(id string) (*Part, error) {
	for i, c := range p.subparts {
		if c.id != id {
			continue
		}
		p.subparts = append(p.subparts[:i], p.subparts[i+1:]...)
		c.owner = nil
		c.destroy()
		return c, nil
	}
	return nil, partErr(ErrNoSuchChild, p.id, "%s", id)
}

func (p *Part) destroy() {
	for _, c := range p.subparts {
		c.destroy()
	}
	if d, ok := p.behavior.(Destroyer); ok {
		d.OnDestroy(p)
	}
	p.props.DetachAll()
	p.script = nil
	p.destroyed = true
	p.factory.unregister(p)
}

// SendMessage dispatches msg starting at target, or at p when target is nil.
func (p *Part) SendMessage(msg message.Message, target *Part) (Result, error) {
	return p.factory.dispatcher.Send(msg, p, target)
}

// Delegate forwards msg to the owner chain, skipping p's own handlers.
// Kinds use it to re-raise messages they only partially handle.
func (p *Part) Delegate(msg message.Message) (Result, error) {
	if p.owner == nil {
		return p.factory.dispatcher.terminate(msg, p)
	}
	return p.factory.dispatcher.Send(msg, p, p.owner)
}

// propertyChanged is the store hook: the first synthetic subscriber.
func (p *Part) propertyChanged(name string, value any) {
	if name == "script" {
		src, _ := value.(string)
		p.factory.dispatcher.ToSystem(message.Compile(src, p.id).From(p.id))
	}
	p.behavior.OnPropertyChanged(p, name, value)
}

// Logger returns the factory logger tagged with this part.
func (p *Part) Logger() *zap.Logger {
	return p.factory.log.With(zap.String("part", p.id), zap.String("kind", string(p.Kind())))
}

// Factory returns the factory that created p.
func (p *Part) Factory() *Factory { return p.factory }

// Strings coerces a list value (as stored, or as decoded from JSON) to
// a string slice. Non-string entries are skipped.
func Strings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
