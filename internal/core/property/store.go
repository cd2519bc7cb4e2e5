package property

// DefaultMaxNotifyDepth bounds nested writes issued from change handlers.
// A -> B -> A notification cycles fail with ErrNotifyDepthExceeded instead
// of overflowing the stack.
const DefaultMaxNotifyDepth = 32

// Owner is the part a Store belongs to.
type Owner interface {
	ID() string
}

// Observer receives change notifications. Views implement this.
type Observer interface {
	PropertyChanged(name string, value any, ownerID string)
}

// Disposable is implemented by observers that can be torn down without
// unsubscribing. A disposed observer is skipped and pruned on next notify.
type Disposable interface {
	Disposed() bool
}

// Hook is the owner's own change reaction. It runs before any subscriber.
type Hook func(name string, value any)

type subscription struct {
	observer Observer
	name     string // empty when all
	all      bool
}

// Store is the observable property bag of exactly one owner.
// Not safe for concurrent use: all access happens on the kernel goroutine.
// Nested writes from handlers run on the call stack, there is no lock.
type Store struct {
	owner    Owner
	hook     Hook
	props    map[string]*Property
	order    []string
	subs     []subscription
	depth    int
	maxDepth int
}

func NewStore(owner Owner, hook Hook) *Store {
	return &Store{
		owner:    owner,
		hook:     hook,
		props:    make(map[string]*Property, 16),
		order:    make([]string, 0, 16),
		maxDepth: DefaultMaxNotifyDepth,
	}
}

// SetMaxNotifyDepth overrides DefaultMaxNotifyDepth. Values < 1 are ignored.
func (s *Store) SetMaxNotifyDepth(n int) {
	if n > 0 {
		s.maxDepth = n
	}
}

// Declare adds a basic property with an initial value.
func (s *Store) Declare(name string, initial any, opts ...Option) error {
	if _, ok := s.props[name]; ok {
		return s.errorf(ErrDuplicateProperty, name)
	}
	initial = canonical(initial)
	p := &Property{name: name, value: initial, kind: Basic, assigned: initial != nil}
	for _, opt := range opts {
		opt(p)
	}
	s.add(p)
	return nil
}

// DeclareComputed adds a property whose value is derived by get at read
// time. A nil set makes it read-only.
func (s *Store) DeclareComputed(name string, get Getter, set Setter, opts ...Option) error {
	if _, ok := s.props[name]; ok {
		return s.errorf(ErrDuplicateProperty, name)
	}
	p := &Property{name: name, kind: Computed, getter: get, setter: set}
	for _, opt := range opts {
		opt(p)
	}
	s.add(p)
	return nil
}

func (s *Store) add(p *Property) {
	s.props[p.name] = p
	s.order = append(s.order, p.name)
}

// Get reads a property. Computed properties evaluate their rule now.
func (s *Store) Get(name string) (any, error) {
	p, ok := s.props[name]
	if !ok {
		return nil, s.errorf(ErrUnknownProperty, name)
	}
	return s.valueOf(p), nil
}

func (s *Store) valueOf(p *Property) any {
	if p.kind == Computed {
		return p.getter(s.owner)
	}
	return p.value
}

// Set writes a property and, when the value changed (or the property is
// always-notify), synchronously runs the owner hook and then every
// subscriber in subscription order before returning. Numbers are stored
// as float64 and lists take the shape of the current value, so writing
// back an equal value in another shape is not a change.
func (s *Store) Set(name string, value any) error {
	p, ok := s.props[name]
	if !ok {
		return s.errorf(ErrUnknownProperty, name)
	}
	if p.mutability == Fixed && p.assigned {
		return s.errorf(ErrImmutableProperty, name)
	}
	if s.depth >= s.maxDepth {
		return s.errorf(ErrNotifyDepthExceeded, name)
	}

	var changed bool
	if p.kind == Computed {
		if p.setter == nil {
			return s.errorf(ErrImmutableProperty, name)
		}
		before := p.getter(s.owner)
		if err := p.setter(s.owner, canonical(value)); err != nil {
			return err
		}
		value = p.getter(s.owner)
		changed = !equal(before, value)
	} else {
		value = conform(p.value, value)
		changed = !p.assigned || !equal(p.value, value)
		p.value = value
	}
	p.assigned = true

	if !changed && !p.alwaysNotify {
		return nil
	}
	s.notify(name, value)
	return nil
}

// Load restores a value without notifying and without the fixed check.
// Unknown names are declared as settable basic properties, which is how
// script-added properties survive a snapshot. Read-only computed
// properties ignore the value.
func (s *Store) Load(name string, value any) error {
	p, ok := s.props[name]
	if !ok {
		return s.Declare(name, value)
	}
	if p.kind == Computed {
		if p.setter == nil {
			return nil
		}
		return p.setter(s.owner, canonical(value))
	}
	p.value = conform(p.value, value)
	p.assigned = true
	return nil
}

func (s *Store) notify(name string, value any) {
	s.depth++
	defer func() { s.depth-- }()

	if s.hook != nil {
		s.hook(name, value)
	}

	// Iterate a snapshot: unsubscribes during this pass apply next time.
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	ownerID := s.owner.ID()
	pruned := false
	for _, sub := range subs {
		if !sub.all && sub.name != name {
			continue
		}
		if d, ok := sub.observer.(Disposable); ok && d.Disposed() {
			pruned = true
			continue
		}
		sub.observer.PropertyChanged(name, value, ownerID)
	}
	if pruned {
		s.pruneDisposed()
	}
}

func (s *Store) pruneDisposed() {
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if d, ok := sub.observer.(Disposable); ok && d.Disposed() {
			continue
		}
		kept = append(kept, sub)
	}
	s.subs = kept
}

// Subscribe registers o for changes of one property. Idempotent.
func (s *Store) Subscribe(name string, o Observer) error {
	if _, ok := s.props[name]; !ok {
		return s.errorf(ErrUnknownProperty, name)
	}
	if s.indexOf(o, name, false) >= 0 {
		return nil
	}
	s.subs = append(s.subs, subscription{observer: o, name: name})
	return nil
}

// Unsubscribe is a no-op when o is not subscribed to name.
func (s *Store) Unsubscribe(name string, o Observer) {
	if i := s.indexOf(o, name, false); i >= 0 {
		s.subs = append(s.subs[:i], s.subs[i+1:]...)
	}
}

// SubscribeAll registers o for every property, including ones declared
// later. Idempotent.
func (s *Store) SubscribeAll(o Observer) {
	if s.indexOf(o, "", true) >= 0 {
		return
	}
	s.subs = append(s.subs, subscription{observer: o, all: true})
}

// UnsubscribeAll drops every subscription held by o.
func (s *Store) UnsubscribeAll(o Observer) {
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if sub.observer != o {
			kept = append(kept, sub)
		}
	}
	s.subs = kept
}

// DetachAll drops every subscription. Used when the owner is destroyed.
func (s *Store) DetachAll() {
	s.subs = nil
}

func (s *Store) indexOf(o Observer, name string, all bool) int {
	for i, sub := range s.subs {
		if sub.observer == o && sub.all == all && sub.name == name {
			return i
		}
	}
	return -1
}

// SubscriberCount reports how many observers would be notified for name.
func (s *Store) SubscriberCount(name string) int {
	n := 0
	for _, sub := range s.subs {
		if sub.all || sub.name == name {
			n++
		}
	}
	return n
}

// FindByName returns the descriptor for name. Never fails.
func (s *Store) FindByName(name string) (*Property, bool) {
	p, ok := s.props[name]
	return p, ok
}

// Names returns property names in declaration order.
func (s *Store) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Values flattens the store into name -> current value.
func (s *Store) Values() map[string]any {
	out := make(map[string]any, len(s.props))
	for _, name := range s.order {
		out[name] = s.valueOf(s.props[name])
	}
	return out
}
