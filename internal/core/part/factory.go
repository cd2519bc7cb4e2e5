package part

import (
	"strconv"

	"github.com/simpletalk/kernel/internal/core/property"
	"go.uber.org/zap"
)

// IDPool issues part ids. Unlike entity slots, part ids are never reused
// within a process: restoring a snapshot reserves its numeric ids so that
// fresh ones cannot collide.
type IDPool struct {
	next uint64
}

func (p *IDPool) Next() string {
	p.next++
	return strconv.FormatUint(p.next, 10)
}

// Reserve advances the pool past a restored id. Non-numeric ids are ignored.
func (p *IDPool) Reserve(id string) {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil && n > p.next {
		p.next = n
	}
}

// Constructor returns a fresh behavior for one part.
type Constructor func() Behavior

// Factory creates parts, owns the id pool and the id -> part index, and
// wires every part to the shared dispatcher.
type Factory struct {
	ctors          map[Kind]Constructor
	parts          map[string]*Part
	pool           IDPool
	dispatcher     *Dispatcher
	world          *Part
	maxNotifyDepth int
	log            *zap.Logger
}

func NewFactory(log *zap.Logger) *Factory {
	return &Factory{
		ctors:          make(map[Kind]Constructor, len(kinds)),
		parts:          make(map[string]*Part, 256),
		dispatcher:     newDispatcher(log),
		maxNotifyDepth: property.DefaultMaxNotifyDepth,
		log:            log,
	}
}

// Register maps a kind to its behavior constructor.
func (f *Factory) Register(kind Kind, ctor Constructor) {
	f.ctors[kind] = ctor
}

// SetMaxNotifyDepth applies to parts created afterwards.
func (f *Factory) SetMaxNotifyDepth(n int) {
	if n > 0 {
		f.maxNotifyDepth = n
	}
}

func (f *Factory) Dispatcher() *Dispatcher { return f.dispatcher }

// World returns the root part, or nil before it is created.
func (f *Factory) World() *Part { return f.world }

// Lookup returns a live part by id.
func (f *Factory) Lookup(id string) (*Part, bool) {
	p, ok := f.parts[id]
	return p, ok
}

// Len returns the number of live parts.
func (f *Factory) Len() int { return len(f.parts) }

// New creates an unmounted part of the given kind. The world part always
// gets WorldID and may only be created once.
func (f *Factory) New(kind Kind) (*Part, error) {
	if kind == KindWorld {
		if f.world != nil {
			return nil, partErr(ErrWorldExists, WorldID, "")
		}
		return f.create(kind, WorldID)
	}
	// Validate before drawing an id so a rejected kind does not burn one.
	if _, ok := f.ctors[kind]; !ok || !kind.Valid() {
		return nil, partErr(ErrUnknownKind, "", "%q", kind)
	}
	return f.create(kind, f.pool.Next())
}

// restore creates a part with a known id, used by Deserialize.
func (f *Factory) restore(kind Kind, id string) (*Part, error) {
	if _, ok := f.parts[id]; ok {
		return nil, malformedf("id %s already in use", id)
	}
	if kind == KindWorld {
		if id != WorldID {
			return nil, malformedf("world part has id %q", id)
		}
		if f.world != nil {
			return nil, malformedf("world already exists")
		}
	} else if id == WorldID {
		return nil, malformedf("%s part uses reserved id %q", kind, id)
	}
	f.pool.Reserve(id)
	return f.create(kind, id)
}

func (f *Factory) create(kind Kind, id string) (*Part, error) {
	ctor, ok := f.ctors[kind]
	if !ok || !kind.Valid() {
		return nil, partErr(ErrUnknownKind, id, "%q", kind)
	}
	p := &Part{id: id, behavior: ctor(), factory: f}
	p.props = property.NewStore(p, p.propertyChanged)
	p.props.SetMaxNotifyDepth(f.maxNotifyDepth)
	if err := declareBase(p); err != nil {
		return nil, err
	}
	if err := p.behavior.DeclareProperties(p); err != nil {
		return nil, err
	}
	f.parts[id] = p
	if kind == KindWorld {
		f.world = p
	}
	f.log.Debug("part created", zap.String("part", id), zap.String("kind", string(kind)))
	return p, nil
}

// Discard destroys a part that never made it into the tree, such as one
// whose AddChild was rejected. Mounted parts are left alone.
func (f *Factory) Discard(p *Part) {
	if p.owner != nil || p.destroyed {
		return
	}
	p.destroy()
}

func (f *Factory) unregister(p *Part) {
	delete(f.parts, p.id)
	if f.world == p {
		f.world = nil
	}
}

// declareBase adds the properties every kind shares.
func declareBase(p *Part) error {
	s := p.props
	for _, d := range []struct {
		name  string
		value any
	}{
		{"name", ""},
		{"script", ""},
		{"events", []string{}},
		{"editorOpen", false},
		{"top", 0.0},
		{"left", 0.0},
		{"width", 0.0},
		{"height", 0.0},
	} {
		if err := s.Declare(d.name, d.value); err != nil {
			return err
		}
	}
	return nil
}
