package part

import "github.com/simpletalk/kernel/internal/core/message"

// Kind is drawn from a closed set of part kinds.
type Kind string

const (
	KindWorld       Kind = "world"
	KindStack       Kind = "stack"
	KindCard        Kind = "card"
	KindField       Kind = "field"
	KindButton      Kind = "button"
	KindSvg         Kind = "svg"
	KindVisionField Kind = "vision-field"
)

// WorldID is reserved for the root part.
const WorldID = "world"

var kinds = map[Kind]bool{
	KindWorld: true, KindStack: true, KindCard: true, KindField: true,
	KindButton: true, KindSvg: true, KindVisionField: true,
}

func (k Kind) Valid() bool { return kinds[k] }

// Behavior is what a kind adds on top of the shared part machinery: which
// properties it declares and how it reacts to its own property changes.
type Behavior interface {
	Kind() Kind
	AcceptedChildKinds() []Kind
	DeclareProperties(p *Part) error
	OnPropertyChanged(p *Part, name string, value any)
}

// Responder is implemented by behaviors with built-in message handlers.
// Respond reports whether the message was handled.
type Responder interface {
	Respond(p *Part, msg message.Message) bool
}

// Destroyer is implemented by behaviors holding side effects that must stop
// when the part is removed from the tree.
type Destroyer interface {
	OnDestroy(p *Part)
}

// Restorer is implemented by behaviors whose properties drive side
// effects. Loading a snapshot writes properties without change hooks, so
// Restored runs once per part after the whole tree is mounted and its
// scripts are compiled.
type Restorer interface {
	Restored(p *Part)
}

// SnapshotDecorator lets a kind add its own fields to a snapshot entry.
type SnapshotDecorator interface {
	DecorateSnapshot(p *Part, s *PartSnapshot)
}

// Handler is behavior compiled from a part's script by the System.
type Handler interface {
	Handle(p *Part, msg message.Message) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(p *Part, msg message.Message) bool

func (f HandlerFunc) Handle(p *Part, msg message.Message) bool { return f(p, msg) }
