package property

// Mutability is either Settable or Fixed. A Fixed property accepts exactly
// one assignment: its initial value, or the first Set if declared empty.
type Mutability int

const (
	Settable Mutability = iota
	Fixed
)

func (m Mutability) String() string {
	if m == Fixed {
		return "fixed"
	}
	return "settable"
}

// Kind distinguishes stored values from rule-derived ones.
type Kind int

const (
	Basic Kind = iota
	Computed
)

func (k Kind) String() string {
	if k == Computed {
		return "computed"
	}
	return "basic"
}

// Getter derives a computed value from the owner.
type Getter func(owner Owner) any

// Setter applies a write to a computed property. A nil Setter makes the
// property read-only.
type Setter func(owner Owner, value any) error

// Property is one named entry of a Store. Its name never changes.
type Property struct {
	name         string
	value        any
	mutability   Mutability
	kind         Kind
	alwaysNotify bool
	assigned     bool
	getter       Getter
	setter       Setter
}

func (p *Property) Name() string           { return p.name }
func (p *Property) Mutability() Mutability { return p.mutability }
func (p *Property) Kind() Kind             { return p.kind }
func (p *Property) AlwaysNotify() bool     { return p.alwaysNotify }

// Option adjusts a property at declaration time.
type Option func(*Property)

// AsFixed declares the property immutable after its first assignment.
func AsFixed() Option {
	return func(p *Property) { p.mutability = Fixed }
}

// AlwaysNotify makes every Set notify, even when the value is unchanged.
func AlwaysNotify() Option {
	return func(p *Property) { p.alwaysNotify = true }
}
