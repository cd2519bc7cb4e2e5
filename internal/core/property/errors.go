package property

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProperty     = errors.New("unknown property")
	ErrImmutableProperty   = errors.New("immutable property")
	ErrDuplicateProperty   = errors.New("duplicate property")
	ErrNotifyDepthExceeded = errors.New("property notification depth exceeded")
)

// Error carries the offending property name and owner alongside the kind.
type Error struct {
	Kind    error
	Name    string
	OwnerID string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.OwnerID == "" {
		return fmt.Sprintf("%s %q", e.Kind.Error(), e.Name)
	}
	return fmt.Sprintf("%s %q on part %s", e.Kind.Error(), e.Name, e.OwnerID)
}

func (e *Error) Unwrap() error { return e.Kind }

func (s *Store) errorf(kind error, name string) error {
	return &Error{Kind: kind, Name: name, OwnerID: s.owner.ID()}
}
