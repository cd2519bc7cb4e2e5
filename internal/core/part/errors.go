package part

import (
	"errors"
	"fmt"
)

var (
	ErrRejectedChildKind = errors.New("rejected child kind")
	ErrMalformedSnapshot = errors.New("malformed snapshot")
	ErrDestroyedPart     = errors.New("part destroyed")
	ErrUnknownKind       = errors.New("unknown part kind")
	ErrHasOwner          = errors.New("part already has an owner")
	ErrOwnershipCycle    = errors.New("ownership cycle")
	ErrWorldExists       = errors.New("world already exists")
	ErrNoSuchChild       = errors.New("no such subpart")
	ErrNoTarget          = errors.New("message has no target")
	ErrHandlerPanic      = errors.New("message handler panicked")
)

// Error wraps one of the sentinels above with the part it concerns.
type Error struct {
	Kind   error
	PartID string
	Msg    string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := e.Kind.Error()
	if e.PartID != "" {
		s += " (part " + e.PartID + ")"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *Error) Unwrap() error { return e.Kind }

func partErr(kind error, partID string, format string, args ...any) error {
	return &Error{Kind: kind, PartID: partID, Msg: fmt.Sprintf(format, args...)}
}

func malformedf(format string, args ...any) error {
	return &Error{Kind: ErrMalformedSnapshot, Msg: fmt.Sprintf(format, args...)}
}
