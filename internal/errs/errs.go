// Package errs defines the failure taxonomy returned by the core components.
//
// Components never produce human facing text; they return an *Error whose
// Kind tells the boundary layer what happened. Callers match kinds with
// errors.Is against the package sentinels or with KindOf.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

type Kind uint8

const (
	Internal Kind = iota
	Unauthenticated
	NotFound
	InvalidContent
	InvalidParent
	InvalidCredentials
	InvalidInput
	AlreadyVoted
	Transient
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case NotFound:
		return "not found"
	case InvalidContent:
		return "invalid content"
	case InvalidParent:
		return "invalid parent"
	case InvalidCredentials:
		return "invalid credentials"
	case InvalidInput:
		return "invalid input"
	case AlreadyVoted:
		return "already voted"
	case Transient:
		return "transient store failure"
	}
	return "internal error"
}

// Code is a stable snake_case name for k, used on the wire.
func (k Kind) Code() string {
	return strings.ReplaceAll(k.String(), " ", "_")
}

// ParseCode is the inverse of Code. Unknown codes map to Internal.
func ParseCode(code string) Kind {
	for k := Internal; k <= Transient; k++ {
		if k.Code() == code {
			return k
		}
	}
	return Internal
}

type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches bare sentinels (no Op, no Err) by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrUnauthenticated    = &Error{Kind: Unauthenticated}
	ErrNotFound           = &Error{Kind: NotFound}
	ErrInvalidContent     = &Error{Kind: InvalidContent}
	ErrInvalidParent      = &Error{Kind: InvalidParent}
	ErrInvalidCredentials = &Error{Kind: InvalidCredentials}
	ErrInvalidInput       = &Error{Kind: InvalidInput}
	ErrAlreadyVoted       = &Error{Kind: AlreadyVoted}
	ErrTransient          = &Error{Kind: Transient}
)

func E(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Reason builds an *Error from a short machine readable reason.
func Reason(op string, kind Kind, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// Internal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
