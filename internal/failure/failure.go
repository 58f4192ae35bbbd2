// Package failure defines the hub's error taxonomy. Every rejection returned to
// a command originator carries a Kind so transports can report it without
// string matching.
package failure

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindTransport  Kind = "transport"
	KindLiveness   Kind = "liveness"
	KindInvariant  Kind = "invariant"
	KindInternal   Kind = "internal"
)

// Sentinels for errors.Is. A *Error matches the sentinel of its Kind.
var (
	ErrValidation = errors.New("validation failure")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrTransport  = errors.New("transport failure")
	ErrLiveness   = errors.New("liveness timeout")
	ErrInvariant  = errors.New("invariant breach")
)

var sentinels = map[Kind]error{
	KindValidation: ErrValidation,
	KindConflict:   ErrConflict,
	KindNotFound:   ErrNotFound,
	KindTransport:  ErrTransport,
	KindLiveness:   ErrLiveness,
	KindInvariant:  ErrInvariant,
}

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Op != "":
		return e.Op + ": " + e.Msg
	case e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) *Error {
	return newf(KindValidation, op, format, args...)
}

func Conflict(op, format string, args ...any) *Error {
	return newf(KindConflict, op, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return newf(KindNotFound, op, format, args...)
}

func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Msg: "undeliverable", Err: err}
}

func Liveness(op, format string, args ...any) *Error {
	return newf(KindLiveness, op, format, args...)
}

// Invariant reports a broken internal invariant. It aborts the current
// operation only.
func Invariant(op, format string, args ...any) *Error {
	return newf(KindInvariant, op, format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Message returns the client-safe text of err. Errors without a Kind are
// reported as "internal error".
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Msg
	}
	return "internal error"
}
