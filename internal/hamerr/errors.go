// Package hamerr defines the error kinds shared by the memory subsystem.
package hamerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindIntegrity         Kind = "INTEGRITY_FAILURE"
	KindInsufficientSpace Kind = "INSUFFICIENT_SPACE"
	KindSerialization     Kind = "SERIALIZATION_FAILURE"
	KindNotFound          Kind = "NOT_FOUND"
	KindTimeout           Kind = "TIMEOUT"
	KindQueueFull         Kind = "QUEUE_FULL"
	KindInvalid           Kind = "INVALID_INPUT"
)

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrIntegrity         = &Error{Kind: KindIntegrity}
	ErrInsufficientSpace = &Error{Kind: KindInsufficientSpace}
	ErrSerialization     = &Error{Kind: KindSerialization}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrQueueFull         = &Error{Kind: KindQueueFull}
	ErrInvalid           = &Error{Kind: KindInvalid}
)

// Error is a classified failure with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound reports a missing record or template.
func NotFound(op, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf("%q not found", id)}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
