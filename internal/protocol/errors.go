package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrConnection    = &Error{Kind: KindConnection}
	ErrHandshake     = &Error{Kind: KindHandshake}
	ErrIntegrity     = &Error{Kind: KindIntegrity}
	ErrExhausted     = &Error{Kind: KindExhausted}
	ErrClosed        = &Error{Kind: KindClosed}
	ErrFrameTooLarge = &Error{Kind: KindProtocol, Op: "frame", Err: errors.New("frame exceeds maximum size")}
	ErrTooManyHops   = &Error{Kind: KindExhausted, Op: "resolve", Err: errors.New("redirect hop limit exceeded")}
)

// Error carries the failure kind of a core operation. Two Errors match under
// errors.Is when their kinds are equal, so callers can test against the
// package sentinels without caring about Op or the wrapped cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := "pico: " + e.Kind.String()
	if e.Op != "" {
		msg += " in " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Err != nil && t.Err != e.Err {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}
