package conn

import (
	"errors"
	"fmt"
)

// Kind tags an error with the layer that produced it.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindTransport
	KindDecode
	KindDomain
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindDomain:
		return "domain"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind and message, so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Msg == e.Msg
}

var (
	ErrClosed        = &Error{Kind: KindTransport, Msg: "connection is closed"}
	ErrCannotConnect = &Error{Kind: KindTransport, Msg: "cannot connect to redis-server"}
	ErrPartialData   = &Error{Kind: KindDecode, Msg: "data was loaded from server partially"}
	ErrUnexpected    = &Error{Kind: KindDecode, Msg: "unexpected reply"}
)

// Transport wraps a connection-level failure.
func Transport(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindTransport, Msg: "transport error", Err: err}
}

// Rejected turns an error-flagged server reply into a transport error.
func Rejected(msg string) error {
	return &Error{Kind: KindTransport, Msg: "command rejected by server", Err: errors.New(msg)}
}

func Decodef(format string, args ...any) error {
	return &Error{Kind: KindDecode, Msg: fmt.Sprintf(format, args...)}
}

func Domainf(format string, args ...any) error {
	return &Error{Kind: KindDomain, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first tagged error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, k Kind) bool { return KindOf(err) == k }
