// Package errs defines the typed error kinds the storage engine and the
// HTTP adapter agree on. A Kind maps 1:1 to an HTTP status class; see
// httpapi.StatusFor.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	_ Kind = iota
	BadRequest
	Unauthorized
	NotFound
	Conflict
	PayloadTooLarge
	Internal
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case Unauthorized:
		return "unauthorized"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case PayloadTooLarge:
		return "payload_too_large"
	case Internal:
		return "internal"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is the single error type produced by the storage engine, the
// batch executor, and the HTTP adapter. It carries enough context
// (key, hash) to log a useful message without the caller re-deriving it.
type Error struct {
	Kind Kind
	Key  string
	Hash string
	Msg  string
	Err  error
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Error() string {
	var s string
	if e.Key != "" {
		s = e.Kind.String() + "/" + e.Key
	} else {
		s = e.Kind.String()
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func newf(kind Kind, key string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Key: key, Msg: fmt.Sprintf(format, args...), Err: err}
}

func BadRequestf(format string, args ...any) *Error {
	return newf(BadRequest, "", nil, format, args...)
}

func NotFoundf(key string, format string, args ...any) *Error {
	return newf(NotFound, key, nil, format, args...)
}

func Conflictf(key string, format string, args ...any) *Error {
	return newf(Conflict, key, nil, format, args...)
}

func PayloadTooLargef(format string, args ...any) *Error {
	return newf(PayloadTooLarge, "", nil, format, args...)
}

func Unauthorizedf(format string, args ...any) *Error {
	return newf(Unauthorized, "", nil, format, args...)
}

func Internalf(key string, err error, format string, args ...any) *Error {
	return newf(Internal, key, err, format, args...)
}

func Unavailablef(format string, args ...any) *Error {
	return newf(Unavailable, "", nil, format, args...)
}

// Wrap classifies a generic error as Internal unless it is already an
// *Error, in which case it is returned unchanged.
func Wrap(key string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: Internal, Key: key, Err: err}
}

// Is reports whether err (or any error in its chain) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
