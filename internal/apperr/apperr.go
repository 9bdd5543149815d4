// Package apperr defines the error taxonomy shared by the privileged
// handlers. Every failure that reaches a handler boundary is mapped to
// one Kind and rendered as {"error": message}.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	Unauthorized
	InvalidRequest
	Forbidden
	NotFound
	Conflict
	Configuration
)

func (k Kind) String() string {
	switch k {
	case Unauthorized:
		return "Unauthorized"
	case InvalidRequest:
		return "InvalidRequest"
	case Forbidden:
		return "Forbidden"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case Configuration:
		return "ConfigurationError"
	default:
		return "InternalError"
	}
}

// HTTPStatus maps a Kind onto the status code returned to the caller.
// Configuration errors are caused by catalog data the caller asked for,
// so they surface as 400 rather than 500.
func (k Kind) HTTPStatus() int {
	switch k {
	case Unauthorized:
		return http.StatusUnauthorized
	case InvalidRequest, Configuration:
		return http.StatusBadRequest
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind       Kind
	Msg        string
	ProductIDs []string // offending product ids, when the failure is about specific products
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an Error of the given kind.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind that keeps err as its cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithProducts attaches the offending product ids to e.
func (e *Error) WithProducts(ids []string) *Error {
	e.ProductIDs = ids
	return e
}

// KindOf reports the Kind of err, or Internal if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
