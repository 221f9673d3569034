// Package errs defines the error taxonomy shared by every service layer.
// Handlers map kinds to HTTP statuses in exactly one place; services wrap
// causes with %w so callers can still errors.Is/As into the kind.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the HTTP boundary.
type Kind int

const (
	// Unauthenticated means no session or an invalid session token.
	Unauthenticated Kind = iota
	// NotAuthorized means the caller is authenticated but forbidden for
	// this resource.
	NotAuthorized
	// EmptyMessage means the message text was empty after trimming.
	EmptyMessage
	// InvalidInput covers all other validation failures.
	InvalidInput
	// NotFound means the conversation, user or message does not exist.
	NotFound
	// Unavailable is a transient storage or delivery failure; callers own
	// the retry.
	Unavailable
	// AccountExists means a duplicate registration for the same email.
	AccountExists
	// InvalidCredentials means an email/secret mismatch.
	InvalidCredentials
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case NotAuthorized:
		return "not_authorized"
	case EmptyMessage:
		return "empty_message"
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	case AccountExists:
		return "account_exists"
	case InvalidCredentials:
		return "invalid_credentials"
	}
	return "unknown"
}

// Error carries a kind, a human-readable message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a typed error with the given kind and message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap returns a typed error wrapping a cause.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from err, or (0, false) when err carries none.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// HTTPStatus maps an error kind to its HTTP status code. Untyped errors
// map to 500.
func HTTPStatus(err error) int {
	k, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch k {
	case Unauthenticated, InvalidCredentials:
		return http.StatusUnauthorized
	case NotAuthorized:
		return http.StatusForbidden
	case EmptyMessage, InvalidInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Unavailable:
		return http.StatusServiceUnavailable
	case AccountExists:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Message returns the caller-facing message for err: the typed message
// when present, the kind name otherwise.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.String()
	}
	return "internal error"
}
