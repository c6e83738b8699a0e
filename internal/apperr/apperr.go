// Package apperr defines the closed set of error categories surfaced by the
// local service. Callers branch on Kind rather than on message text; the HTTP
// layer maps each kind to a status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// Validation indicates a missing or empty required field. Validation
	// failures never reach the store.
	Validation Kind = "validation"
	// Conflict indicates a unique-name violation.
	Conflict Kind = "conflict"
	// NotConfigured indicates execution was attempted before setup.
	NotConfigured Kind = "not_configured"
	// Upstream indicates a transport-level failure calling the remote endpoint.
	Upstream Kind = "upstream"
	// Internal indicates any other store or I/O failure.
	Internal Kind = "internal"
)

// E wraps an error with a kind and a human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *E { return &E{Kind: kind, Message: msg} }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }

// KindOf extracts the kind from err, or Internal when err carries none.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// UserMessage returns the message intended for the caller. For uncategorized
// errors it falls back to the raw error text, matching the local-tool contract
// of always surfacing a human-readable message.
func UserMessage(err error) string {
	var e *E
	if errors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// HTTPStatus maps an error kind to the response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case NotConfigured:
		return http.StatusUnauthorized
	case Upstream, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
