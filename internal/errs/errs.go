// Package errs is the error taxonomy shared by the engines and the HTTP layer:
// validation, not-found and state conflict, plus forbidden for private-channel access.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
)

type invalidError struct{ msg string }

func (e *invalidError) Error() string { return e.msg }
func (e *invalidError) Unwrap() error { return ErrValidation }

// Invalid reports a missing or malformed input. Nothing has been written.
func Invalid(format string, args ...any) error {
	return &invalidError{msg: fmt.Sprintf(format, args...)}
}

type notFoundError struct{ kind, id string }

func (e *notFoundError) Error() string { return e.kind + " not found: " + e.id }
func (e *notFoundError) Unwrap() error { return ErrNotFound }

// NotFound reports an unknown entity id, e.g. NotFound("task", id).
func NotFound(kind, id string) error {
	return &notFoundError{kind: kind, id: id}
}

type forbiddenError struct{ msg string }

func (e *forbiddenError) Error() string { return e.msg }
func (e *forbiddenError) Unwrap() error { return ErrForbidden }

// Forbidden reports a caller that may not act on the target.
func Forbidden(format string, args ...any) error {
	return &forbiddenError{msg: fmt.Sprintf(format, args...)}
}

// ConflictError is a rejected state transition. State carries the current
// conflicting state (status, holder, expiry) so the caller can back off.
type ConflictError struct {
	Msg   string
	State map[string]any
}

func (e *ConflictError) Error() string { return e.Msg }
func (e *ConflictError) Unwrap() error { return ErrConflict }

// Conflict builds a ConflictError.
func Conflict(msg string, state map[string]any) error {
	return &ConflictError{Msg: msg, State: state}
}

// State returns the conflicting state carried by err, if any.
func State(err error) map[string]any {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.State
	}
	return nil
}

// Status maps err to an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
