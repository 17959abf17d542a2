// Package apperr defines the error taxonomy shared by every service.
//
// Handlers classify failures into one of five kinds: NotFound and
// InvalidInput are terminal and never retried, Transient errors are
// re-raised so the bus retries them, Conflict marks an idempotent upsert
// race resolved by re-reading, and Fatal aborts process startup.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrTransient    = errors.New("transient failure")
	ErrConflict     = errors.New("conflict")
	ErrFatal        = errors.New("fatal")
)

// NotFound wraps ErrNotFound with context.
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Invalid wraps ErrInvalidInput with context.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Transient marks an error as retryable. A nil cause returns nil.
func Transient(cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, cause)
}

// Conflict wraps ErrConflict with context.
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func IsNotFound(err error) bool  { return errors.Is(err, ErrNotFound) }
func IsInvalid(err error) bool   { return errors.Is(err, ErrInvalidInput) }
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
func IsConflict(err error) bool  { return errors.Is(err, ErrConflict) }

// HTTPStatus maps the taxonomy onto gateway status codes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalid(err):
		return http.StatusBadRequest
	case IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
