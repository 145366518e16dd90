package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized indicates a missing or expired credential: the external
// account was never connected, a token refresh failed, or an admin request
// carried a bad bearer token. Never retried.
type ErrUnauthorized struct {
	Message string
	Cause   error
}

func (e *ErrUnauthorized) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unauthorized: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("unauthorized: %s", e.Message)
}

func (e *ErrUnauthorized) Unwrap() error { return e.Cause }

// ErrServiceUnavailable indicates an upstream dependency failed after all
// bounded retries: the bookmark API exhausted its backoff schedule, or the
// last candidate model provider errored. Carries the upstream status and a
// best-effort extracted detail for diagnostics.
type ErrServiceUnavailable struct {
	Upstream string // "bookmark-api" or provider name
	Status   int
	Detail   string
	Cause    error
}

func (e *ErrServiceUnavailable) Error() string {
	msg := fmt.Sprintf("%s unavailable", e.Upstream)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ErrServiceUnavailable) Unwrap() error { return e.Cause }

// ErrValidation indicates malformed caller input, rejected before any side
// effect.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	var unauthorized *ErrUnauthorized
	var unavailable *ErrServiceUnavailable
	var validation *ErrValidation
	switch {
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &validation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
