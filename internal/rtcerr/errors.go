// Package rtcerr is the error taxonomy shared by the session orchestration packages.
// Wrap one of the sentinels with %w and let the HTTP boundary map it to a status.
package rtcerr

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrUpstream     = errors.New("upstream failure")

	// ErrTransient marks a failed best-effort side effect. It is logged, never returned to a caller.
	ErrTransient = errors.New("transient failure")
)

func Unauthorized(msg string) error { return fmt.Errorf("%w: %s", ErrUnauthorized, msg) }
func Forbidden(msg string) error    { return fmt.Errorf("%w: %s", ErrForbidden, msg) }
func BadRequest(msg string) error   { return fmt.Errorf("%w: %s", ErrBadRequest, msg) }
func NotFound(msg string) error     { return fmt.Errorf("%w: %s", ErrNotFound, msg) }

// Upstream wraps a media-router or collaborator failure on a synchronous path.
func Upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
}

func Transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
}

// Message strips the sentinel prefix for client-facing bodies.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, s := range []error{ErrUnauthorized, ErrForbidden, ErrBadRequest, ErrNotFound} {
		if errors.Is(err, s) {
			msg := err.Error()
			prefix := s.Error() + ": "
			if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
				return msg[len(prefix):]
			}
			return s.Error()
		}
	}
	if errors.Is(err, ErrUpstream) {
		return "upstream failure"
	}
	return "internal error"
}
