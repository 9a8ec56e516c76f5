package domain

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrNotFound is returned when no record exists for a user.
	ErrNotFound = errors.New("not found")

	// ErrSessionNotFound is returned when no open session matches. It wraps ErrNotFound.
	ErrSessionNotFound = fmt.Errorf("session %w", ErrNotFound)

	// ErrAlreadyClosed is returned alongside ErrSessionNotFound when the session exists but was logged out.
	ErrAlreadyClosed = errors.New("session already closed")

	// ErrWriteFailure is returned when the durable write failed. Prior state is kept.
	ErrWriteFailure = errors.New("write failure")

	// ErrInvalidArgument is returned when a required identifier is missing.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNetworkFailure is returned by client-side calls that could not complete.
	ErrNetworkFailure = errors.New("network failure")
)

// ClosedSession reports a heartbeat or logout against a logged-out session.
// The result matches both ErrSessionNotFound and ErrAlreadyClosed.
func ClosedSession(id string) error {
	return fmt.Errorf("session %s: %w", id, errors.Join(ErrSessionNotFound, ErrAlreadyClosed))
}

// MissingSession reports a heartbeat or logout against an unknown session id.
func MissingSession(id string) error {
	return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
}

// ErrUnauthorized is returned when a request carries no acceptable identity.
var ErrUnauthorized = errors.New("unauthorized")

// Wire error codes shared by the HTTP API and its client.
const (
	CodeNotFound        = "not_found"
	CodeAlreadyClosed   = "already_closed"
	CodeInvalidArgument = "invalid_argument"
	CodeWriteFailure    = "write_failure"
	CodeUnauthorized    = "unauthorized"
	CodeInternal        = "internal"
)

// CodeOf classifies err. AlreadyClosed is checked first because it is joined with NotFound.
func CodeOf(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrAlreadyClosed):
		return CodeAlreadyClosed
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrWriteFailure):
		return CodeWriteFailure
	default:
		return CodeInternal
	}
}

// FromCode rebuilds an error carrying the sentinel for code.
func FromCode(code, message string) error {
	var sentinel error
	switch code {
	case CodeUnauthorized:
		sentinel = ErrUnauthorized
	case CodeAlreadyClosed:
		sentinel = errors.Join(ErrSessionNotFound, ErrAlreadyClosed)
	case CodeNotFound:
		sentinel = ErrNotFound
	case CodeInvalidArgument:
		sentinel = ErrInvalidArgument
	case CodeWriteFailure:
		sentinel = ErrWriteFailure
	default:
		return fmt.Errorf("server error %s: %s", code, message)
	}
	return fmt.Errorf("%s: %w", message, sentinel)
}
