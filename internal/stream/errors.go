package stream

import (
	"errors"
	"fmt"
)

// ErrorKind classifies stream failures so HTTP handlers can map them to
// stable status codes without inspecting raw adapter errors.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindAlreadyActive     ErrorKind = "already_active"
	KindSourceUnavailable ErrorKind = "source_unavailable"
	KindStartTimeout      ErrorKind = "start_timeout"
	KindStartFailed       ErrorKind = "start_failed"
	KindCapacityExceeded  ErrorKind = "capacity_exceeded"
	KindSessionNotActive  ErrorKind = "session_not_active"
	KindSessionRestarting ErrorKind = "session_restarting"
	KindCrashDetected     ErrorKind = "crash_detected"
)

// StreamError carries a taxonomy kind plus a human-readable message.
type StreamError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// NewError creates a StreamError with the given kind and message.
func NewError(kind ErrorKind, message string) *StreamError {
	return &StreamError{Kind: kind, Message: message}
}

// WrapError creates a StreamError wrapping an underlying cause.
func WrapError(kind ErrorKind, message string, err error) *StreamError {
	return &StreamError{Kind: kind, Message: message, Err: err}
}

// Kind extracts the taxonomy kind from an error, or "" if the error is not
// a StreamError.
func Kind(err error) ErrorKind {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind ErrorKind) bool {
	return Kind(err) == kind
}

// IsRetryable reports whether the caller may retry the operation shortly.
// Only transitional-state races are retryable; everything else needs an
// explicit operator action.
func IsRetryable(err error) bool {
	return Kind(err) == KindSessionRestarting
}
