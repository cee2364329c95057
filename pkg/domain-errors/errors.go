// Package errors provides coded domain errors shared across services and
// transport. Stores return infrastructure sentinels (pkg/platform/sentinel);
// services translate those into coded errors; the HTTP layer maps codes to
// statuses. Raw sensitive values must never appear in error messages.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies the kind of domain error for callers and the transport layer.
type Code string

const (
	// CodeConflict signals a duplicate identifier on create.
	CodeConflict Code = "conflict"
	// CodeNotFound signals an unknown record id.
	CodeNotFound Code = "not_found"
	// CodePermissionDenied signals a missing capability (e.g. reveal without grant).
	CodePermissionDenied Code = "permission_denied"
	// CodeIntegrity signals a protected field that failed authentication on read.
	CodeIntegrity Code = "integrity"
	// CodeUnavailable signals an unreachable storage or audit backend.
	// Always retryable by the caller.
	CodeUnavailable Code = "unavailable"
	// CodeValidation signals malformed input shape.
	CodeValidation Code = "validation"
	// CodeUnauthorized signals a missing or invalid actor token.
	CodeUnauthorized Code = "unauthorized"
	// CodeInternal signals an unexpected failure; details stay server-side.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. Message carries the minimal context needed
// to remediate, never raw sensitive values.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is / errors.As.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, or CodeInternal when err is uncoded.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
