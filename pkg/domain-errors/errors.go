// Package domainerrors provides typed errors for the approval engine. Every
// public operation returns one of these instead of a bare error so callers
// (and the HTTP layer) can branch on the failure class without string
// matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeValidation marks missing or malformed input, rejected before any
	// state mutation.
	CodeValidation Code = "validation"
	// CodePermission marks an approver not authorized for the request, or a
	// two-man-rule violation.
	CodePermission Code = "permission"
	// CodeConflict marks an optimistic-concurrency precondition failure; the
	// caller should re-read and retry or abandon.
	CodeConflict Code = "conflict"
	// CodeNotFound marks a missing record.
	CodeNotFound Code = "not_found"
	// CodeRateLimited marks a request rejected by the rate limiter.
	CodeRateLimited Code = "rate_limited"
	// CodeStoreUnavailable marks an unreachable backing store where the
	// operation fails closed. Retryable infrastructure failure.
	CodeStoreUnavailable Code = "store_unavailable"
	// CodeInternal marks unexpected failures.
	CodeInternal Code = "internal"
)

// Error carries a code, a human-readable message, and optionally the names of
// the offending fields for validation failures.
type Error struct {
	Code    Code
	Message string
	Fields  []string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message while keeping the cause for
// errors.Is / errors.As chains.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, wrapped: err}
}

// WithFields attaches offending field names to a validation error.
func (e *Error) WithFields(fields ...string) *Error {
	e.Fields = append(e.Fields, fields...)
	return e
}

// HasCode reports whether err (or anything it wraps) is a domain error with
// the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// non-domain errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
