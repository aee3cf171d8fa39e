// Package apierr defines the five request-facing error kinds that
// cross every component boundary in the gateway, and the HTTP status
// mapping used to render them.
package apierr

import (
	"errors"
	"fmt"
)

// Code is one of the machine-readable error codes returned to callers.
type Code string

const (
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeInternal     Code = "INTERNAL"
)

// HTTPStatus returns the status code for a Code per the spec's mapping
// table.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidInput:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeNotFound:
		return 404
	case CodeConflict:
		return 409
	default:
		return 500
	}
}

// Error is the structured error carried through the call stack. Cause
// is never serialized to the client; Message is safe to show.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error carrying cause as its unexported reason; cause
// is logged for 5xx but never returned to the client.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Invalid is shorthand for New(CodeInvalidInput, ...).
func Invalid(format string, args ...any) *Error {
	return New(CodeInvalidInput, fmt.Sprintf(format, args...))
}

// Internal wraps an unexpected error as CodeInternal with a safe,
// generic message.
func Internal(cause error) *Error {
	return Wrap(CodeInternal, "an internal error occurred", cause)
}

// NotFound is shorthand for New(CodeNotFound, ...).
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

// Unauthorized is shorthand for New(CodeUnauthorized, ...).
func Unauthorized(format string, args ...any) *Error {
	return New(CodeUnauthorized, fmt.Sprintf(format, args...))
}

// Conflict is shorthand for New(CodeConflict, ...).
func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, fmt.Sprintf(format, args...))
}

// As extracts an *Error from err, wrapping it as CodeInternal if err
// does not already carry one.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
