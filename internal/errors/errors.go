package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error so callers can distinguish "business rule declined
// the action" from "system failure" without string matching.
type Code string

const (
	ErrCodeNotFound          Code = "NOT_FOUND"
	ErrCodeConflict          Code = "CONFLICT"
	ErrCodeInvalidInput      Code = "INVALID_INPUT"
	ErrCodeUnauthorized      Code = "UNAUTHORIZED"
	ErrCodeInvalidTransition Code = "INVALID_TRANSITION"
	ErrCodeInternal          Code = "INTERNAL"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Field   string // set for INVALID_INPUT errors
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource by type and id.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// InvalidInput reports a validation failure on a specific field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: message, Field: field}
}

// Unauthorized reports a permission failure.
func Unauthorized(message string) *Error {
	return &Error{Code: ErrCodeUnauthorized, Message: message}
}

// InvalidTransition reports an action that is not defined for the current state.
func InvalidTransition(message string) *Error {
	return &Error{Code: ErrCodeInvalidTransition, Message: message}
}

// CodeOf extracts the code from an error chain, defaulting to ErrCodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Is reports whether any error in the chain carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error code to the HTTP status the API layer should return.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeInvalidInput, ErrCodeInvalidTransition:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
