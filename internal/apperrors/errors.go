// Package apperrors defines the error taxonomy shared by the stores, the
// HTTP handlers and the client gateway.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeConflict        Code = "CONFLICT"
	CodeValidation      Code = "VALIDATION"
	CodeTransient       Code = "TRANSIENT"
	CodeInternal        Code = "INTERNAL"
)

// HTTPStatus returns the status code a handler should answer with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a coded error with a human readable message.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same code, so callers can compare
// against the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

var (
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "not found"}
	ErrUnauthenticated = &Error{Code: CodeUnauthenticated, Message: "Unauthenticated"}
	ErrForbidden       = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrConflict        = &Error{Code: CodeConflict, Message: "conflict"}
	ErrValidation      = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrTransient       = &Error{Code: CodeTransient, Message: "temporarily unavailable"}
)

func NotFound(msg string) error {
	return &Error{Code: CodeNotFound, Message: msg}
}

func Unauthenticated(msg string) error {
	return &Error{Code: CodeUnauthenticated, Message: msg}
}

func Forbidden(msg string) error {
	return &Error{Code: CodeForbidden, Message: msg}
}

func Conflict(msg string, cause error) error {
	return &Error{Code: CodeConflict, Message: msg, cause: cause}
}

func Validation(msg string) error {
	return &Error{Code: CodeValidation, Message: msg}
}

func Transient(msg string, cause error) error {
	return &Error{Code: CodeTransient, Message: msg, cause: cause}
}

func Internal(msg string, cause error) error {
	return &Error{Code: CodeInternal, Message: msg, cause: cause}
}

// StatusOf returns the HTTP status for err, defaulting to 500 for errors
// outside the taxonomy.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client-facing message for err. Uncoded errors are
// reported generically so driver details never leak.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Something went wrong"
}

// FromStatus maps an HTTP status received by a client back into the taxonomy.
func FromStatus(status int, msg string) error {
	switch {
	case status == http.StatusNotFound:
		return NotFound(msg)
	case status == http.StatusUnauthorized:
		return Unauthenticated(msg)
	case status == http.StatusForbidden:
		return Forbidden(msg)
	case status == http.StatusConflict:
		return Conflict(msg, nil)
	case status == http.StatusBadRequest:
		return Validation(msg)
	case status >= 500:
		return Transient(msg, nil)
	default:
		return Internal(msg, nil)
	}
}
