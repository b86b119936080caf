// Package derrors provides coded domain errors.
//
// Services return these so transport layers can translate failures into HTTP
// statuses (or batch decision reasons) without string matching. Stores return
// sentinel errors from pkg/platform/sentinel; the service boundary wraps them
// into coded errors with a human-readable message.
package derrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	// CodeIntegrityViolation marks store-level uniqueness violations, e.g. two
	// concurrent resolutions racing to create the same identifier. Operators
	// filter the audit log on this code to tell races from genuine duplicates.
	CodeIntegrityViolation Code = "integrity_violation"
	CodeUnauthorized       Code = "unauthorized"
	CodeUnavailable        Code = "unavailable"
	CodeInternal           Code = "internal"
)

// Error is a coded domain error with an optional wrapped cause.
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

// New creates a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.Cause
		de = nil
	}
	return false
}

// Is is a readability alias for HasCode at call sites that test a single code.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Message returns the outermost coded message, or the raw error text.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// HTTPStatus maps a code to its HTTP response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput, CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvariantViolation, CodeIntegrityViolation:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
