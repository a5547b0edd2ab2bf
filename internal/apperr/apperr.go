// Package apperr defines the error taxonomy shared by the HTTP layer and
// the services. Routine workflow outcomes (no candidate, could not lock)
// are NOT errors and never appear here; these codes cover validation,
// conflicts, missing resources and infrastructure failures.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation      Code = "VALIDATION_FAILED"
	CodeProfileRequired Code = "PROFILE_REQUIRED"
	CodeSessionActive   Code = "SESSION_ALREADY_ACTIVE"
	CodeNoSession       Code = "NO_ACTIVE_SESSION"
	CodeMatchNotFound   Code = "MATCH_NOT_FOUND"
	CodeMatchClosed     Code = "MATCH_CLOSED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeInternal        Code = "INTERNAL"
)

type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Validation(message string) error {
	return New(CodeValidation, message)
}

func Internal(message string, cause error) error {
	return Wrap(CodeInternal, message, cause)
}

// CodeOf extracts the code from an error chain, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error code to the status a handler should respond with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeProfileRequired, CodeSessionActive, CodeMatchClosed:
		return http.StatusConflict
	case CodeNoSession, CodeMatchNotFound, CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
