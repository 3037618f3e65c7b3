// Package errors provides coded application errors shared by the repository,
// service and handler layers. Every error crossing the service boundary carries
// one of the ErrCode values so transports can map it without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrCode classifies an application error.
type ErrCode string

const (
	ErrCodeNotFound           ErrCode = "NOT_FOUND"
	ErrCodeInvalidInput       ErrCode = "INVALID_INPUT"
	ErrCodePreconditionFailed ErrCode = "PRECONDITION_FAILED"
	ErrCodeConflict           ErrCode = "CONFLICT"
	ErrCodeUnauthorized       ErrCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrCode = "FORBIDDEN"
	ErrCodeInternal           ErrCode = "INTERNAL"
)

// Error is a coded application error.
type Error struct {
	Code    ErrCode
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new coded error.
func New(code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. Wrapping an error
// that is already coded keeps the inner code unless the inner code is Internal.
func Wrap(err error, code ErrCode, message string) *Error {
	if err == nil {
		return nil
	}
	var inner *Error
	if stderrors.As(err, &inner) && inner.Code != ErrCodeInternal {
		code = inner.Code
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// InvalidInput reports a validation failure on a single field.
func InvalidInput(field, message string) *Error {
	return &Error{
		Code:    ErrCodeInvalidInput,
		Message: fmt.Sprintf("%s: %s", field, message),
		Field:   field,
	}
}

// Precondition reports an operation attempted from the wrong state.
func Precondition(message string) *Error {
	return &Error{Code: ErrCodePreconditionFailed, Message: message}
}

// Forbidden reports an actor lacking the role for an operation.
func Forbidden(message string) *Error {
	return &Error{Code: ErrCodeForbidden, Message: message}
}

// CodeOf returns the code of err, or ErrCodeInternal for uncoded errors.
func CodeOf(err error) ErrCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrCode) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps an error to the HTTP status the route layer should return.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodePreconditionFailed:
		return http.StatusPreconditionFailed
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
