package store

import (
	"fmt"
	"net/http"
)

// Error is a persistence error carrying the HTTP status it maps to.
type Error struct {
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by code and message so wrapped copies still compare
// equal to the sentinel they came from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Message == e.Message
}

// HTTPCode returns the HTTP status code associated with this error.
func (e *Error) HTTPCode() int { return e.Code }

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: err}
}

// Sentinel errors.
var (
	ErrNotFound = &Error{
		Code:    http.StatusNotFound,
		Message: "address book not found",
	}

	ErrAlreadyExists = &Error{
		Code:    http.StatusConflict,
		Message: "address book already exists",
	}

	ErrInvalidName = &Error{
		Code:    http.StatusBadRequest,
		Message: "invalid address book name",
	}

	// ErrConversion reports stored data that cannot be decoded or a value
	// that cannot be encoded.
	ErrConversion = &Error{
		Code:    http.StatusInternalServerError,
		Message: "address book data conversion failed",
	}
)
