// Package apperr carries an HTTP status and a client-facing message with an
// error so handlers can hand failures to the global error middleware.
package apperr

import (
	"errors"
	"net/http"
)

type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

func Wrap(status int, message string, err error) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, message)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, message)
}

// Internal hides err from the client but keeps it for the log.
func Internal(message string, err error) *Error {
	return Wrap(http.StatusInternalServerError, message, err)
}

// As reports whether err is, or wraps, an *Error.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
