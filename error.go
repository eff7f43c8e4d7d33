package optin

import (
	"bytes"
	"errors"
	"fmt"
)

// Application error codes.
const (
	ErrInvalid      = "invalid"
	ErrUnauthorized = "unauthorized"
	ErrConflict     = "conflict"
	ErrNotFound     = "not_found"
	ErrInternal     = "internal"
)

// Error represents an application error. Code is one of the Err* constants
// and decides how transports report it; Err keeps the underlying cause.
type Error struct {
	Code    string
	Message string
	Op      string
	Err     error
}

// Errorf returns an Error with the given code and a formatted message.
func Errorf(code string, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Internal wraps an unexpected failure of op.
func Internal(op string, err error) *Error {
	return &Error{
		Code: ErrInternal,
		Op:   op,
		Err:  err,
	}
}

// ErrorCode returns the code of the first application error in the chain.
// Errors that are not application errors are reported as ErrInternal.
func ErrorCode(err error) string {
	var e *Error
	if err == nil {
		return ""
	} else if !errors.As(err, &e) {
		return ErrInternal
	} else if e.Code != "" {
		return e.Code
	} else if e.Err != nil {
		return ErrorCode(e.Err)
	}

	return ErrInternal
}

// ErrorMessage returns the human-readable message of the first application
// error in the chain, hiding the details of anything else.
func ErrorMessage(err error) string {
	var e *Error
	if err == nil {
		return ""
	} else if !errors.As(err, &e) {
		return "An internal error has occurred."
	} else if e.Message != "" {
		return e.Message
	} else if e.Err != nil {
		return ErrorMessage(e.Err)
	}

	return "An internal error has occurred."
}

func (e *Error) Error() string {
	var buf bytes.Buffer

	if e.Op != "" {
		fmt.Fprintf(&buf, "%s: ", e.Op)
	}

	if e.Err != nil {
		if e.Message != "" {
			fmt.Fprintf(&buf, "%s: ", e.Message)
		}
		buf.WriteString(e.Err.Error())
	} else {
		if e.Code != "" {
			fmt.Fprintf(&buf, "<%s> ", e.Code)
		}
		buf.WriteString(e.Message)
	}

	return buf.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}
