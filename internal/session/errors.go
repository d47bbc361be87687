package session

import (
	"errors"
	"fmt"
)

// Code is the machine-readable error code carried by the error event.
type Code string

const (
	CodeNotFound          Code = "not-found"
	CodeAlreadyMember     Code = "already-member"
	CodeForbidden         Code = "forbidden"
	CodeNotAMember        Code = "not-a-member"
	CodeTimeout           Code = "timeout"
	CodeNegotiationFailed Code = "negotiation-failed"
	CodeBadRequest        Code = "bad-request"
	CodeInternal          Code = "internal"
)

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "session not found"}
	ErrAlreadyMember     = &Error{Code: CodeAlreadyMember, Message: "participant already in session"}
	ErrForbidden         = &Error{Code: CodeForbidden, Message: "action not allowed"}
	ErrNotAMember        = &Error{Code: CodeNotAMember, Message: "participant is not a member of the session"}
	ErrTimeout           = &Error{Code: CodeTimeout, Message: "timed out"}
	ErrNegotiationFailed = &Error{Code: CodeNegotiationFailed, Message: "negotiation failed"}
	ErrBadRequest        = &Error{Code: CodeBadRequest, Message: "bad request"}
	ErrInternal          = &Error{Code: CodeInternal, Message: "internal error"}
)

func errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the taxonomy code of err, CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
