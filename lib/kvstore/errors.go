package kvstore

import (
	"github.com/cockroachdb/errors"
)

// Code classifies an error returned from the request surface (§6, §7).
// It mirrors the shape of dKV's store.RetCode (lib/store/interface.go)
// but carries the taxonomy this system actually needs.
type Code uint8

const (
	CodeUnknownArea Code = iota
	CodeUnauthorizedPeer
	CodeInvalidRequest
	CodeModuleUnavailable
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeUnknownArea:
		return "UNKNOWN_AREA"
	case CodeUnauthorizedPeer:
		return "UNAUTHORIZED_PEER"
	case CodeInvalidRequest:
		return "INVALID_REQUEST"
	case CodeModuleUnavailable:
		return "MODULE_UNAVAILABLE"
	case CodeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error is the request-surface error type (§6, §7). All requests either
// return nil or an *Error; merge rejections never raise one (§4.1, §9 -
// "merge rejection is data, not error").
type Error struct {
	Code  Code
	msg   string
	cause error // cockroachdb/errors-wrapped, carries the stack at NewError's call site
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.msg
}

// Unwrap exposes the stack-carrying cause to errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// Cause returns the cockroachdb/errors value NewError wrapped this Error
// around. rpc/server's error-response path formats it with %+v so an
// internal failure's stack trace reaches the server log even though the
// wire response only ever carries the plain message string.
func (e *Error) Cause() error {
	return e.cause
}

// NewError builds a request-surface error, wrapped with a stack trace via
// cockroachdb/errors so operators get a trace at the point of failure
// without every call site plumbing one through by hand.
func NewError(code Code, format string, args ...interface{}) *Error {
	wrapped := errors.Newf(format, args...)
	return &Error{Code: code, msg: wrapped.Error(), cause: wrapped}
}

// UnknownArea builds the standard §4.5 "a request that names an unknown
// area fails with UNKNOWN_AREA" error.
func UnknownArea(area string) *Error {
	return NewError(CodeUnknownArea, "unknown area %q", area)
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
