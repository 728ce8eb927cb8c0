package service

import (
	"errors"
	"fmt"
)

// Error codes.  They are part of the public API: clients switch on them.
const (
	CodeMalformed         = "Malformed"
	CodeUnauthenticated   = "Unauthenticated"
	CodeForbidden         = "Forbidden"
	CodeGateFailed        = "GateFailed"
	CodeNotFound          = "NotFound"
	CodeInvalidSignature  = "InvalidSignature"
	CodeExpired           = "Expired"
	CodeInactive          = "Inactive"
	CodeNotStarted        = "NotStarted"
	CodeOutOfRange        = "OutOfRange"
	CodeRateLimited       = "RateLimited"
	CodeUnsupportedBeacon = "UnsupportedBeacon"
	CodeStoreUnavailable  = "StoreUnavailable"
)

// Error is a domain failure carrying a stable code and a human-readable
// message.  Hint tells the caller how to remediate (e.g. which tier lifts a
// rate limit) and Status carries a beacon status for Inactive.
//
// Two Errors match under errors.Is when their codes are equal, so callers
// compare against the sentinels below.
type Error struct {
	Code    string
	Message string
	Hint    string
	Status  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrMalformed         = &Error{Code: CodeMalformed, Message: "malformed request"}
	ErrUnauthenticated   = &Error{Code: CodeUnauthenticated, Message: "authentication required"}
	ErrForbidden         = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrGateFailed        = &Error{Code: CodeGateFailed, Message: "not eligible"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidSignature  = &Error{Code: CodeInvalidSignature, Message: "invalid signature"}
	ErrExpired           = &Error{Code: CodeExpired, Message: "expired"}
	ErrInactive          = &Error{Code: CodeInactive, Message: "beacon is not active"}
	ErrNotStarted        = &Error{Code: CodeNotStarted, Message: "not started yet"}
	ErrOutOfRange        = &Error{Code: CodeOutOfRange, Message: "out of range"}
	ErrRateLimited       = &Error{Code: CodeRateLimited, Message: "rate limited"}
	ErrUnsupportedBeacon = &Error{Code: CodeUnsupportedBeacon, Message: "unsupported beacon"}
	ErrStoreUnavailable  = &Error{Code: CodeStoreUnavailable, Message: "store unavailable"}
)

// fail builds a fresh Error with the code of base.
func fail(base *Error, msg string) *Error {
	if msg == "" {
		msg = base.Message
	}
	return &Error{Code: base.Code, Message: msg}
}

func (e *Error) withHint(h string) *Error { e.Hint = h; return e }

// storeErr wraps an unexpected store failure.
func storeErr(op string, err error) *Error {
	return &Error{Code: CodeStoreUnavailable, Message: op + " failed", Err: err}
}

// AsError extracts a *Error from err.  Unknown errors become
// StoreUnavailable so the caller never leaks driver messages.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return storeErr("request", err)
}
