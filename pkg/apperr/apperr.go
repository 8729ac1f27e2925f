// Package apperr carries the business error taxonomy shared by the payment
// core and its adapters. Callers branch on Kind, never on message text.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "authentication_error"
	KindPayment        Kind = "payment_error"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindInternal       Kind = "internal_error"
)

type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, format, args...)
}

func Authentication(format string, args ...any) *Error {
	return newf(KindAuthentication, format, args...)
}

func Payment(format string, args ...any) *Error {
	return newf(KindPayment, format, args...)
}

// Conflict errors are always retryable after re-reading current state.
func Conflict(format string, args ...any) *Error {
	e := newf(KindConflict, format, args...)
	e.Retryable = true
	return e
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func Internal(err error, format string, args ...any) *Error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// Unavailable is an internal error the caller may retry as-is, e.g. a
// processor timeout that left the payment in its pre-call state.
func Unavailable(err error, format string, args ...any) *Error {
	e := Internal(err, format, args...)
	e.Retryable = true
	return e
}

// KindOf reports the kind of err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
