package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the ledger wraps exactly one of these.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrAuthorization   = errors.New("not authorized")
	ErrConsistency     = errors.New("consistency violation")
	ErrExternalService = errors.New("external service failure")
)

// Specific causes, carried alongside a kind.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrCreditLimit       = errors.New("credit limit exceeded")
	ErrInactiveAccount   = errors.New("account is inactive")
	ErrReadingRegression = errors.New("current reading is below previous reading")
	ErrNoActiveShift     = errors.New("no active shift")
)

type Error struct {
	Kind    error
	Cause   error
	Details string
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", msg, e.Details)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func newError(kind, cause error, format string, args ...any) error {
	details := format
	if len(args) > 0 {
		details = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Cause: cause, Details: details}
}

func Validation(format string, args ...any) error {
	return newError(ErrValidation, nil, format, args...)
}

// ValidationCause tags a validation failure with a specific cause such as
// ErrInsufficientStock.
func ValidationCause(cause error, format string, args ...any) error {
	return newError(ErrValidation, cause, format, args...)
}

func NotFound(format string, args ...any) error {
	return newError(ErrNotFound, nil, format, args...)
}

func Unauthorized(format string, args ...any) error {
	return newError(ErrAuthorization, nil, format, args...)
}

func Consistency(cause error, format string, args ...any) error {
	return newError(ErrConsistency, cause, format, args...)
}

func External(cause error, format string, args ...any) error {
	return newError(ErrExternalService, cause, format, args...)
}

// KindOf reports which error kind err carries, or nil for foreign errors.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrAuthorization, ErrConsistency, ErrExternalService} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
