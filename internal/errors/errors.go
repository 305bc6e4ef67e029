package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind represents the type of error
type Kind int

const (
	ErrInternal Kind = iota
	ErrNotFound
	ErrValidation
	ErrConflict
	ErrInvalidInput
	// ErrInvalidTransition is returned by the scoring state machine when an
	// operation is not allowed from the current match state.
	ErrInvalidTransition
	// ErrTransient marks failures that are safe to retry (timeouts, 5xx).
	ErrTransient
	// ErrPermanent marks failures the remote store rejected outright (4xx).
	ErrPermanent
	// ErrReviewRequired marks dedup results in the ambiguous band.
	ErrReviewRequired
)

var kindNames = map[Kind]string{
	ErrInternal:          "internal",
	ErrNotFound:          "not_found",
	ErrValidation:        "validation",
	ErrConflict:          "conflict",
	ErrInvalidInput:      "invalid_input",
	ErrInvalidTransition: "invalid_transition",
	ErrTransient:         "transient",
	ErrPermanent:         "permanent",
	ErrReviewRequired:    "review_required",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is an application-level error with a kind for classification
type Error struct {
	Kind    Kind
	Message string
	Err     error // underlying error
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

// Constructor functions for common error types

func NotFound(msg string) *Error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(msg string) *Error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(msg string) *Error {
	return &Error{Kind: ErrConflict, Message: msg}
}

func Conflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(msg string) *Error {
	return &Error{Kind: ErrInvalidInput, Message: msg}
}

func InvalidInputf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition reports an operation that the match state does not allow.
func InvalidTransition(from, op string) *Error {
	return &Error{Kind: ErrInvalidTransition, Message: fmt.Sprintf("invalid transition: %s not allowed from %s", op, from)}
}

func Transient(msg string, err error) *Error {
	return &Error{Kind: ErrTransient, Message: msg, Err: err}
}

func Permanent(msg string, err error) *Error {
	return &Error{Kind: ErrPermanent, Message: msg, Err: err}
}

func ReviewRequiredf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrReviewRequired, Message: fmt.Sprintf(format, args...)}
}

func Internal(err error) *Error {
	return &Error{Kind: ErrInternal, Message: "internal error", Err: err}
}

func Internalf(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with additional context
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or ErrInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return ErrInternal
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var appErr *Error
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Kind == kind
}

// IsRejection reports whether err is a synchronous operator-facing rejection
// (validation, bad input or an illegal state transition). These are never
// queued for retry.
func IsRejection(err error) bool {
	switch KindOf(err) {
	case ErrValidation, ErrInvalidInput, ErrInvalidTransition:
		return err != nil
	}
	return false
}
