package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an application error so the transport layer can map it
// to a response without inspecting the message
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidStateTransition
	KindValidation
	KindConflict
)

// String returns the kind name used in logs and error payloads
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidStateTransition:
		return "invalid_state_transition"
	case KindValidation:
		return "validation_error"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Standard error types
var (
	ErrNotFound               = errors.New("resource not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidInput           = errors.New("invalid input")
	ErrConflict               = errors.New("resource conflict")
	ErrInternal               = errors.New("internal server error")
)

// AppError represents a structured application error with context
type AppError struct {
	Kind    Kind
	Err     error
	Message string
	Context map[string]interface{}
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new AppError with the given parameters
func NewAppError(kind Kind, err error, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Err:     err,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// KindOf reports the kind of err. Errors that are not AppErrors are internal.
func KindOf(err error) Kind {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// As is a convenience around errors.As for *AppError
func As(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *AppError {
	return NewAppError(KindNotFound, ErrNotFound, message)
}

// NewInvalidStateTransitionError reports a transition whose source state precondition failed.
// action completes the sentence "cannot be ...", e.g. "cancelled".
func NewInvalidStateTransitionError(orderID int64, current, target, action string) *AppError {
	msg := fmt.Sprintf("order %d is in %s status and cannot be %s", orderID, current, action)

	return NewAppError(KindInvalidStateTransition, ErrInvalidStateTransition, msg).
		WithContext("orderId", orderID).
		WithContext("currentStatus", current).
		WithContext("targetStatus", target)
}

// NewValidationError creates an invalid input error
func NewValidationError(message string) *AppError {
	return NewAppError(KindValidation, ErrInvalidInput, message)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return NewAppError(KindConflict, ErrConflict, message)
}

// NewInternalError wraps an infrastructure failure
func NewInternalError(message string, cause error) *AppError {
	if cause == nil {
		cause = ErrInternal
	}
	return NewAppError(KindInternal, fmt.Errorf("%w: %w", ErrInternal, cause), message)
}
