package common

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ErrLookupTimeout marks a collaborator lookup that exceeded its time bound.
var ErrLookupTimeout = errors.New("lookup timed out")

// Kind classifies an AppError for callers and transports.
type Kind string

const (
	// KindValidation marks caller input that violates a documented constraint.
	KindValidation Kind = "validation"
	// KindNotFound marks a referenced entity that does not exist.
	KindNotFound Kind = "not_found"
	// KindCalculation marks an internal consistency check that failed after computation.
	KindCalculation Kind = "calculation"
	// KindConfiguration marks business rules that are internally inconsistent.
	KindConfiguration Kind = "configuration"
	// KindConflict marks a concurrent write that lost a compare-and-swap.
	KindConflict Kind = "conflict"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Kind          Kind
	Code          string
	Message       string
	HTTPStatus    int
	Err           error
	Details       any
	CorrelationID string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Internal reports whether the error reflects a defect rather than bad input.
// Internal errors expose only a generic message and the correlation id.
func (e *AppError) Internal() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindCalculation || e.Kind == KindConfiguration || e.HTTPStatus >= http.StatusInternalServerError
}

// PublicMessage returns the message safe to show to API callers.
func (e *AppError) PublicMessage() string {
	if e == nil {
		return ""
	}
	if e.Internal() {
		switch e.Kind {
		case KindConfiguration:
			return "pricing configuration unavailable"
		default:
			return "quote calculation failed"
		}
	}
	return e.Message
}

// WithDetails attaches structured details and returns the receiver.
func (e *AppError) WithDetails(details any) *AppError {
	if e == nil {
		return nil
	}
	e.Details = details
	return e
}

// WithCause records the underlying error and returns the receiver.
func (e *AppError) WithCause(err error) *AppError {
	if e == nil {
		return nil
	}
	e.Err = err
	return e
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Validation builds a ValidationError with a human-readable reason.
func Validation(message string, args ...any) *AppError {
	return &AppError{
		Kind:       KindValidation,
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf(message, args...),
		HTTPStatus: http.StatusBadRequest,
	}
}

// NotFound builds a NotFoundError for the referenced entity.
func NotFound(entity, id string, err error) *AppError {
	return &AppError{
		Kind:       KindNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s %q not found", entity, id),
		HTTPStatus: http.StatusNotFound,
		Err:        err,
	}
}

// Calculation builds a CalculationError carrying a fresh correlation id.
func Calculation(message string, err error) *AppError {
	return &AppError{
		Kind:          KindCalculation,
		Code:          "CALCULATION_ERROR",
		Message:       message,
		HTTPStatus:    http.StatusInternalServerError,
		Err:           err,
		CorrelationID: uuid.NewString(),
	}
}

// Configuration builds a ConfigurationError carrying a fresh correlation id.
func Configuration(message string, err error) *AppError {
	return &AppError{
		Kind:          KindConfiguration,
		Code:          "CONFIGURATION_ERROR",
		Message:       message,
		HTTPStatus:    http.StatusServiceUnavailable,
		Err:           err,
		CorrelationID: uuid.NewString(),
	}
}

// Conflict builds a ConflictError.
func Conflict(message string, err error) *AppError {
	return &AppError{
		Kind:       KindConflict,
		Code:       "CONFLICT",
		Message:    message,
		HTTPStatus: http.StatusConflict,
		Err:        err,
	}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	var target *AppError
	if !errors.As(err, &target) {
		return false
	}
	return target.Kind == kind
}

// AsAppError extracts the first AppError in the chain.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
