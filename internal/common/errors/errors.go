// Package errors provides the application error types shared by the
// orchestrator and the HTTP gateway.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAlreadyRunning  = "ALREADY_RUNNING"
	ErrCodeNotRunning      = "NOT_RUNNING"
	ErrCodeNotInterrupted  = "NOT_INTERRUPTED"
	ErrCodeValidationError = "VALIDATION_ERROR"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// AlreadyRunning creates the error returned when a feature already has a
// live or queued session.
func AlreadyRunning(featureID string) *AppError {
	return &AppError{
		Code:       ErrCodeAlreadyRunning,
		Message:    fmt.Sprintf("feature '%s' already has an active session", featureID),
		HTTPStatus: http.StatusConflict,
	}
}

// NotRunning creates the error returned when an interrupt targets a feature
// with no live session.
func NotRunning(featureID string) *AppError {
	return &AppError{
		Code:       ErrCodeNotRunning,
		Message:    fmt.Sprintf("feature '%s' has no running session", featureID),
		HTTPStatus: http.StatusConflict,
	}
}

// NotInterrupted creates the error returned when a continuation targets a
// feature without a preserved agent session to resume.
func NotInterrupted(featureID string) *AppError {
	return &AppError{
		Code:       ErrCodeNotInterrupted,
		Message:    fmt.Sprintf("feature '%s' has no interrupted session to continue", featureID),
		HTTPStatus: http.StatusConflict,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsAlreadyRunning checks if the error is an already-running conflict.
func IsAlreadyRunning(err error) bool {
	return hasCode(err, ErrCodeAlreadyRunning)
}

// IsNotRunning checks if the error is a not-running conflict.
func IsNotRunning(err error) bool {
	return hasCode(err, ErrCodeNotRunning)
}

// IsNotInterrupted checks if the error is a not-interrupted conflict.
func IsNotInterrupted(err error) bool {
	return hasCode(err, ErrCodeNotInterrupted)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidationError)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
