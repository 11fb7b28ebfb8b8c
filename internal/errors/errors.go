package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates an operation exceeded its time budget.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"

	// ErrCodeMissingSource indicates a data point lacks a source URL or date.
	// Always fatal to the enrichment attempt that produced it.
	ErrCodeMissingSource ErrorCode = "missing_source"
	// ErrCodeStaleSource indicates a source date exceeds the allowed age for
	// its data type. Always fatal to the enrichment attempt.
	ErrCodeStaleSource ErrorCode = "stale_source"
	// ErrCodeProvider indicates an external data provider call failed.
	ErrCodeProvider ErrorCode = "provider"
	// ErrCodeDependencyUnmet indicates a module's declared dependency did not
	// complete in an earlier wave; the module was skipped, not attempted.
	ErrCodeDependencyUnmet ErrorCode = "dependency_unmet"
)

// AppError represents a structured application error with a code, message,
// and optional cause. It supports error wrapping and unwrapping for use with
// errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// MissingSource creates a new MissingSource error.
func MissingSource(message string) *AppError {
	return &AppError{Code: ErrCodeMissingSource, Message: message}
}

// MissingSourcef creates a new MissingSource error with formatted message.
func MissingSourcef(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeMissingSource, Message: fmt.Sprintf(format, args...)}
}

// StaleSource creates a new StaleSource error.
func StaleSource(message string) *AppError {
	return &AppError{Code: ErrCodeStaleSource, Message: message}
}

// StaleSourcef creates a new StaleSource error with formatted message.
func StaleSourcef(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeStaleSource, Message: fmt.Sprintf(format, args...)}
}

// Providerf creates a new Provider error with formatted message.
func Providerf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeProvider, Message: fmt.Sprintf(format, args...)}
}

// DependencyUnmetf creates a new DependencyUnmet error with formatted message.
func DependencyUnmetf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeDependencyUnmet, Message: fmt.Sprintf(format, args...)}
}

// Timeoutf creates a new Timeout error with formatted message.
func Timeoutf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeTimeout, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool { return isCode(err, ErrCodeNotFound) }

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool { return isCode(err, ErrCodeConflict) }

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool { return isCode(err, ErrCodeValidation) }

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool { return isCode(err, ErrCodeInternal) }

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool { return isCode(err, ErrCodeTimeout) }

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool { return isCode(err, ErrCodeCanceled) }

// IsMissingSource checks if an error is a MissingSource error.
func IsMissingSource(err error) bool { return isCode(err, ErrCodeMissingSource) }

// IsStaleSource checks if an error is a StaleSource error.
func IsStaleSource(err error) bool { return isCode(err, ErrCodeStaleSource) }

// IsCitation reports whether an error is either citation violation. Citation
// errors are never converted to warnings anywhere in the codebase; this
// helper exists for callers that need to keep them fatal while handling
// other failures gracefully.
func IsCitation(err error) bool {
	return IsMissingSource(err) || IsStaleSource(err)
}

// IsProvider checks if an error is a Provider error.
func IsProvider(err error) bool { return isCode(err, ErrCodeProvider) }

// IsDependencyUnmet checks if an error is a DependencyUnmet error.
func IsDependencyUnmet(err error) bool { return isCode(err, ErrCodeDependencyUnmet) }

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
