package errors

import (
	"fmt"
)

// ServiceError is the structured error type for searchd.
// It provides rich context for error handling, logging, and the HTTP envelope.
type ServiceError struct {
	// Code is the unique error code (e.g., "ERR_302_BACKEND_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Backend, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with ServiceError.
func (e *ServiceError) Is(target error) bool {
	if t, ok := target.(*ServiceError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *ServiceError) WithDetail(key, value string) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the operator.
// Returns the error for method chaining.
func (e *ServiceError) WithSuggestion(suggestion string) *ServiceError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ServiceError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *ServiceError {
	return &ServiceError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a ServiceError from an existing error.
// The error's message becomes the ServiceError message.
func Wrap(code string, err error) *ServiceError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *ServiceError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates a relational-store error.
func StoreError(message string, cause error) *ServiceError {
	return New(ErrCodeStoreQuery, message, cause)
}

// BackendError creates a search-backend error.
// Backend transport errors are typically retryable.
func BackendError(message string, cause error) *ServiceError {
	return New(ErrCodeBackendUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *ServiceError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *ServiceError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a ServiceError with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*ServiceError); ok {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort the current indexer run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*ServiceError); ok {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a ServiceError.
// Returns empty string if not a ServiceError.
func GetCode(err error) string {
	if se, ok := err.(*ServiceError); ok {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a ServiceError.
// Returns empty string if not a ServiceError.
func GetCategory(err error) Category {
	if se, ok := err.(*ServiceError); ok {
		return se.Category
	}
	return ""
}
