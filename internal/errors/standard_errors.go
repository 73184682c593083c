// Package errors provides the advisor's error taxonomy.
//
// Every error surfaced by the engine carries an ErrorCode. Callers match on
// the sentinel values with errors.Is, so wrapping with fmt.Errorf("...: %w")
// keeps the classification intact.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents semantic error codes for consistent error handling
type ErrorCode string

const (
	ErrorCodeValidationError      ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrorCodeWriteConflict        ErrorCode = "WRITE_CONFLICT"
	ErrorCodeVersionConflict      ErrorCode = "VERSION_CONFLICT"
	ErrorCodeEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"
	ErrorCodeConfiguration        ErrorCode = "CONFIGURATION_ERROR"
	ErrorCodeInternalError        ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is matching. A *StandardError matches the sentinel
// that shares its code.
var (
	ErrValidation           = stderrors.New("validation error")
	ErrNotFound             = stderrors.New("not found")
	ErrWriteConflict        = stderrors.New("write conflict")
	ErrVersionConflict      = stderrors.New("version conflict")
	ErrEmbeddingUnavailable = stderrors.New("embedding unavailable")
	ErrConfiguration        = stderrors.New("configuration error")
)

var sentinelByCode = map[ErrorCode]error{
	ErrorCodeValidationError:      ErrValidation,
	ErrorCodeNotFound:             ErrNotFound,
	ErrorCodeWriteConflict:        ErrWriteConflict,
	ErrorCodeVersionConflict:      ErrVersionConflict,
	ErrorCodeEmbeddingUnavailable: ErrEmbeddingUnavailable,
	ErrorCodeConfiguration:        ErrConfiguration,
}

// StandardError is the structured error returned across component boundaries
type StandardError struct {
	ErrorInfo ErrorDetails `json:"error"`
	cause     error
}

// ErrorDetails contains the detailed error information
type ErrorDetails struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
}

// ValidationDetail provides specific validation error information
type ValidationDetail struct {
	Field  string      `json:"field"`
	Reason string      `json:"reason"`
	Value  interface{} `json:"value,omitempty"`
}

// ConflictDetail describes a contended write on a keyed resource
type ConflictDetail struct {
	Key      string `json:"key"`
	Attempts int    `json:"attempts"`
}

// Error implements the error interface
func (e *StandardError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.ErrorInfo.Message, e.cause)
	}
	return e.ErrorInfo.Message
}

// Is reports whether target is the sentinel for this error's code
func (e *StandardError) Is(target error) bool {
	if sentinel, ok := sentinelByCode[e.ErrorInfo.Code]; ok && sentinel == target {
		return true
	}
	if other, ok := target.(*StandardError); ok {
		return other.ErrorInfo.Code == e.ErrorInfo.Code
	}
	return false
}

// Unwrap returns the underlying cause, if any
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Code returns the error code
func (e *StandardError) Code() ErrorCode {
	return e.ErrorInfo.Code
}

// WithTraceID adds a trace ID to the error for debugging
func (e *StandardError) WithTraceID(traceID string) *StandardError {
	e.ErrorInfo.TraceID = traceID
	return e
}

// NewStandardError creates a new standardized error
func NewStandardError(code ErrorCode, message string, details interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// NewValidationError creates a validation error with field details
func NewValidationError(field, reason string, value interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeValidationError,
			Message: fmt.Sprintf("validation failed for field '%s': %s", field, reason),
			Details: ValidationDetail{
				Field:  field,
				Reason: reason,
				Value:  value,
			},
		},
	}
}

// NewNotFoundError reports a missing resource of the given kind
func NewNotFoundError(kind, id string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeNotFound,
			Message: fmt.Sprintf("%s not found: %s", kind, id),
			Details: map[string]interface{}{"kind": kind, "id": id},
		},
	}
}

// NewWriteConflictError reports that a keyed write lost every retry
func NewWriteConflictError(key string, attempts int, cause error) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeWriteConflict,
			Message: fmt.Sprintf("write conflict on %s after %d attempts", key, attempts),
			Details: ConflictDetail{Key: key, Attempts: attempts},
		},
		cause: cause,
	}
}

// NewVersionConflictError reports a stale optimistic version
func NewVersionConflictError(key string, expected int64) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeVersionConflict,
			Message: fmt.Sprintf("stale version %d for %s", expected, key),
			Details: map[string]interface{}{"key": key, "expected_version": expected},
		},
	}
}

// NewEmbeddingUnavailableError wraps a backend failure
func NewEmbeddingUnavailableError(cause error) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeEmbeddingUnavailable,
			Message: "embedding backend unavailable",
			Details: map[string]interface{}{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		},
		cause: cause,
	}
}

// NewConfigurationError reports a startup configuration defect
func NewConfigurationError(message string, cause error) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeConfiguration,
			Message: message,
		},
		cause: cause,
	}
}

// CodeOf extracts the ErrorCode from err, or ErrorCodeInternalError
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.ErrorInfo.Code
	}
	return ErrorCodeInternalError
}

// IsValidationError checks if the error is a validation-related error
func IsValidationError(err error) bool {
	return stderrors.Is(err, ErrValidation)
}

// IsRetryable reports whether a caller may retry the operation as-is
func IsRetryable(err error) bool {
	return stderrors.Is(err, ErrWriteConflict) || stderrors.Is(err, ErrVersionConflict)
}
