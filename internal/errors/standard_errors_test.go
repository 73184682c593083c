package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardError_Creation(t *testing.T) {
	tests := []struct {
		name            string
		createError     func() *StandardError
		expectedCode    ErrorCode
		expectedMessage string
		sentinel        error
	}{
		{
			name: "validation error",
			createError: func() *StandardError {
				return NewValidationError("conflict_type", "unknown value", "meteor_strike")
			},
			expectedCode:    ErrorCodeValidationError,
			expectedMessage: "validation failed for field 'conflict_type': unknown value",
			sentinel:        ErrValidation,
		},
		{
			name: "not found error",
			createError: func() *StandardError {
				return NewNotFoundError("recommendation", "abc")
			},
			expectedCode:    ErrorCodeNotFound,
			expectedMessage: "recommendation not found: abc",
			sentinel:        ErrNotFound,
		},
		{
			name: "write conflict",
			createError: func() *StandardError {
				return NewWriteConflictError("signal_failure/reroute", 5, nil)
			},
			expectedCode:    ErrorCodeWriteConflict,
			expectedMessage: "write conflict on signal_failure/reroute after 5 attempts",
			sentinel:        ErrWriteConflict,
		},
		{
			name: "embedding unavailable",
			createError: func() *StandardError {
				return NewEmbeddingUnavailableError(nil)
			},
			expectedCode:    ErrorCodeEmbeddingUnavailable,
			expectedMessage: "embedding backend unavailable",
			sentinel:        ErrEmbeddingUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.createError()
			assert.Equal(t, tt.expectedCode, err.Code())
			assert.Equal(t, tt.expectedMessage, err.Error())
			assert.True(t, stderrors.Is(err, tt.sentinel))
		})
	}
}

func TestStandardError_IsSurvivesWrapping(t *testing.T) {
	base := NewNotFoundError("case", "c-1")
	wrapped := fmt.Errorf("apply feedback: %w", base)

	assert.True(t, stderrors.Is(wrapped, ErrNotFound))
	assert.False(t, stderrors.Is(wrapped, ErrValidation))
	assert.Equal(t, ErrorCodeNotFound, CodeOf(wrapped))
}

func TestStandardError_UnwrapsCause(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := NewEmbeddingUnavailableError(cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrorCodeInternalError, CodeOf(stderrors.New("boom")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewVersionConflictError("k", 3)))
	assert.True(t, IsRetryable(NewWriteConflictError("k", 2, nil)))
	assert.False(t, IsRetryable(NewValidationError("f", "r", nil)))
}
