package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsCarryCodeAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   string
		status int
	}{
		{"not found", NotFound("feature", "feat-1"), ErrCodeNotFound, http.StatusNotFound},
		{"already running", AlreadyRunning("feat-1"), ErrCodeAlreadyRunning, http.StatusConflict},
		{"not running", NotRunning("feat-1"), ErrCodeNotRunning, http.StatusConflict},
		{"not interrupted", NotInterrupted("feat-1"), ErrCodeNotInterrupted, http.StatusConflict},
		{"validation", ValidationError("title", "is required"), ErrCodeValidationError, http.StatusBadRequest},
		{"conflict", Conflict("status transition not allowed"), ErrCodeConflict, http.StatusConflict},
		{"internal", InternalError("boom", errors.New("cause")), ErrCodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	plain := NotFound("feature", "feat-1")
	assert.Equal(t, "NOT_FOUND: feature with id 'feat-1' not found", plain.Error())

	wrapped := InternalError("write failed", errors.New("disk full"))
	assert.Contains(t, wrapped.Error(), "INTERNAL_ERROR")
	assert.Contains(t, wrapped.Error(), "disk full")
}

func TestWrapPreservesAppErrorCode(t *testing.T) {
	inner := NotRunning("feat-1")
	outer := Wrap(fmt.Errorf("interrupt failed: %w", inner), "failed to interrupt feature")

	assert.Equal(t, ErrCodeNotRunning, outer.Code)
	assert.Equal(t, http.StatusConflict, outer.HTTPStatus)
	assert.Contains(t, outer.Message, "failed to interrupt feature")
	assert.True(t, IsNotRunning(outer))
}

func TestWrapPlainError(t *testing.T) {
	outer := Wrap(errors.New("connection refused"), "failed to list features")

	assert.Equal(t, ErrCodeInternalError, outer.Code)
	assert.Equal(t, http.StatusInternalServerError, outer.HTTPStatus)
	assert.Equal(t, "failed to list features", outer.Message)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "nothing happened"))
}

func TestUnwrapSupportsErrorsAs(t *testing.T) {
	cause := errors.New("root cause")
	err := fmt.Errorf("outer: %w", InternalError("inner", cause))

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrCodeInternalError, appErr.Code)
	assert.True(t, errors.Is(err, cause))
}

func TestPredicatesMatchThroughWrapping(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", NotFound("feature", "x"))))
	assert.True(t, IsAlreadyRunning(AlreadyRunning("x")))
	assert.True(t, IsNotInterrupted(NotInterrupted("x")))
	assert.True(t, IsValidation(ValidationError("status", "unknown")))

	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestGetHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, GetHTTPStatus(NotFound("feature", "x")))
	assert.Equal(t, http.StatusConflict, GetHTTPStatus(fmt.Errorf("wrapped: %w", AlreadyRunning("x"))))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("plain")))
}
