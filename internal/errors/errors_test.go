package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidRequest, 400},
		{ErrCodeAuthenticationFailed, 401},
		{ErrCodeInstanceNotFound, 404},
		{ErrCodeRateLimitExceeded, 429},
		{ErrCodeOrchestratorFailure, 502},
		{ErrCodeNoInstances, 503},
		{ErrCodeInternalError, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := NewError(tt.code, "test", "message")
			assert.Equal(t, tt.want, err.HTTPStatusCode())
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewOrchestratorError("list_containers", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "connection refused", err.Details)
	assert.True(t, err.IsRetryable())

	var cpErr *ControlPlaneError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &cpErr))
	assert.Equal(t, ErrCodeOrchestratorFailure, cpErr.Code)
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := NewInstanceNotFoundError("api", "api-host-1-8080")

	assert.ErrorIs(t, err, NewError(ErrCodeInstanceNotFound, "other", "other message"))
	assert.NotErrorIs(t, err, NewError(ErrCodeServiceNotFound, "registry", "x"))

	assert.Equal(t, "api", err.Metadata["service"])
	assert.Equal(t, "api-host-1-8080", err.Metadata["instance_id"])
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeNoInstances, GetErrorCode(NewNoInstancesError("api")))
	assert.Equal(t, ErrCodeInternalError, GetErrorCode(fmt.Errorf("plain")))

	assert.Equal(t, 503, GetHTTPStatusCode(NewNoInstancesError("api")))
	assert.Equal(t, 500, GetHTTPStatusCode(fmt.Errorf("plain")))
}
