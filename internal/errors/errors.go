package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Infrastructure errors
	ErrCodeConfigLoad          ErrorCode = "CONFIG_LOAD_FAILED"
	ErrCodeRegistryStopped     ErrorCode = "REGISTRY_STOPPED"
	ErrCodeHealthCheckFailed   ErrorCode = "HEALTH_CHECK_FAILED"
	ErrCodeOrchestratorFailure ErrorCode = "ORCHESTRATOR_FAILURE"
	ErrCodeScaleFailed         ErrorCode = "SCALE_FAILED"

	// Registry errors
	ErrCodeServiceNotFound  ErrorCode = "SERVICE_NOT_FOUND"
	ErrCodeInstanceNotFound ErrorCode = "INSTANCE_NOT_FOUND"
	ErrCodeNoInstances      ErrorCode = "NO_INSTANCES_AVAILABLE"

	// Request processing errors
	ErrCodeInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeRateLimitExceeded    ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal errors
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// ControlPlaneError represents a structured error with context
type ControlPlaneError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *ControlPlaneError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *ControlPlaneError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error code
func (e *ControlPlaneError) Is(target error) bool {
	if t, ok := target.(*ControlPlaneError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *ControlPlaneError) WithMetadata(key string, value interface{}) *ControlPlaneError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsRetryable returns true if the error might be resolved by retrying
func (e *ControlPlaneError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeOrchestratorFailure, ErrCodeScaleFailed, ErrCodeServiceUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *ControlPlaneError) HTTPStatusCode() int {
	switch e.Code {
	case ErrCodeInvalidRequest:
		return 400
	case ErrCodeAuthenticationFailed:
		return 401
	case ErrCodeServiceNotFound, ErrCodeInstanceNotFound:
		return 404
	case ErrCodeRateLimitExceeded:
		return 429
	case ErrCodeNoInstances, ErrCodeServiceUnavailable:
		return 503
	case ErrCodeOrchestratorFailure, ErrCodeScaleFailed:
		return 502
	default:
		return 500
	}
}

// NewError creates a new ControlPlaneError
func NewError(code ErrorCode, component, message string) *ControlPlaneError {
	return &ControlPlaneError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewErrorWithCause creates a new ControlPlaneError with an underlying cause
func NewErrorWithCause(code ErrorCode, component, message string, cause error) *ControlPlaneError {
	return &ControlPlaneError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
		Details:   cause.Error(),
	}
}

// Common error constructors for frequently used errors

// NewInstanceNotFoundError creates an error for a missing instance
func NewInstanceNotFoundError(service, instanceID string) *ControlPlaneError {
	return NewError(
		ErrCodeInstanceNotFound,
		"registry",
		fmt.Sprintf("Instance %s not registered for service %s", instanceID, service),
	).WithMetadata("service", service).WithMetadata("instance_id", instanceID)
}

// NewServiceNotFoundError creates an error for an unknown service name
func NewServiceNotFoundError(service string) *ControlPlaneError {
	return NewError(
		ErrCodeServiceNotFound,
		"registry",
		fmt.Sprintf("Service %s has no registered instances", service),
	).WithMetadata("service", service)
}

// NewNoInstancesError creates an error when no healthy instances are available
func NewNoInstancesError(service string) *ControlPlaneError {
	return NewError(
		ErrCodeNoInstances,
		"balancer",
		fmt.Sprintf("No healthy instances available for service %s", service),
	).WithMetadata("service", service)
}

// NewOrchestratorError creates an error for orchestrator API failures
func NewOrchestratorError(operation string, cause error) *ControlPlaneError {
	return NewErrorWithCause(
		ErrCodeOrchestratorFailure,
		"orchestrator",
		fmt.Sprintf("Orchestrator operation %s failed", operation),
		cause,
	).WithMetadata("operation", operation)
}

// NewRateLimitError creates an error for rate limiting
func NewRateLimitError(clientIP string) *ControlPlaneError {
	return NewError(
		ErrCodeRateLimitExceeded,
		"rate_limiter",
		fmt.Sprintf("Rate limit exceeded for client %s", clientIP),
	).WithMetadata("client_ip", clientIP)
}

// NewAuthenticationError creates an authentication error
func NewAuthenticationError(reason string) *ControlPlaneError {
	return NewError(
		ErrCodeAuthenticationFailed,
		"auth",
		fmt.Sprintf("Authentication failed: %s", reason),
	).WithMetadata("reason", reason)
}

// IsControlPlaneError checks if an error is a ControlPlaneError
func IsControlPlaneError(err error) bool {
	var cpErr *ControlPlaneError
	return errors.As(err, &cpErr)
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var cpErr *ControlPlaneError
	if errors.As(err, &cpErr) {
		return cpErr.Code
	}
	return ErrCodeInternalError
}

// GetHTTPStatusCode gets the appropriate HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	var cpErr *ControlPlaneError
	if errors.As(err, &cpErr) {
		return cpErr.HTTPStatusCode()
	}
	return 500
}
