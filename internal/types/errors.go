package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for Meridian framework errors.
type ErrorCode string

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_PARSE_FAILED      ErrorCode = "CONFIG_PARSE_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// Planning error codes
const (
	PLAN_NOT_FOUND       ErrorCode = "PLAN_NOT_FOUND"
	GOAL_UNREACHABLE     ErrorCode = "GOAL_UNREACHABLE"
	MAX_REPLANS_EXCEEDED ErrorCode = "MAX_REPLANS_EXCEEDED"
	LIBRARY_INVALID      ErrorCode = "LIBRARY_INVALID"
)

// Execution error codes
const (
	EXECUTION_FAILED   ErrorCode = "EXECUTION_FAILED"
	EXECUTION_TIMEOUT  ErrorCode = "EXECUTION_TIMEOUT"
	EXECUTION_DEADLOCK ErrorCode = "EXECUTION_DEADLOCK"
	CIRCUIT_OPEN       ErrorCode = "CIRCUIT_OPEN"
	TOOL_NOT_FOUND     ErrorCode = "TOOL_NOT_FOUND"
)

// MeridianError represents a structured error with error code, message, and optional cause.
// It supports error wrapping and retryability hints for error handling logic.
type MeridianError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *MeridianError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
// This enables using errors.Is() and errors.As() with wrapped errors.
func (e *MeridianError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
// Returns true if target is a MeridianError with the same Code.
func (e *MeridianError) Is(target error) bool {
	var merr *MeridianError
	if errors.As(target, &merr) {
		return e.Code == merr.Code
	}
	return false
}

// NewError creates a new non-retryable MeridianError with the given code and message.
func NewError(code ErrorCode, message string) *MeridianError {
	return &MeridianError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     nil,
	}
}

// NewRetryableError creates a new retryable MeridianError with the given code and message.
// Use this for transient errors that may succeed on retry (e.g., tool timeouts).
func NewRetryableError(code ErrorCode, message string) *MeridianError {
	return &MeridianError{
		Code:      code,
		Message:   message,
		Retryable: true,
		Cause:     nil,
	}
}

// WrapError creates a new non-retryable MeridianError that wraps an existing error.
// The wrapped error is accessible via Unwrap() for error chain inspection.
func WrapError(code ErrorCode, message string, cause error) *MeridianError {
	return &MeridianError{
		Code:      code,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}
