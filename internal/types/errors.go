package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for verdict engine errors.
type ErrorCode string

// Registry error codes
const (
	DUPLICATE_TOOL ErrorCode = "DUPLICATE_TOOL"
	NOT_FOUND      ErrorCode = "NOT_FOUND"
	INVALID_INPUT  ErrorCode = "INVALID_INPUT"
	CIRCUIT_OPEN   ErrorCode = "CIRCUIT_OPEN"
	TOOL_ERROR     ErrorCode = "TOOL_ERROR"
	TOOL_TIMEOUT   ErrorCode = "TOOL_TIMEOUT"
)

// Workflow error codes
const (
	INPUT_MAPPING_ERROR ErrorCode = "INPUT_MAPPING_ERROR"
	WORKFLOW_ABORTED    ErrorCode = "WORKFLOW_ABORTED"
)

// Configuration error codes
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// Decision log error codes
const (
	LOG_SINK_FAILED ErrorCode = "LOG_SINK_FAILED"
	LOG_CLOSED      ErrorCode = "LOG_CLOSED"
)

// EngineError represents a structured error with error code, message, and optional cause.
// It supports error wrapping and retryability hints for error handling logic.
type EngineError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface, returning a formatted error message.
// Format: "[CODE] message" or "[CODE] message: cause" if cause exists.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error unwrapping chains.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error by error code.
// Returns true if target is an EngineError with the same Code.
func (e *EngineError) Is(target error) bool {
	var engineErr *EngineError
	if errors.As(target, &engineErr) {
		return e.Code == engineErr.Code
	}
	return false
}

// NewError creates a new non-retryable EngineError with the given code and message.
func NewError(code ErrorCode, message string) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
	}
}

// NewRetryableError creates a new retryable EngineError with the given code and message.
// Use this for transient errors that may succeed on retry (e.g., sink write failures).
func NewRetryableError(code ErrorCode, message string) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// WrapError creates a new non-retryable EngineError that wraps an existing error.
// The wrapped error is accessible via Unwrap() for error chain inspection.
func WrapError(code ErrorCode, message string, cause error) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) an EngineError.
// Returns an empty code otherwise.
func CodeOf(err error) ErrorCode {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ""
}
