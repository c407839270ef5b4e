package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across hrmflow.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInvalidQuery   ErrorCode = "INVALID_QUERY"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrForbidden      ErrorCode = "FORBIDDEN"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrUpstreamError  ErrorCode = "UPSTREAM_ERROR"
	ErrUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
)

// Tool error codes
const (
	ErrToolNotFound  ErrorCode = "TOOL_NOT_FOUND"
	ErrToolExecution ErrorCode = "TOOL_EXECUTION_FAILED"
	ErrToolTimeout   ErrorCode = "TOOL_TIMEOUT"
	ErrCircuitOpen   ErrorCode = "CIRCUIT_OPEN"
)

// Pipeline error codes
const (
	ErrStorage ErrorCode = "STORAGE_ERROR"
	ErrPattern ErrorCode = "PATTERN_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	// Provider names the tool or backend that produced the error.
	Provider string `json:"provider,omitempty"`
	Cause    error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the tool or backend name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any *Error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// NewInvalidQueryError is returned for empty or oversized queries.
func NewInvalidQueryError(message string) *Error {
	return NewError(ErrInvalidQuery, message).WithHTTPStatus(http.StatusBadRequest)
}

// NewToolError wraps a failed tool invocation. Tool failures are retryable.
func NewToolError(tool string, cause error) *Error {
	return NewError(ErrToolExecution, "tool execution failed").
		WithProvider(tool).
		WithCause(cause).
		WithRetryable(true).
		WithHTTPStatus(http.StatusBadGateway)
}

// NewStorageError wraps a backend storage failure.
func NewStorageError(op string, cause error) *Error {
	return NewError(ErrStorage, op).WithCause(cause).WithHTTPStatus(http.StatusInternalServerError)
}
