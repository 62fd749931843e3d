package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Plugin / execution error codes
const (
	ErrBadInput            ErrorCode = "BAD_INPUT"
	ErrExecutionFault      ErrorCode = "EXECUTION_FAULT"
	ErrPluginFault         ErrorCode = "PLUGIN_FAULT"
	ErrParameterValidation ErrorCode = "PARAMETER_VALIDATION"
	ErrUserInputNeeded     ErrorCode = "USER_INPUT_NEEDED"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrServiceUnreachable  ErrorCode = "SERVICE_UNREACHABLE"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
)

// Step graph error codes
const (
	ErrDependencyUnsatisfied ErrorCode = "DEPENDENCY_UNSATISFIED"
	ErrInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	ErrCyclicDependency      ErrorCode = "CYCLIC_DEPENDENCY"
)

// Storage error codes
const (
	ErrVersionConflict ErrorCode = "VERSION_CONFLICT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Plugin     string    `json:"plugin,omitempty"`
	Cause      error     `json:"-"`
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

// WithPlugin records which plugin produced the error.
func (e *Error) WithPlugin(plugin string) *Error {
	e.Plugin = plugin
	return e
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
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

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// 常用错误构造

// NewBadInputError marks a request the plugin rejected as malformed.
func NewBadInputError(message string) *Error {
	return NewError(ErrBadInput, message).WithHTTPStatus(400)
}

// NewExecutionFaultError marks a failure inside the plugin's own execution.
func NewExecutionFaultError(message string) *Error {
	return NewError(ErrExecutionFault, message).WithRetryable(true)
}

// NewPluginFaultError marks a fault reported by the plugin runtime itself.
func NewPluginFaultError(message string) *Error {
	return NewError(ErrPluginFault, message).WithRetryable(true)
}

// NewDependencyError marks a step dispatched before its inputs were available.
func NewDependencyError(message string) *Error {
	return NewError(ErrDependencyUnsatisfied, message).WithRetryable(true)
}

// NewValidationError marks a parameter the plugin refused.
func NewValidationError(message string) *Error {
	return NewError(ErrParameterValidation, message).WithHTTPStatus(422)
}

// NewServiceUnreachableError marks a plugin endpoint that could not be contacted.
func NewServiceUnreachableError(message string) *Error {
	return NewError(ErrServiceUnreachable, message).WithRetryable(true)
}

// NewTimeoutError marks a plugin call that exceeded its deadline.
func NewTimeoutError(message string) *Error {
	return NewError(ErrTimeout, message).WithHTTPStatus(504).WithRetryable(true)
}
