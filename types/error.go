package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Request / constraint error codes
const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrInvalidSpec         ErrorCode = "INVALID_SPEC"
	ErrUnsatisfiable       ErrorCode = "UNSATISFIABLE"
	ErrNoValidContinuation ErrorCode = "NO_VALID_CONTINUATION"
)

// Runtime error codes
const (
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrModelUnavailable ErrorCode = "MODEL_UNAVAILABLE"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	// PartialText 生成中途失败时已经产出的文本
	PartialText string `json:"partial_text,omitempty"`
	Cause       error  `json:"-"`
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

// Detail returns the message followed by the cause, without the code prefix.
func (e *Error) Detail() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// ErrorType returns the wire name of the code, e.g. "invalid_spec".
func (e *Error) ErrorType() string {
	return strings.ToLower(string(e.Code))
}

// NewError creates a new Error with the given code and message.
// HTTPStatus and Retryable are pre-filled from the code's defaults.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: DefaultHTTPStatus(code),
		Retryable:  defaultRetryable(code),
	}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
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

// WithPartialText attaches the output produced before the failure.
func (e *Error) WithPartialText(text string) *Error {
	e.PartialText = text
	return e
}

// DefaultHTTPStatus maps an error code to its HTTP status.
// NO_VALID_CONTINUATION is a property of the request, not of the server,
// so it maps to 422 and is not retried.
func DefaultHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrInvalidRequest, ErrInvalidSpec:
		return http.StatusBadRequest
	case ErrUnsatisfiable, ErrNoValidContinuation:
		return http.StatusUnprocessableEntity
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrModelUnavailable:
		return http.StatusServiceUnavailable
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func defaultRetryable(code ErrorCode) bool {
	switch code {
	case ErrTimeout, ErrModelUnavailable, ErrRateLimited, ErrInternalError:
		return true
	default:
		return false
	}
}

// AsError extracts a *Error from err's chain.
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

// ToError converts any error into a *Error, wrapping unknown errors as INTERNAL_ERROR.
func ToError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(ErrInternalError, "internal error").WithCause(err)
}
