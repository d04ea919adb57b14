package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the gateway.
type ErrorCode string

// Configuration error codes
const (
	ErrUnknownModel         ErrorCode = "UNKNOWN_MODEL"
	ErrTokenizerUnavailable ErrorCode = "TOKENIZER_UNAVAILABLE"
)

// Upstream / transport error codes
const (
	ErrUpstreamError          ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamConnectionLost ErrorCode = "UPSTREAM_CONNECTION_LOST"
	ErrTransportSend          ErrorCode = "TRANSPORT_SEND_FAILED"
)

// Session error codes
const (
	ErrDuplicateSession ErrorCode = "DUPLICATE_SESSION"
	ErrUnknownSession   ErrorCode = "UNKNOWN_SESSION"
)

// HTTP surface error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
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

// GetErrorCode extracts the error code from an error, looking through wrapping.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// IsConfiguration reports whether err belongs to the configuration class
// (unknown model, missing tokenizer). These fail a single request only.
func IsConfiguration(err error) bool {
	switch GetErrorCode(err) {
	case ErrUnknownModel, ErrTokenizerUnavailable:
		return true
	}
	return false
}
