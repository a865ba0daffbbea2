package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the class of failure for HTTP status mapping and metrics.
type ErrorCode string

const (
	CodeInvalidInput          ErrorCode = "invalid_input"
	CodeNotFound              ErrorCode = "not_found"
	CodeUnauthorized          ErrorCode = "unauthorized"
	CodeForbidden             ErrorCode = "forbidden"
	CodeCapabilityUnsupported ErrorCode = "capability_not_supported"
	CodeBackendOverloaded     ErrorCode = "backend_overloaded"
	CodeBackendNotReady       ErrorCode = "backend_not_ready"
	CodeUpstreamError         ErrorCode = "upstream_error"
	CodeInternal              ErrorCode = "internal"
)

// AppError is the only error type the HTTP boundary understands how to
// render. Everything below interfaces/http returns plain Go errors or
// *AppError; only handlers translate it into status + JSON body.
type AppError struct {
	Code       ErrorCode
	Message    string
	Err        error
	RetryAfter int // seconds, 0 means absent
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewInvalidInput(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

func NewNotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NewUnauthorized(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

func NewForbidden(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message}
}

func NewCapabilityUnsupported(message string) *AppError {
	return &AppError{Code: CodeCapabilityUnsupported, Message: message}
}

// NewBackendOverloaded is built by the HTTP handlers when the admission
// controller rejects a (backend, capability) pair at its concurrency
// limit, or when the agent runtime sheds a heavy-tier run.
func NewBackendOverloaded(message string) *AppError {
	return &AppError{Code: CodeBackendOverloaded, Message: message, RetryAfter: 5}
}

// NewBackendNotReady is returned by the health gate.
func NewBackendNotReady(message string) *AppError {
	return &AppError{Code: CodeBackendNotReady, Message: message, RetryAfter: 30}
}

func NewUpstreamError(message string, cause error) *AppError {
	return &AppError{Code: CodeUpstreamError, Message: message, Err: cause}
}

func NewInternal(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeInvalidInput
	}
	return false
}

// HTTPStatus maps an ErrorCode to the status code spec.md §7 prescribes.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeInvalidInput:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeForbidden:
		return 403
	case CodeNotFound:
		return 404
	case CodeCapabilityUnsupported:
		return 422
	case CodeBackendOverloaded:
		return 429
	case CodeBackendNotReady:
		return 503
	case CodeUpstreamError:
		return 502
	default:
		return 500
	}
}
