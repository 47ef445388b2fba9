package utils

import (
	"errors"
	"fmt"
	"runtime"
)

// AppError represents an application error with context
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UserMessage returns the message meant for operators, without code or details
func (e *AppError) UserMessage() string {
	return e.Message
}

// NewAppError creates a new application error
func NewAppError(code, message string, details ...string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	err := &AppError{
		Code:    code,
		Message: message,
		File:    file,
		Line:    line,
	}

	if len(details) > 0 {
		err.Details = details[0]
	}

	return err
}

// WithStatus records the HTTP status that produced the error
func (e *AppError) WithStatus(status int) *AppError {
	e.StatusCode = status
	return e
}

// WithStackTrace adds stack trace to the error
func (e *AppError) WithStackTrace() *AppError {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	e.StackTrace = string(buf[:n])
	return e
}

// ErrorCode returns the code of the first AppError in the chain, or "" if there is none
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given AppError code
func IsErrorCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// UserMessage extracts an operator-facing message from any error
func UserMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.UserMessage()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Common error codes
const (
	ErrCodeConnection    = "CONNECTION_ERROR"
	ErrCodeDatabase      = "DATABASE_ERROR"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternal      = "INTERNAL_ERROR"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeProtocol      = "PROTOCOL_ERROR"

	// REST failure taxonomy
	ErrCodeAuthRequired = "AUTH_REQUIRED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeServer       = "SERVER_ERROR"
	ErrCodeRequest      = "REQUEST_FAILED"
	ErrCodeNetwork      = "NETWORK_UNREACHABLE"

	// Push channel and session
	ErrCodeAuth             = "AUTH_ERROR"
	ErrCodeRoleNotEligible  = "ROLE_NOT_ELIGIBLE"
	ErrCodeReconnectExhaust = "RECONNECT_EXHAUSTED"
)
