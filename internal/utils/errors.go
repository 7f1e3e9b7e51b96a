// Package utils provides logging and structured error handling shared by
// every package of the fetch layer.
package utils

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns string representation of error severity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode represents predefined error codes for categorization
type ErrorCode string

const (
	// Network related errors
	ErrCodeNetworkTimeout ErrorCode = "NETWORK_TIMEOUT"
	ErrCodeNetworkFailed  ErrorCode = "NETWORK_FAILED"

	// Configuration related errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigSyntax  ErrorCode = "CONFIG_SYNTAX"
	ErrCodeAuthFailed    ErrorCode = "AUTH_FAILED"

	// Anti-detection related
	ErrCodeCaptchaFailed    ErrorCode = "CAPTCHA_FAILED"
	ErrCodeProxyFailed      ErrorCode = "PROXY_FAILED"
	ErrCodeBrowserFailed    ErrorCode = "BROWSER_FAILED"
	ErrCodeDetectionBlocked ErrorCode = "DETECTION_BLOCKED"
	ErrCodeNoCandidates     ErrorCode = "NO_CANDIDATES"
	ErrCodeMaxTries         ErrorCode = "MAX_TRIES_EXCEEDED"

	// Generic errors
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
)

// Sentinels for errors.Is. A StructuredError matches a sentinel when the
// codes are equal.
var (
	ErrConfiguration      = &StructuredError{Code: ErrCodeInvalidConfig, Message: "invalid configuration"}
	ErrBrowserUnavailable = &StructuredError{Code: ErrCodeBrowserFailed, Message: "browser unavailable"}
	ErrProxyUnusable      = &StructuredError{Code: ErrCodeProxyFailed, Message: "proxy unusable"}
	ErrBadCredentials     = &StructuredError{Code: ErrCodeAuthFailed, Message: "proxy rejected credentials"}
)

// StructuredError provides rich error information for better debugging and handling
type StructuredError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Severity    ErrorSeverity          `json:"severity"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Cause       error                  `json:"-"`
	Timestamp   time.Time              `json:"timestamp"`
	StackTrace  []string               `json:"stack_trace,omitempty"`
	Retryable   bool                   `json:"retryable"`
	UserMessage string                 `json:"user_message,omitempty"`
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target error code
func (e *StructuredError) Is(target error) bool {
	if se, ok := target.(*StructuredError); ok {
		return e.Code == se.Code
	}
	return false
}

// ContextValue returns a context entry or nil.
func (e *StructuredError) ContextValue(key string) interface{} {
	if e.Context == nil {
		return nil
	}
	return e.Context[key]
}

// ErrorBuilder provides a fluent interface for creating structured errors
type ErrorBuilder struct {
	error *StructuredError
}

// NewError creates a new error builder
func NewError(code ErrorCode, message string) *ErrorBuilder {
	return &ErrorBuilder{
		error: &StructuredError{
			Code:       code,
			Message:    message,
			Severity:   SeverityError,
			Timestamp:  time.Now(),
			StackTrace: captureStackTrace(8),
		},
	}
}

// Errorf creates a builder with a formatted message.
func Errorf(code ErrorCode, format string, args ...interface{}) *ErrorBuilder {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithSeverity sets the error severity
func (eb *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	eb.error.Severity = severity
	return eb
}

// WithCause sets the underlying cause
func (eb *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	eb.error.Cause = cause
	return eb
}

// WithContext adds contextual information
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	if eb.error.Context == nil {
		eb.error.Context = make(map[string]interface{})
	}
	eb.error.Context[key] = value
	return eb
}

// WithRetryable marks the error as retryable
func (eb *ErrorBuilder) WithRetryable(retryable bool) *ErrorBuilder {
	eb.error.Retryable = retryable
	return eb
}

// WithUserMessage sets a user-friendly message
func (eb *ErrorBuilder) WithUserMessage(message string) *ErrorBuilder {
	eb.error.UserMessage = message
	return eb
}

// Build returns the constructed error
func (eb *ErrorBuilder) Build() *StructuredError {
	return eb.error
}

// ConfigError builds an INVALID_CONFIG error wrapping cause.
func ConfigError(cause error, format string, args ...interface{}) *StructuredError {
	return Errorf(ErrCodeInvalidConfig, format, args...).
		WithCause(cause).
		WithSeverity(SeverityCritical).
		Build()
}

// IsConfigurationError reports whether err is a configuration-class failure:
// a setting that cannot work no matter how many times the fetch is retried.
func IsConfigurationError(err error) bool {
	var se *StructuredError
	if !errors.As(err, &se) {
		return false
	}
	for ; se != nil; se = nextStructured(se) {
		switch se.Code {
		case ErrCodeInvalidConfig, ErrCodeMissingConfig, ErrCodeConfigSyntax,
			ErrCodeBrowserFailed, ErrCodeProxyFailed, ErrCodeAuthFailed:
			return true
		}
	}
	return false
}

func nextStructured(se *StructuredError) *StructuredError {
	var next *StructuredError
	if se.Cause != nil && errors.As(se.Cause, &next) {
		return next
	}
	return nil
}

// IsRetryableError checks if an error is retryable
func IsRetryableError(err error) bool {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetUserFriendlyMessage returns a user-friendly error message
func GetUserFriendlyMessage(err error) string {
	var se *StructuredError
	if errors.As(err, &se) {
		if se.UserMessage != "" {
			return se.UserMessage
		}
		return se.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func captureStackTrace(depth int) []string {
	pcs := make([]uintptr, depth)
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])

	trace := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		trace = append(trace, fmt.Sprintf("%s:%d %s", shortenFilePath(frame.File), frame.Line, shortenFuncName(frame.Function)))
		if !more {
			break
		}
	}
	return trace
}

func shortenFilePath(filePath string) string {
	parts := strings.Split(filePath, "/")
	if len(parts) > 2 {
		return strings.Join(parts[len(parts)-2:], "/")
	}
	return filePath
}

func shortenFuncName(funcName string) string {
	if idx := strings.LastIndex(funcName, "/"); idx >= 0 {
		return funcName[idx+1:]
	}
	return funcName
}
