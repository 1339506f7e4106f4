// Package errors provides structured error types for diagmcp.
//
// This package defines custom error types that provide better error handling,
// error categorization, and integration with the protocol layer for consistent
// error reporting across the application.
//
// Only extraction and configuration errors ever escape the orchestrator. Every
// other error type is converted into a failed CapabilityResult and reported as
// data.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeExtraction    ErrorType = "extraction"
	ErrorTypeCapability    ErrorType = "capability"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypePermission    ErrorType = "permission"
	ErrorTypeModeFallback  ErrorType = "mode_fallback"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeProtocol      ErrorType = "protocol"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeInternal      ErrorType = "internal"
)

// DiagError is the base error type for all diagmcp errors
type DiagError struct {
	Type       ErrorType
	Code       string
	Message    string
	Underlying error
	Details    map[string]interface{}
	Context    context.Context
	StackTrace []string
	Timestamp  time.Time
}

// Error implements the error interface
func (e *DiagError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Type, e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DiagError) Unwrap() error {
	return e.Underlying
}

// Is checks if the error matches another error
func (e *DiagError) Is(target error) bool {
	if t, ok := target.(*DiagError); ok {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// ToProtocolError converts the error to a protocol ErrorMessage
func (e *DiagError) ToProtocolError(requestID string) *protocol.ErrorMessage {
	msg := protocol.NewErrorMessage(requestID, e.Code, e.Message)
	for k, v := range e.Details {
		msg.Details[k] = v
	}
	return msg
}

// WithDetails adds details to the error
func (e *DiagError) WithDetails(key string, value interface{}) *DiagError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error constructors

func newError(errorType ErrorType, code, message string, underlying error) *DiagError {
	return &DiagError{
		Type:       errorType,
		Code:       code,
		Message:    message,
		Underlying: underlying,
		Timestamp:  time.Now(),
	}
}

// ExtractionError creates an error for an absent or malformed task block
func ExtractionError(code, message string, underlying error) *DiagError {
	return newError(ErrorTypeExtraction, code, message, underlying)
}

// CapabilityError creates an error for a failed diagnostic probe
func CapabilityError(code, message string, underlying error) *DiagError {
	return newError(ErrorTypeCapability, code, message, underlying)
}

// TimeoutError creates a timeout error
func TimeoutError(code, message string, underlying error) *DiagError {
	return newError(ErrorTypeTimeout, code, message, underlying)
}

// PermissionError creates a permission error
func PermissionError(code, message string, underlying error) *DiagError {
	return newError(ErrorTypePermission, code, message, underlying)
}

// ModeFallbackError creates an error recording that delegated mode fell back to direct
func ModeFallbackError(code, message string, underlying error) *DiagError {
	return newError(ErrorTypeModeFallback, code, message, underlying)
}

// ConfigurationError creates a configuration error
func ConfigurationError(code, message string, underlying error) *DiagError {
	return newError(ErrorTypeConfiguration, code, message, underlying)
}

// ValidationError creates a validation error
func ValidationError(code, message string, underlying error) *DiagError {
	return newError(ErrorTypeValidation, code, message, underlying)
}

// ProtocolError creates a protocol-related error
func ProtocolError(code, message string, underlying error) *DiagError {
	return newError(ErrorTypeProtocol, code, message, underlying)
}

// NetworkError creates a network-related error
func NetworkError(code, message string, underlying error) *DiagError {
	return newError(ErrorTypeNetwork, code, message, underlying)
}

// InternalError creates an internal error
func InternalError(code, message string, underlying error) *DiagError {
	return newError(ErrorTypeInternal, code, message, underlying)
}

// Predefined error instances, for use as errors.Is targets

var (
	// Extraction errors
	ErrNoTaskBlock        = ExtractionError(protocol.ErrorCodeNoTaskBlock, protocol.NoTaskBlockError, nil)
	ErrMalformedTaskBlock = ExtractionError(protocol.ErrorCodeMalformedTaskBlock, "Task block is not valid JSON", nil)
	ErrInvalidTaskBlock   = ExtractionError(protocol.ErrorCodeInvalidTaskBlock, "Task block content is invalid", nil)

	// Capability errors
	ErrCapabilityFailed  = CapabilityError(protocol.ErrorCodeCapabilityFailed, "Capability failed", nil)
	ErrUnknownCapability = ConfigurationError(protocol.ErrorCodeUnknownCapability, "Unknown capability", nil)
	ErrUnsupported       = ConfigurationError(protocol.ErrorCodeUnsupported, "unsupported on this platform", nil)
	ErrCapabilityTimeout = TimeoutError(protocol.ErrorCodeTimeout, "Capability timed out", nil)
	ErrNotElevated       = PermissionError(protocol.ErrorCodePermissionDenied, "Administrator privileges required", nil)

	// Delegation errors
	ErrDelegationUnavailable = ModeFallbackError(protocol.ErrorCodeDelegationFailed, "Delegated mode unavailable", nil)

	// Network errors
	ErrConnectionLost = NetworkError(protocol.ErrorCodeConnectionLost, "Connection lost", nil)

	// Protocol errors
	ErrInvalidMessage = ProtocolError(protocol.ErrorCodeInvalidMessage, "Invalid message format", nil)

	// Internal errors
	ErrInternalServerError = InternalError(protocol.ErrorCodeInternalError, "Internal server error", nil)
)

// Helper functions to classify standard Go errors

// ClassifyError attempts to classify a standard Go error into a DiagError
func ClassifyError(err error) *DiagError {
	if err == nil {
		return nil
	}

	// Check if it's already a DiagError
	var diagErr *DiagError
	if stderrors.As(err, &diagErr) {
		return diagErr
	}

	// Classify based on error type
	switch {
	case stderrors.Is(err, context.DeadlineExceeded), os.IsTimeout(err):
		return TimeoutError(protocol.ErrorCodeTimeout, "Operation timeout", err)
	case os.IsPermission(err):
		return PermissionError(protocol.ErrorCodePermissionDenied, "Permission denied", err)
	case isCommandError(err):
		return CapabilityError(protocol.ErrorCodeCapabilityFailed, "Command failed", err)
	case isNetworkError(err):
		return NetworkError("NETWORK_ERROR", "Network error", err)
	default:
		return InternalError("UNKNOWN_ERROR", "Unknown error", err)
	}
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	var netErr net.Error
	return stderrors.As(err, &netErr)
}

// isCommandError checks if the error came from running an external command
func isCommandError(err error) bool {
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return true
	}
	return stderrors.Is(err, exec.ErrNotFound)
}

// WrapError wraps an existing error with additional context.
// The classified error is copied so shared instances are never mutated.
func WrapError(err error, message string) *DiagError {
	if err == nil {
		return nil
	}

	classified := ClassifyError(err)
	wrapped := *classified
	wrapped.Message = message + ": " + classified.Message
	wrapped.Details = copyDetails(classified.Details)
	return &wrapped
}

func copyDetails(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}

// NewErrorf creates a new DiagError with formatted message
func NewErrorf(errorType ErrorType, code, format string, args ...interface{}) *DiagError {
	return newError(errorType, code, fmt.Sprintf(format, args...), nil)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var diagErr *DiagError
	if stderrors.As(err, &diagErr) {
		return diagErr.Type == errorType
	}
	return false
}

// IsCode checks if an error has a specific code
func IsCode(err error, code string) bool {
	var diagErr *DiagError
	if stderrors.As(err, &diagErr) {
		return diagErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) string {
	var diagErr *DiagError
	if stderrors.As(err, &diagErr) {
		return diagErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var diagErr *DiagError
	if stderrors.As(err, &diagErr) {
		return diagErr.Type
	}
	return ErrorTypeInternal
}

// Enhanced error creation with context and stack trace

// newErrorWithContext creates a new DiagError with context and stack trace
func newErrorWithContext(ctx context.Context, errorType ErrorType, code, message string, underlying error) *DiagError {
	err := newError(errorType, code, message, underlying)
	err.Context = ctx
	err.Details = make(map[string]interface{})

	// Skip this function and the caller
	err.StackTrace = captureStackTrace(2)

	return err
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) []string {
	var stack []string
	pc := make([]uintptr, 16)
	n := runtime.Callers(skip+1, pc)

	frames := runtime.CallersFrames(pc[:n])
	for {
		frame, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}

	return stack
}

// Logging integration

// LogAttrs returns slog attributes for the error
func (e *DiagError) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("error_type", string(e.Type)),
		slog.String("error_code", e.Code),
		slog.String("error_message", e.Message),
		slog.Time("error_timestamp", e.Timestamp),
	}

	if e.Underlying != nil {
		attrs = append(attrs, slog.String("underlying_error", e.Underlying.Error()))
	}

	for key, value := range e.Details {
		attrs = append(attrs, slog.Any(fmt.Sprintf("error_detail_%s", key), value))
	}

	// First few frames only
	if len(e.StackTrace) > 0 {
		maxFrames := 3
		if len(e.StackTrace) < maxFrames {
			maxFrames = len(e.StackTrace)
		}
		attrs = append(attrs, slog.Any("error_stack", e.StackTrace[:maxFrames]))
	}

	return attrs
}

// WithCapability records which capability produced the error
func (e *DiagError) WithCapability(name string) *DiagError {
	return e.WithDetails("capability", name)
}

// WithOperation adds operation context to an error
func (e *DiagError) WithOperation(operation string) *DiagError {
	return e.WithDetails("operation", operation)
}

// WithDuration adds timing information to an error
func (e *DiagError) WithDuration(duration time.Duration) *DiagError {
	return e.WithDetails("duration", duration.String())
}

// Recovery helpers

// FromPanic converts a recovered panic value into a DiagError
func FromPanic(ctx context.Context, r interface{}) *DiagError {
	var err error
	if e, ok := r.(error); ok {
		err = e
	} else {
		err = fmt.Errorf("panic: %v", r)
	}

	return newErrorWithContext(ctx, ErrorTypeInternal, "PANIC_RECOVERED",
		"Recovered from panic", err)
}

// WithRecover wraps a function call with panic recovery
func WithRecover(ctx context.Context, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = FromPanic(ctx, r)
		}
	}()

	return fn()
}
