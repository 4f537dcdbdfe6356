// Package errors defines the structured error taxonomy for the engine.
// Every failure that crosses a component boundary carries a Code so that
// callers can branch on kind without parsing provider-specific messages.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies a class of engine failure.
type Code string

const (
	// CodeValidation indicates bad caller input. Never retried.
	CodeValidation Code = "VALIDATION"
	// CodeProviderError indicates the embedding or generation provider
	// failed after component-local retries were exhausted.
	CodeProviderError Code = "PROVIDER_ERROR"
	// CodeSourceUnavailable indicates one vector source errored or timed
	// out. Recoverable by the retriever's partial-failure policy.
	CodeSourceUnavailable Code = "SOURCE_UNAVAILABLE"
	// CodeRetrievalUnavailable indicates both vector sources failed.
	CodeRetrievalUnavailable Code = "RETRIEVAL_UNAVAILABLE"
	// CodeGenerationUnavailable indicates the generation provider failed.
	// Terminal for the request.
	CodeGenerationUnavailable Code = "GENERATION_UNAVAILABLE"
	// CodeRateLimited indicates the provider rejected the call for rate
	// reasons. Surfaced with a retry hint, never silently retried.
	CodeRateLimited Code = "RATE_LIMITED"
	// CodeTimeout indicates an external call exceeded its deadline.
	CodeTimeout Code = "TIMEOUT"
	// CodeContextCanceled indicates the caller abandoned the request.
	CodeContextCanceled Code = "CONTEXT_CANCELED"
)

// EngineError is the structured error returned by engine components.
type EngineError struct {
	Code    Code
	Message string
	Cause   error
	// RetryAfter is a hint for CodeRateLimited; zero means unknown.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Validation creates a bad-input error.
func Validation(msg string) *EngineError {
	return &EngineError{Code: CodeValidation, Message: msg}
}

// Validationf creates a bad-input error with formatting.
func Validationf(format string, args ...any) *EngineError {
	return &EngineError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Provider creates a provider error.
func Provider(msg string, cause error) *EngineError {
	return &EngineError{Code: CodeProviderError, Message: msg, Cause: cause}
}

// SourceUnavailable creates a recoverable vector-source error.
func SourceUnavailable(source string, cause error) *EngineError {
	return &EngineError{
		Code:    CodeSourceUnavailable,
		Message: fmt.Sprintf("vector source %s unavailable", source),
		Cause:   cause,
	}
}

// RetrievalUnavailable creates the fatal both-sources-failed error.
func RetrievalUnavailable(cause error) *EngineError {
	return &EngineError{Code: CodeRetrievalUnavailable, Message: "all vector sources failed", Cause: cause}
}

// GenerationUnavailable creates a terminal generation error.
func GenerationUnavailable(cause error) *EngineError {
	return &EngineError{Code: CodeGenerationUnavailable, Message: "generation provider failed", Cause: cause}
}

// RateLimited creates a rate-limit error with a retry hint.
func RateLimited(msg string, retryAfter time.Duration) *EngineError {
	return &EngineError{Code: CodeRateLimited, Message: msg, RetryAfter: retryAfter}
}

// Timeout creates a deadline-exceeded error.
func Timeout(msg string) *EngineError {
	return &EngineError{Code: CodeTimeout, Message: msg}
}

// Canceled creates a caller-cancellation error.
func Canceled(cause error) *EngineError {
	return &EngineError{Code: CodeContextCanceled, Message: "request canceled", Cause: cause}
}

// Wrap wraps an existing error under a code.
func Wrap(cause error, code Code, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg, Cause: cause}
}

// IsCode reports whether err (or anything it wraps) carries the code.
func IsCode(err error, code Code) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// CodeOf extracts the code from err, or returns fallback.
func CodeOf(err error, fallback Code) Code {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return fallback
}
