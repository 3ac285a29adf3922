package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies provider failures so retry and fallback decisions
// never depend on error strings
type ErrorKind string

const (
	ErrorKindConnection     ErrorKind = "connection_failure"
	ErrorKindRateLimited    ErrorKind = "rate_limited"
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
	ErrorKindUpstream       ErrorKind = "upstream"
)

// Retryable reports whether errors of this kind may be retried
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindConnection, ErrorKindRateLimited, ErrorKindTimeout, ErrorKindUpstream:
		return true
	default:
		return false
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Kind is the normalized failure class
	Kind ErrorKind

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// RetryAfter is the server-suggested wait for rate limited responses
	RetryAfter time.Duration

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the request can be retried
func (e *ProviderError) Retryable() bool {
	return e.Kind.Retryable()
}

// NewProviderError creates a new provider error
func NewProviderError(provider string, kind ErrorKind, message string, cause error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Message:  message,
		Cause:    cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}
	return false
}

// KindOf returns the ErrorKind of a provider error, or "" for other errors
func KindOf(err error) ErrorKind {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Kind
	}
	return ""
}

// RetryAfterOf returns the server-suggested delay carried by a provider error
func RetryAfterOf(err error) time.Duration {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.RetryAfter
	}
	return 0
}

// FromStatus classifies a non-2xx HTTP response
func FromStatus(provider string, statusCode int, header http.Header, message string, cause error) *ProviderError {
	e := &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		e.Kind = ErrorKindRateLimited
		e.RetryAfter = parseRetryAfter(header)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		e.Kind = ErrorKindTimeout
	case statusCode >= 500:
		e.Kind = ErrorKindUpstream
	default:
		e.Kind = ErrorKindInvalidRequest
	}

	return e
}

// FromTransport classifies an error returned before any HTTP status was seen
func FromTransport(provider string, err error) *ProviderError {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr
	}

	kind := ErrorKindConnection
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrorKindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrorKindTimeout
	}

	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Cause:    err,
	}
}

func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
