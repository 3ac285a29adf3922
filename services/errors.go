package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ScientiaCapital/sales-agent-sub004/services/circuitbreaker"
	"github.com/ScientiaCapital/sales-agent-sub004/services/dispatch"
	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
	"github.com/ScientiaCapital/sales-agent-sub004/services/routing"
	"github.com/ScientiaCapital/sales-agent-sub004/utils"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeBudget        ErrorType = "budget"
	ErrorTypeUnprocessable ErrorType = "unprocessable"
	ErrorTypeUnavailable   ErrorType = "unavailable"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeExternal      ErrorType = "external"
	ErrorTypeInternal      ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

var (
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrForbidden    = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInternal     = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// Classify converts errors returned by the dispatcher into domain errors.
// Errors that already are domain errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	if utils.IsValidationError(err) {
		de := NewDomainError(ErrorTypeValidation, "request validation failed", err)
		for field, msg := range utils.GetValidationFields(err) {
			de.WithDetail(field, msg)
		}
		return de
	}

	var budgetErr *routing.BudgetExceededError
	if errors.As(err, &budgetErr) {
		s := budgetErr.Status
		return NewDomainError(ErrorTypeBudget, "budget exceeded", err).
			WithDetail("period", string(s.Period)).
			WithDetail("caller_id", s.CallerID).
			WithDetail("current_spend_usd", s.CurrentSpendUSD).
			WithDetail("budget_limit_usd", s.BudgetLimitUSD).
			WithDetail("utilization_percent", s.UtilizationPercent)
	}

	var noEligible *routing.NoEligibleProviderError
	if errors.As(err, &noEligible) {
		return NewDomainError(ErrorTypeUnprocessable, "no provider satisfies the request constraints", err).
			WithDetail("strategy", string(noEligible.Strategy)).
			WithDetail("reason", noEligible.Reason)
	}

	var failed *routing.AllProvidersFailedError
	if errors.As(err, &failed) {
		errType := ErrorTypeExternal
		message := "all providers failed"
		switch {
		case errors.Is(failed.Last, context.DeadlineExceeded):
			errType, message = ErrorTypeTimeout, "request deadline exceeded"
		case circuitbreaker.IsCircuitOpen(failed.Last):
			errType, message = ErrorTypeUnavailable, "all provider circuits are open"
		}
		return NewDomainError(errType, message, err).
			WithDetail("attempted", failed.Attempted)
	}

	if providers.KindOf(err) == providers.ErrorKindInvalidRequest {
		return NewDomainError(ErrorTypeValidation, "provider rejected the request", err)
	}

	if errors.Is(err, dispatch.ErrUnknownProvider) {
		return NewDomainError(ErrorTypeNotFound, "provider not found", err)
	}

	return WrapInternal("unexpected error", err)
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsBudgetError checks if an error is a budget error
func IsBudgetError(err error) bool {
	return GetErrorType(err) == ErrorTypeBudget
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
