package routing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ScientiaCapital/sales-agent-sub004/services/budget"
)

// BudgetExceededError is returned when the ledger recommends blocking
type BudgetExceededError struct {
	Status budget.Status
}

func (e *BudgetExceededError) Error() string {
	scope := "global"
	if e.Status.CallerID != "" {
		scope = "caller " + e.Status.CallerID
	}
	return fmt.Sprintf("%s %s budget exceeded: spent %.4f of %.4f USD (%.1f%%)",
		scope, e.Status.Period, e.Status.CurrentSpendUSD, e.Status.BudgetLimitUSD, e.Status.UtilizationPercent)
}

// NoEligibleProviderError is returned when no candidate satisfies the request's constraints
type NoEligibleProviderError struct {
	Strategy Strategy
	Reason   string
}

func (e *NoEligibleProviderError) Error() string {
	return fmt.Sprintf("no eligible provider for strategy %s: %s", e.Strategy, e.Reason)
}

// AllProvidersFailedError is returned when every candidate in the cascade failed
type AllProvidersFailedError struct {
	// Attempted lists the providers tried, in order
	Attempted []string
	// Last is the final underlying error
	Last error
	// Errors aggregates every candidate's error
	Errors error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all %d providers failed [%s]: %v", len(e.Attempted), strings.Join(e.Attempted, ", "), e.Last)
}

func (e *AllProvidersFailedError) Unwrap() error {
	return e.Last
}

// IsBudgetExceeded reports whether err is a budget refusal
func IsBudgetExceeded(err error) bool {
	var target *BudgetExceededError
	return errors.As(err, &target)
}

// IsNoEligibleProvider reports whether err is a constraint failure
func IsNoEligibleProvider(err error) bool {
	var target *NoEligibleProviderError
	return errors.As(err, &target)
}

// IsAllProvidersFailed reports whether err is an exhausted cascade
func IsAllProvidersFailed(err error) bool {
	var target *AllProvidersFailedError
	return errors.As(err, &target)
}
