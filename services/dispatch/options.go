package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/ScientiaCapital/sales-agent-sub004/services/budget"
	"github.com/ScientiaCapital/sales-agent-sub004/services/circuitbreaker"
	"github.com/ScientiaCapital/sales-agent-sub004/services/retry"
	"github.com/ScientiaCapital/sales-agent-sub004/services/routing"
)

// Options is the startup configuration of a Dispatcher. Breaker and retry
// values are defaults for providers whose catalog entry leaves them unset.
type Options struct {
	Strategy routing.Strategy

	FailureThreshold   int
	OpenTimeoutSeconds float64
	HalfOpenSuccesses  int

	// MaxRetries is the number of retries per provider after the first attempt
	MaxRetries  int
	BaseDelayMs int
	MaxDelayMs  int

	DailyBudgetUSD         float64
	MonthlyBudgetUSD       float64
	CallerDailyBudgetUSD   float64
	CallerMonthlyBudgetUSD float64

	// BalancedWeights maps provider names to shares for the balanced strategy
	BalancedWeights map[string]float64

	// CacheTTL enables the response cache when > 0 and a cache is supplied
	CacheTTL time.Duration
}

// DefaultOptions returns the defaults used when nothing is configured
func DefaultOptions() Options {
	breaker := circuitbreaker.DefaultConfig()
	policy := retry.DefaultPolicy()

	return Options{
		Strategy:           routing.StrategyCostOptimized,
		FailureThreshold:   breaker.FailureThreshold,
		OpenTimeoutSeconds: breaker.OpenTimeout.Seconds(),
		HalfOpenSuccesses:  breaker.HalfOpenSuccesses,
		MaxRetries:         policy.MaxAttempts - 1,
		BaseDelayMs:        int(policy.BaseDelay / time.Millisecond),
		MaxDelayMs:         int(policy.MaxDelay / time.Millisecond),
	}
}

// Validate checks the options for values the dispatcher cannot run with
func (o Options) Validate() error {
	if o.Strategy != "" && !o.Strategy.Valid() {
		return fmt.Errorf("unknown routing strategy %q", o.Strategy)
	}
	if o.FailureThreshold < 0 {
		return errors.New("failure_threshold must not be negative")
	}
	if o.OpenTimeoutSeconds < 0 {
		return errors.New("open_timeout_seconds must not be negative")
	}
	if o.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if o.BaseDelayMs < 0 || o.MaxDelayMs < 0 {
		return errors.New("retry delays must not be negative")
	}
	for name, budget := range map[string]float64{
		"daily_budget_usd":          o.DailyBudgetUSD,
		"monthly_budget_usd":        o.MonthlyBudgetUSD,
		"caller_daily_budget_usd":   o.CallerDailyBudgetUSD,
		"caller_monthly_budget_usd": o.CallerMonthlyBudgetUSD,
	} {
		if budget < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	for name, w := range o.BalancedWeights {
		if w < 0 {
			return fmt.Errorf("balanced weight for %s must not be negative", name)
		}
	}
	if o.CacheTTL < 0 {
		return errors.New("cache_ttl must not be negative")
	}
	return nil
}

// breakerDefaults converts the options into breaker defaults; zero fields keep the package defaults
func (o Options) breakerDefaults() circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig()
	if o.FailureThreshold > 0 {
		cfg.FailureThreshold = o.FailureThreshold
	}
	if o.OpenTimeoutSeconds > 0 {
		cfg.OpenTimeout = time.Duration(o.OpenTimeoutSeconds * float64(time.Second))
	}
	if o.HalfOpenSuccesses > 0 {
		cfg.HalfOpenSuccesses = o.HalfOpenSuccesses
	}
	return cfg
}

// retryDefaults converts the options into a retry policy. MaxRetries maps to
// MaxRetries+1 attempts; zero delay fields keep the package defaults.
func (o Options) retryDefaults() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = o.MaxRetries + 1
	if o.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(o.BaseDelayMs) * time.Millisecond
	}
	if o.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(o.MaxDelayMs) * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

func (o Options) limits() budget.Limits {
	return budget.Limits{
		DailyUSD:         o.DailyBudgetUSD,
		MonthlyUSD:       o.MonthlyBudgetUSD,
		CallerDailyUSD:   o.CallerDailyBudgetUSD,
		CallerMonthlyUSD: o.CallerMonthlyBudgetUSD,
	}
}
