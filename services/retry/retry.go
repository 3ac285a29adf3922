package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
)

// Policy retries an operation with exponential backoff
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first
	MaxAttempts int
	// BaseDelay is the wait before the second attempt
	BaseDelay time.Duration
	// MaxDelay caps every computed delay
	MaxDelay time.Duration
	// Multiplier is the exponential base
	Multiplier float64
	// Jitter adds a random fraction of the delay
	Jitter bool
	// JitterFraction bounds the jitter to ±fraction of the delay
	JitterFraction float64
	// RateLimitMultiplier stretches delays after a rate limited response
	RateLimitMultiplier float64

	// OnRetry is called before each sleep
	OnRetry func(attempt int, delay time.Duration, err error)

	// sleep and random are replaceable in tests
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

// DefaultPolicy returns the dispatcher-wide defaults
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		BaseDelay:           500 * time.Millisecond,
		MaxDelay:            10 * time.Second,
		Multiplier:          2,
		Jitter:              true,
		JitterFraction:      0.25,
		RateLimitMultiplier: 3,
	}
}

// FromProvider fills the zero fields of a provider's retry settings from defaults
func FromProvider(cfg providers.RetryConfig, defaults Policy) Policy {
	out := defaults
	if cfg.MaxAttempts > 0 {
		out.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		out.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		out.MaxDelay = cfg.MaxDelay
	}
	if cfg.Jitter != nil {
		out.Jitter = *cfg.Jitter
	}
	return out
}

// RetryExhaustedError wraps the last error after every attempt failed
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// Execute runs op until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. Non-retryable errors are returned unwrapped.
func (p Policy) Execute(ctx context.Context, op func(ctx context.Context) error, isRetryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt, lastErr)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", attempt, err, lastErr)
		}
	}

	return &RetryExhaustedError{Attempts: attempts, Last: lastErr}
}

// Delay returns the wait after the given failed attempt (1-based)
func (p Policy) Delay(attempt int, err error) time.Duration {
	delay := p.backoff(attempt)
	if p.Jitter {
		delay = p.jitter(delay)
	}

	if providers.KindOf(err) == providers.ErrorKindRateLimited {
		mult := p.RateLimitMultiplier
		if mult < 1 {
			mult = 1
		}
		delay = time.Duration(float64(delay) * mult)
		if hint := providers.RetryAfterOf(err); hint > delay {
			delay = hint
		}
		if ceiling := time.Duration(float64(p.MaxDelay) * mult); p.MaxDelay > 0 && delay > ceiling {
			delay = ceiling
		}
	}

	return delay
}

// backoff computes min(BaseDelay * Multiplier^(attempt-1), MaxDelay)
func (p Policy) backoff(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p Policy) jitter(d time.Duration) time.Duration {
	fraction := p.JitterFraction
	if fraction <= 0 {
		fraction = 0.25
	}
	random := p.random
	if random == nil {
		random = rand.Float64
	}
	// random() is in [0,1); map it to [-fraction, +fraction)
	offset := (random()*2 - 1) * fraction * float64(d)
	return d + time.Duration(offset)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
