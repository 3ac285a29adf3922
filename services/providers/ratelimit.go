package providers

import (
	"context"

	"golang.org/x/time/rate"
)

// rateLimited throttles calls to a provider on the client side
type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps a provider with a token bucket limiter.
// The wait happens before the adapter starts its latency clock.
func WithRateLimit(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Complete waits for a token and delegates to the wrapped provider
func (r *rateLimited) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, NewProviderError(r.Name(), ErrorKindTimeout, "rate limiter wait aborted", err)
	}
	return r.Provider.Complete(ctx, req)
}
