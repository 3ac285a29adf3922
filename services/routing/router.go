package routing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/services/budget"
	"github.com/ScientiaCapital/sales-agent-sub004/services/circuitbreaker"
	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
	"github.com/ScientiaCapital/sales-agent-sub004/services/retry"
)

// Candidate is a provider together with its breaker and retry policy
type Candidate struct {
	Provider providers.Provider
	Breaker  *circuitbreaker.Breaker
	Retry    retry.Policy
}

// Name returns the provider name
func (c *Candidate) Name() string {
	return c.Provider.Name()
}

// Config returns the provider configuration
func (c *Candidate) Config() providers.ProviderConfig {
	return c.Provider.Config()
}

// Config holds configuration for the Router
type Config struct {
	// Strategy is used when a request does not name one
	Strategy Strategy

	// BalancedWeights maps provider names to traffic shares for the balanced strategy
	BalancedWeights map[string]float64

	// LatencyScores and QualityScores override the default score tables by provider name
	LatencyScores map[string]float64
	QualityScores map[string]float64
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Strategy: StrategyCostOptimized,
	}
}

// FailureHook observes every candidate failure in a cascade
type FailureHook func(provider string, err error)

// Option configures a Router
type Option func(*Router)

// WithRandom replaces the random source used by the balanced strategy
func WithRandom(fn func() float64) Option {
	return func(r *Router) {
		r.random = fn
	}
}

// WithFailureHook registers a callback for candidate failures
func WithFailureHook(fn FailureHook) Option {
	return func(r *Router) {
		r.onFailure = fn
	}
}

// Router orders candidates per strategy and runs the fallback cascade
type Router struct {
	config     Config
	candidates []*Candidate
	byName     map[string]*Candidate
	ledger     *budget.Ledger
	logger     *zap.Logger
	random     func() float64
	onFailure  FailureHook
}

// NewRouter creates a router over the given candidates. The ledger is optional.
func NewRouter(config Config, candidates []*Candidate, ledger *budget.Ledger, logger *zap.Logger, opts ...Option) (*Router, error) {
	if config.Strategy == "" {
		config.Strategy = StrategyCostOptimized
	}
	if !config.Strategy.Valid() {
		return nil, fmt.Errorf("unknown routing strategy %q", config.Strategy)
	}
	config.BalancedWeights = normalize(config.BalancedWeights)

	r := &Router{
		config: config,
		byName: make(map[string]*Candidate, len(candidates)),
		ledger: ledger,
		logger: logger,
		random: rand.Float64,
	}
	for _, c := range candidates {
		if c == nil || c.Provider == nil || c.Breaker == nil {
			return nil, errors.New("candidate requires a provider and a breaker")
		}
		if _, exists := r.byName[c.Name()]; exists {
			return nil, fmt.Errorf("duplicate candidate %s", c.Name())
		}
		r.byName[c.Name()] = c
		r.candidates = append(r.candidates, c)
	}
	for name := range config.BalancedWeights {
		if _, ok := r.byName[name]; !ok {
			return nil, fmt.Errorf("balanced weight references unknown provider %s", name)
		}
	}
	sort.Slice(r.candidates, func(i, j int) bool {
		return r.candidates[i].Name() < r.candidates[j].Name()
	})

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Strategy returns the default strategy
func (r *Router) Strategy() Strategy {
	return r.config.Strategy
}

// Candidates returns all candidates ordered by name
func (r *Router) Candidates() []*Candidate {
	return append([]*Candidate(nil), r.candidates...)
}

// Candidate returns the candidate with the given name
func (r *Router) Candidate(name string) (*Candidate, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Plan resolves the effective strategy and the ordered, constraint-filtered
// candidate list for a request. It does not consult the budget.
func (r *Router) Plan(req *Request) (Strategy, []*Candidate, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = r.config.Strategy
	}
	if !strategy.Valid() {
		return "", nil, fmt.Errorf("unknown routing strategy %q", strategy)
	}

	eligible, reason := r.filter(req)
	if len(eligible) == 0 {
		return strategy, nil, &NoEligibleProviderError{Strategy: strategy, Reason: reason}
	}
	return strategy, r.order(strategy, eligible), nil
}

func (r *Router) filter(req *Request) ([]*Candidate, string) {
	if len(r.candidates) == 0 {
		return nil, "no providers registered"
	}

	c := req.Constraints
	if c == nil || (c.MaxCostUSD <= 0 && c.MaxLatencyMs <= 0) {
		return r.candidates, ""
	}

	preq := completionRequest(req)
	maxLatency := time.Duration(c.MaxLatencyMs) * time.Millisecond

	var eligible []*Candidate
	var overCost, overLatency int
	for _, cand := range r.candidates {
		cfg := cand.Config()
		if c.MaxCostUSD > 0 && cfg.EstimateCost(preq) > c.MaxCostUSD {
			overCost++
			continue
		}
		if maxLatency > 0 && cfg.TypicalLatency > maxLatency {
			overLatency++
			continue
		}
		eligible = append(eligible, cand)
	}

	return eligible, fmt.Sprintf("%d over max_cost_usd %.6f, %d over max_latency_ms %d",
		overCost, c.MaxCostUSD, overLatency, c.MaxLatencyMs)
}

func completionRequest(req *Request) *providers.CompletionRequest {
	return &providers.CompletionRequest{
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	}
}

// Route gates the request on the budget, then tries candidates in order
// until one succeeds
func (r *Router) Route(ctx context.Context, req *Request) (*Response, error) {
	if r.ledger != nil {
		status := r.ledger.Check(req.CallerID)
		switch status.RecommendedAction {
		case budget.ActionBlock:
			r.logger.Warn("request blocked by budget",
				zap.String("caller_id", req.CallerID),
				zap.String("period", string(status.Period)),
				zap.Float64("utilization_percent", status.UtilizationPercent))
			return nil, &BudgetExceededError{Status: status}
		case budget.ActionDowngrade:
			if req.Strategy != StrategyCostOptimized {
				r.logger.Info("budget threshold reached, downgrading strategy",
					zap.String("caller_id", req.CallerID),
					zap.String("requested_strategy", string(req.Strategy)),
					zap.Float64("utilization_percent", status.UtilizationPercent))
			}
			downgraded := *req
			downgraded.Strategy = StrategyCostOptimized
			req = &downgraded
		}
	}

	strategy, candidates, err := r.Plan(req)
	if err != nil {
		return nil, err
	}

	if c := req.Constraints; c != nil && c.MaxLatencyMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.MaxLatencyMs)*time.Millisecond)
		defer cancel()
	}

	return r.cascade(ctx, req, strategy, candidates)
}

func (r *Router) cascade(ctx context.Context, req *Request, strategy Strategy, candidates []*Candidate) (*Response, error) {
	preq := completionRequest(req)

	var (
		errs      *multierror.Error
		lastErr   error
		attempted = make([]string, 0, len(candidates))
	)

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, r.exhausted(attempted, err, errs)
		}

		name := cand.Name()
		attempted = append(attempted, name)

		completion, err := r.try(ctx, cand, preq)
		if err == nil {
			cfg := cand.Config()
			resp := &Response{
				RequestID:    req.RequestID,
				Text:         completion.Text,
				Provider:     name,
				Model:        cfg.Model,
				Strategy:     strategy,
				InputTokens:  completion.InputTokens,
				OutputTokens: completion.OutputTokens,
				CostUSD:      cfg.Cost(completion.InputTokens, completion.OutputTokens),
				LatencyMs:    completion.Latency.Milliseconds(),
				FallbackUsed: len(attempted) > 1,
				Attempted:    attempted,
			}
			if resp.FallbackUsed {
				r.logger.Info("request served by fallback provider",
					zap.String("request_id", req.RequestID),
					zap.String("provider", name),
					zap.Strings("attempted", attempted))
			}
			return resp, nil
		}

		lastErr = err
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
		if r.onFailure != nil {
			r.onFailure(name, err)
		}

		switch {
		case circuitbreaker.IsCircuitOpen(err):
			r.logger.Debug("skipping provider with open circuit",
				zap.String("request_id", req.RequestID),
				zap.String("provider", name))
		case providers.KindOf(err) == providers.ErrorKindInvalidRequest:
			r.logger.Info("provider rejected request as invalid",
				zap.String("request_id", req.RequestID),
				zap.String("provider", name),
				zap.Error(err))
			return nil, err
		default:
			r.logger.Warn("provider failed, trying next candidate",
				zap.String("request_id", req.RequestID),
				zap.String("provider", name),
				zap.String("strategy", string(strategy)),
				zap.Error(err))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, r.exhausted(attempted, err, errs)
	}
	return nil, r.exhausted(attempted, lastErr, errs)
}

// try runs one candidate: breaker around retry around a bounded provider call
func (r *Router) try(ctx context.Context, cand *Candidate, preq *providers.CompletionRequest) (*providers.Completion, error) {
	var completion *providers.Completion
	timeout := cand.Config().Timeout

	err := cand.Breaker.Call(func() error {
		return cand.Retry.Execute(ctx, func(ctx context.Context) error {
			callCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			out, err := cand.Provider.Complete(callCtx, preq)
			if err != nil {
				return err
			}
			completion = out
			return nil
		}, providers.IsRetryable)
	})

	return completion, err
}

func (r *Router) exhausted(attempted []string, last error, errs *multierror.Error) error {
	return &AllProvidersFailedError{
		Attempted: attempted,
		Last:      last,
		Errors:    errs.ErrorOrNil(),
	}
}
