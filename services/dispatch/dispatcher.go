// Package dispatch is the caller-facing entry point: it validates requests,
// answers from the response cache, routes through the provider cascade and
// charges the cost of every successful call to the budget ledger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ScientiaCapital/sales-agent-sub004/internal/observability"
	"github.com/ScientiaCapital/sales-agent-sub004/services/budget"
	"github.com/ScientiaCapital/sales-agent-sub004/services/circuitbreaker"
	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
	"github.com/ScientiaCapital/sales-agent-sub004/services/retry"
	"github.com/ScientiaCapital/sales-agent-sub004/services/routing"
	"github.com/ScientiaCapital/sales-agent-sub004/utils"
)

var (
	// ErrUnknownProvider is returned by admin operations naming an unregistered provider
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNoProviders is returned by New when the catalog is empty
	ErrNoProviders = errors.New("at least one provider is required")
)

// Cache stores responses by request key
type Cache interface {
	Get(ctx context.Context, key string) (*routing.Response, bool, error)
	Set(ctx context.Context, key string, resp *routing.Response, ttl time.Duration) error
}

// KeyFunc derives the cache key of a request
type KeyFunc func(req *routing.Request) string

// Deps are the collaborators of a Dispatcher. Everything except Providers is optional.
type Deps struct {
	Providers []providers.Provider
	Logger    *zap.Logger
	Metrics   *observability.Metrics

	// Cache and CacheKey enable response caching together with Options.CacheTTL
	Cache    Cache
	CacheKey KeyFunc

	// Recorder receives cost records for persistence, usually a *budget.Flusher
	Recorder budget.Recorder

	// LedgerOptions and RouterOptions are passed through, mostly for tests
	LedgerOptions []budget.Option
	RouterOptions []routing.Option
}

// Dispatcher routes requests across providers with resilience and budget control
type Dispatcher struct {
	opts     Options
	registry *providers.Registry
	breakers map[string]*circuitbreaker.Breaker
	router   *routing.Router
	ledger   *budget.Ledger
	cache    Cache
	cacheKey KeyFunc
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// New builds a dispatcher: one breaker and retry policy per provider, a
// ledger with the configured budgets, and a router over them.
func New(opts Options, deps Deps) (*Dispatcher, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatch options: %w", err)
	}
	if len(deps.Providers) == 0 {
		return nil, ErrNoProviders
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		opts:     opts,
		registry: providers.NewRegistry(),
		breakers: make(map[string]*circuitbreaker.Breaker, len(deps.Providers)),
		cache:    deps.Cache,
		cacheKey: deps.CacheKey,
		metrics:  deps.Metrics,
		logger:   logger,
	}

	ledgerOpts := append([]budget.Option(nil), deps.LedgerOptions...)
	if deps.Recorder != nil {
		ledgerOpts = append(ledgerOpts, budget.WithRecorder(deps.Recorder))
	}
	d.ledger = budget.NewLedger(opts.limits(), logger, ledgerOpts...)

	breakerDefaults := opts.breakerDefaults()
	retryDefaults := opts.retryDefaults()

	candidates := make([]*routing.Candidate, 0, len(deps.Providers))
	for _, p := range deps.Providers {
		if p == nil {
			return nil, errors.New("provider cannot be nil")
		}
		cfg := p.Config()
		provider := providers.WithRateLimit(p, cfg.RequestsPerSecond, cfg.Burst)
		if err := d.registry.Register(provider); err != nil {
			return nil, fmt.Errorf("register provider %s: %w", p.Name(), err)
		}

		breaker := circuitbreaker.New(p.Name(),
			circuitbreaker.FromProvider(cfg.Breaker, breakerDefaults),
			circuitbreaker.WithOnStateChange(d.onStateChange))
		d.breakers[p.Name()] = breaker
		d.metrics.SetBreakerState(p.Name(), breaker.State().GaugeValue())

		policy := retry.FromProvider(cfg.Retry, retryDefaults)
		policy.OnRetry = d.onRetry(p.Name())

		candidates = append(candidates, &routing.Candidate{
			Provider: provider,
			Breaker:  breaker,
			Retry:    policy,
		})
	}

	router, err := routing.NewRouter(routing.Config{
		Strategy:        opts.Strategy,
		BalancedWeights: opts.BalancedWeights,
	}, candidates, d.ledger, logger, deps.RouterOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	d.router = router

	logger.Info("dispatcher initialized",
		zap.String("strategy", string(router.Strategy())),
		zap.Strings("providers", d.registry.Names()),
		zap.Float64("daily_budget_usd", opts.DailyBudgetUSD),
		zap.Float64("monthly_budget_usd", opts.MonthlyBudgetUSD),
		zap.Bool("cache_enabled", d.cachingEnabled()))

	return d, nil
}

func (d *Dispatcher) cachingEnabled() bool {
	return d.cache != nil && d.cacheKey != nil && d.opts.CacheTTL > 0
}

func (d *Dispatcher) onStateChange(name string, from, to circuitbreaker.State) {
	d.metrics.SetBreakerState(name, to.GaugeValue())

	fields := []zap.Field{
		zap.String("provider", name),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	}
	if to == circuitbreaker.StateOpen {
		d.logger.Warn("circuit opened", fields...)
		return
	}
	d.logger.Info("circuit state changed", fields...)
}

func (d *Dispatcher) onRetry(name string) func(attempt int, delay time.Duration, err error) {
	return func(attempt int, delay time.Duration, err error) {
		d.metrics.RecordRetry(name)
		d.logger.Debug("retrying provider call",
			zap.String("provider", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
}

// Dispatch validates, routes and accounts for a single request
func (d *Dispatcher) Dispatch(ctx context.Context, req *routing.Request) (*routing.Response, error) {
	if req == nil {
		return nil, &utils.ValidationError{Message: "Validation failed", Fields: map[string]string{"request": "request is required"}}
	}
	r := *req
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	if err := utils.ValidateStruct(&r); err != nil {
		d.metrics.RecordOutcome("", observability.StatusRejected)
		return nil, err
	}

	start := time.Now()

	var key string
	if d.cachingEnabled() {
		key = d.cacheKey(&r)
		if resp := d.cached(ctx, key, &r, start); resp != nil {
			return resp, nil
		}
	}

	resp, err := d.router.Route(ctx, &r)
	if err != nil {
		d.recordFailure(&r, err, time.Since(start))
		return nil, err
	}

	if err := d.ledger.Record(ctx, budget.Entry{
		RequestID:    r.RequestID,
		CallerID:     r.CallerID,
		TaskType:     string(r.TaskType),
		Provider:     resp.Provider,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      resp.CostUSD,
		LatencyMs:    resp.LatencyMs,
		FallbackUsed: resp.FallbackUsed,
	}); err != nil {
		d.logger.Error("failed to record cost",
			zap.String("request_id", r.RequestID),
			zap.String("provider", resp.Provider),
			zap.Float64("cost_usd", resp.CostUSD),
			zap.Error(err))
	}

	d.metrics.RecordSuccess(resp.Provider, resp.InputTokens, resp.OutputTokens, resp.CostUSD,
		float64(resp.LatencyMs)/1000, resp.FallbackUsed)
	d.exportUtilization()

	if d.cachingEnabled() {
		if err := d.cache.Set(ctx, key, resp, d.opts.CacheTTL); err != nil {
			d.logger.Warn("failed to cache response",
				zap.String("request_id", r.RequestID),
				zap.Error(err))
		}
	}

	d.logger.Info("request dispatched",
		zap.String("request_id", r.RequestID),
		zap.String("caller_id", r.CallerID),
		zap.String("task_type", string(r.TaskType)),
		zap.String("provider", resp.Provider),
		zap.String("strategy", string(resp.Strategy)),
		zap.Bool("fallback_used", resp.FallbackUsed),
		zap.Float64("cost_usd", resp.CostUSD),
		zap.Int64("latency_ms", resp.LatencyMs),
		zap.Duration("total_duration", time.Since(start)))

	return resp, nil
}

// cached returns a cache hit as a free response, or nil. Cache errors never fail a request.
func (d *Dispatcher) cached(ctx context.Context, key string, req *routing.Request, start time.Time) *routing.Response {
	hit, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logger.Warn("cache lookup failed",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	hit.RequestID = req.RequestID
	hit.CacheHit = true
	hit.CostUSD = 0
	hit.FallbackUsed = false
	hit.Attempted = nil
	hit.LatencyMs = time.Since(start).Milliseconds()

	d.metrics.RecordOutcome(hit.Provider, observability.StatusCacheHit)
	d.logger.Debug("request served from cache",
		zap.String("request_id", req.RequestID),
		zap.String("provider", hit.Provider))
	return hit
}

func (d *Dispatcher) recordFailure(req *routing.Request, err error, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("request_id", req.RequestID),
		zap.String("caller_id", req.CallerID),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	}

	switch {
	case routing.IsBudgetExceeded(err), routing.IsNoEligibleProvider(err):
		d.metrics.RecordOutcome("", observability.StatusRejected)
		d.logger.Warn("request rejected", fields...)
	case providers.KindOf(err) == providers.ErrorKindInvalidRequest:
		var provErr *providers.ProviderError
		errors.As(err, &provErr)
		d.metrics.RecordOutcome(provErr.Provider, observability.StatusFailure)
		d.logger.Warn("request rejected by provider", fields...)
	default:
		d.metrics.RecordOutcome("", observability.StatusFailure)
		d.logger.Error("dispatch failed", fields...)
	}
}

func (d *Dispatcher) exportUtilization() {
	if d.metrics == nil {
		return
	}
	for _, period := range []budget.Period{budget.PeriodDaily, budget.PeriodMonthly} {
		status := d.ledger.Status(period, "")
		d.metrics.SetBudgetUtilization(string(period), status.UtilizationPercent)
	}
}

// Options returns the options the dispatcher was built with
func (d *Dispatcher) Options() Options {
	return d.opts
}

// Strategy returns the default routing strategy
func (d *Dispatcher) Strategy() routing.Strategy {
	return d.router.Strategy()
}

// Ledger returns the budget ledger
func (d *Dispatcher) Ledger() *budget.Ledger {
	return d.ledger
}

// Providers returns the configuration of every provider ordered by name
func (d *Dispatcher) Providers() []providers.ProviderConfig {
	all := d.registry.All()
	out := make([]providers.ProviderConfig, 0, len(all))
	for _, p := range all {
		out = append(out, p.Config())
	}
	return out
}

// Breakers returns a snapshot of every breaker ordered by provider name
func (d *Dispatcher) Breakers() []circuitbreaker.Snapshot {
	names := d.registry.Names()
	out := make([]circuitbreaker.Snapshot, 0, len(names))
	for _, name := range names {
		out = append(out, d.breakers[name].Snapshot())
	}
	return out
}

// Breaker returns the snapshot of one provider's breaker
func (d *Dispatcher) Breaker(name string) (circuitbreaker.Snapshot, error) {
	b, ok := d.breakers[name]
	if !ok {
		return circuitbreaker.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return b.Snapshot(), nil
}

// ResetBreaker forces a provider's breaker back to CLOSED
func (d *Dispatcher) ResetBreaker(name string) error {
	b, ok := d.breakers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	b.Reset()
	d.logger.Info("circuit breaker reset", zap.String("provider", name))
	return nil
}
