package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatcher"

// Request status label values
const (
	StatusSuccess  = "success"
	StatusFailure  = "failure"
	StatusCacheHit = "cache_hit"
	StatusRejected = "rejected"
)

// Metrics holds the dispatcher's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Requests          *prometheus.CounterVec
	Fallbacks         prometheus.Counter
	CostUSD           *prometheus.CounterVec
	Tokens            *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	BreakerState      *prometheus.GaugeVec
	BudgetUtilization *prometheus.GaugeVec
	Retries           *prometheus.CounterVec
}

// NewMetrics creates AND registers metrics. It panics if a collector has
// already been registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		// provider is "none" for requests that never reached a provider
		Requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "The count of dispatched requests by serving provider and outcome.",
		}, []string{"provider", "status"}),
		Fallbacks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "The count of requests served by a provider other than the first candidate.",
		}),
		CostUSD: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "The accumulated cost of successful requests in USD.",
		}, []string{"provider"}),
		Tokens: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "The number of tokens consumed, by direction (input or output).",
		}, []string{"provider", "direction"}),
		ProviderLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Latency of successful provider calls, in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
		}, []string{"provider"}),
		BreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per provider (0 closed, 0.5 half-open, 1 open).",
		}, []string{"provider"}),
		BudgetUtilization: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_utilization_percent",
			Help:      "Global budget utilization for the current period.",
		}, []string{"period"}),
		Retries: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "The number of retried provider attempts.",
		}, []string{"provider"}),
	}
}

// RecordSuccess records a request served by provider
func (m *Metrics) RecordSuccess(provider string, inputTokens, outputTokens int, costUSD, latencySeconds float64, fallback bool) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(provider, StatusSuccess).Inc()
	m.CostUSD.WithLabelValues(provider).Add(costUSD)
	m.Tokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	m.Tokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
	m.ProviderLatency.WithLabelValues(provider).Observe(latencySeconds)
	if fallback {
		m.Fallbacks.Inc()
	}
}

// RecordOutcome increments the request counter for a non-success outcome
func (m *Metrics) RecordOutcome(provider, status string) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "none"
	}
	m.Requests.WithLabelValues(provider, status).Inc()
}

// RecordRetry increments the retry counter for provider
func (m *Metrics) RecordRetry(provider string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(provider).Inc()
}

// SetBreakerState exports a breaker state as a gauge value
func (m *Metrics) SetBreakerState(provider string, value float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(provider).Set(value)
}

// SetBudgetUtilization exports the global utilization of a period
func (m *Metrics) SetBudgetUtilization(period string, percent float64) {
	if m == nil {
		return
	}
	m.BudgetUtilization.WithLabelValues(period).Set(percent)
}
