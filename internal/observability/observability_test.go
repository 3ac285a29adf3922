package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "json info", level: "info", format: "json"},
		{name: "console debug", level: "DEBUG", format: "text"},
		{name: "empty format defaults to json", level: "warn", format: ""},
		{name: "unknown level", level: "verbose", format: "json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid log level")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestMetrics_RecordSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSuccess("cerebras", 10, 20, 0.002, 0.3, false)
	m.RecordSuccess("anthropic", 5, 5, 0.01, 1.2, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("cerebras", StatusSuccess)))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.Tokens.WithLabelValues("cerebras", "output")))
	assert.InDelta(t, 0.01, testutil.ToFloat64(m.CostUSD.WithLabelValues("anthropic")), 1e-12)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ProviderLatency))
}

func TestMetrics_OutcomesAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordOutcome("", StatusRejected)
	m.RecordRetry("openai")
	m.RecordRetry("openai")
	m.SetBreakerState("openai", 1)
	m.SetBudgetUtilization("daily", 42.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("none", StatusRejected)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Retries.WithLabelValues("openai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("openai")))
	assert.Equal(t, 42.5, testutil.ToFloat64(m.BudgetUtilization.WithLabelValues("daily")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSuccess("x", 1, 1, 1, 1, true)
		m.RecordOutcome("x", StatusFailure)
		m.RecordRetry("x")
		m.SetBreakerState("x", 0)
		m.SetBudgetUtilization("daily", 0)
	})
}
