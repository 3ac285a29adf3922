package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
)

var errUpstream = providers.NewProviderError("test", providers.ErrorKindUpstream, "boom", nil)

func failing() error { return errUpstream }

func succeeding() error { return nil }

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	t.Parallel()

	b := New("cerebras", Config{FailureThreshold: 3, OpenTimeout: time.Minute, HalfOpenSuccesses: 1})

	var calls atomic.Int32
	op := func() error {
		calls.Add(1)
		return errUpstream
	}

	for i := 0; i < 3; i++ {
		err := b.Call(op)
		assert.Same(t, errUpstream, err, "original error must be returned unchanged")
	}
	assert.Equal(t, StateOpen, b.State())

	start := time.Now()
	err := b.Call(op)
	elapsed := time.Since(start)

	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "cerebras", openErr.Name)
	assert.Equal(t, int32(3), calls.Load(), "operation must not run while open")
	assert.Less(t, elapsed, 10*time.Millisecond)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := New("anthropic", Config{FailureThreshold: 3, OpenTimeout: time.Minute})

	_ = b.Call(failing)
	_ = b.Call(failing)
	require.NoError(t, b.Call(succeeding))
	_ = b.Call(failing)
	_ = b.Call(failing)

	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 2, snap.ConsecutiveFailures)
	assert.False(t, snap.LastFailure.IsZero())
}

func TestBreaker_HalfOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		probes    []func() error
		wantState State
	}{
		{
			name:      "successful probes close the circuit",
			probes:    []func() error{succeeding, succeeding},
			wantState: StateClosed,
		},
		{
			name:      "failed probe reopens immediately",
			probes:    []func() error{failing},
			wantState: StateOpen,
		},
		{
			name:      "one success is not enough",
			probes:    []func() error{succeeding},
			wantState: StateHalfOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := New("bedrock", Config{FailureThreshold: 1, OpenTimeout: 20 * time.Millisecond, HalfOpenSuccesses: 2})
			_ = b.Call(failing)
			require.Equal(t, StateOpen, b.State())

			assert.True(t, IsCircuitOpen(b.Call(succeeding)), "call before timeout must fail fast")

			time.Sleep(30 * time.Millisecond)
			assert.Equal(t, StateHalfOpen, b.State())

			for _, probe := range tt.probes {
				_ = b.Call(probe)
			}
			assert.Equal(t, tt.wantState, b.State())
		})
	}
}

func TestBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	t.Parallel()

	b := New("openrouter", Config{FailureThreshold: 1, OpenTimeout: 10 * time.Millisecond, HalfOpenSuccesses: 1})
	_ = b.Call(failing)
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	var invoked atomic.Int32
	var rejected atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Call(func() error {
				invoked.Add(1)
				<-release
				return nil
			})
			if IsCircuitOpen(err) {
				rejected.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool {
		return invoked.Load() == 1 && rejected.Load() == 4
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), invoked.Load())
	assert.Equal(t, int32(4), rejected.Load())
	assert.Equal(t, StateClosed, b.State())
}

var errInvalid = providers.NewProviderError("openai", providers.ErrorKindInvalidRequest, "bad prompt", nil)

func invalid() error { return errInvalid }

// canceled is a caller disconnect as adapters report it
func canceled() error {
	return providers.FromTransport("openai", context.Canceled)
}

func TestBreaker_ExcludedErrorsInClosedState(t *testing.T) {
	t.Parallel()

	t.Run("never trip the circuit", func(t *testing.T) {
		t.Parallel()

		b := New("openai", Config{FailureThreshold: 2, OpenTimeout: time.Minute})
		for i := 0; i < 5; i++ {
			assert.Same(t, errInvalid, b.Call(invalid))
			assert.ErrorIs(t, b.Call(canceled), context.Canceled)
		}

		snap := b.Snapshot()
		assert.Equal(t, StateClosed, snap.State)
		assert.Zero(t, snap.ConsecutiveFailures)
		assert.True(t, snap.LastFailure.IsZero())
	})

	tests := []struct {
		name     string
		excluded func() error
	}{
		{name: "invalid request does not break a failure streak", excluded: invalid},
		{name: "cancellation does not break a failure streak", excluded: canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := New("openai", Config{FailureThreshold: 3, OpenTimeout: time.Minute})
			_ = b.Call(failing)
			_ = b.Call(failing)
			_ = b.Call(tt.excluded)
			assert.Equal(t, 2, b.Snapshot().ConsecutiveFailures)

			_ = b.Call(failing)
			assert.Equal(t, StateOpen, b.State())
		})
	}
}

func TestBreaker_ExcludedErrorsDoNotCloseHalfOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		excluded func() error
	}{
		{name: "canceled probe", excluded: canceled},
		{name: "bare context cancellation", excluded: func() error { return context.Canceled }},
		{name: "invalid request probe", excluded: invalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := New("bedrock", Config{FailureThreshold: 1, OpenTimeout: 20 * time.Millisecond, HalfOpenSuccesses: 1})
			_ = b.Call(failing)
			time.Sleep(30 * time.Millisecond)
			require.Equal(t, StateHalfOpen, b.State())

			_ = b.Call(tt.excluded)
			assert.Equal(t, StateHalfOpen, b.State())
			assert.Zero(t, b.Snapshot().ConsecutiveSuccesses)
		})
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	var transitions []string
	var mu sync.Mutex
	b := New("cerebras", Config{FailureThreshold: 1, OpenTimeout: time.Hour},
		WithOnStateChange(func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, string(from)+"->"+string(to))
		}))

	_ = b.Call(failing)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	b.Reset()

	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.True(t, snap.LastFailure.IsZero())
	require.NoError(t, b.Call(succeeding))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->CLOSED"}, transitions)
}

func TestNew_AppliesDefaults(t *testing.T) {
	t.Parallel()

	b := New("x", Config{})
	assert.Equal(t, DefaultConfig(), b.Config())
}

func TestFromProvider(t *testing.T) {
	t.Parallel()

	defaults := Config{FailureThreshold: 5, OpenTimeout: time.Minute, HalfOpenSuccesses: 1}

	got := FromProvider(providers.BreakerConfig{FailureThreshold: 3}, defaults)
	assert.Equal(t, Config{FailureThreshold: 3, OpenTimeout: time.Minute, HalfOpenSuccesses: 1}, got)

	got = FromProvider(providers.BreakerConfig{OpenTimeout: time.Second, HalfOpenSuccesses: 2}, defaults)
	assert.Equal(t, Config{FailureThreshold: 5, OpenTimeout: time.Second, HalfOpenSuccesses: 2}, got)
}

func TestState_GaugeValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, StateClosed.GaugeValue())
	assert.Equal(t, 0.5, StateHalfOpen.GaugeValue())
	assert.Equal(t, 1.0, StateOpen.GaugeValue())
}

func TestCircuitOpenError_NotAProviderError(t *testing.T) {
	t.Parallel()

	err := error(&CircuitOpenError{Name: "x", State: StateOpen})
	assert.False(t, providers.IsRetryable(err))
	assert.False(t, errors.Is(err, errUpstream))
	assert.Contains(t, err.Error(), "OPEN")
}
