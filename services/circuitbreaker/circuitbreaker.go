package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
)

// State is the breaker state as reported to callers and metrics
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// GaugeValue converts a state to a gauge value: closed=0, half-open=0.5, open=1
func (s State) GaugeValue() float64 {
	switch s {
	case StateOpen:
		return 1
	case StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}

// Config holds circuit breaker parameters for one provider
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// OpenTimeout is how long the circuit stays open before a probe is allowed
	OpenTimeout time.Duration
	// HalfOpenSuccesses is the number of successful probes needed to close again
	HalfOpenSuccesses int
}

// DefaultConfig returns the dispatcher-wide defaults
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		OpenTimeout:       60 * time.Second,
		HalfOpenSuccesses: 1,
	}
}

// FromProvider fills the zero fields of a provider's breaker settings from defaults
func FromProvider(cfg providers.BreakerConfig, defaults Config) Config {
	out := defaults
	if cfg.FailureThreshold > 0 {
		out.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.OpenTimeout > 0 {
		out.OpenTimeout = cfg.OpenTimeout
	}
	if cfg.HalfOpenSuccesses > 0 {
		out.HalfOpenSuccesses = cfg.HalfOpenSuccesses
	}
	return out
}

// Snapshot is a point-in-time view of a breaker
type Snapshot struct {
	Name                 string    `json:"name"`
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
}

// CircuitOpenError is returned when a call is rejected without being attempted
type CircuitOpenError struct {
	Name  string
	State State
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s", e.Name, e.State)
}

// IsCircuitOpen reports whether err is a fail-fast rejection
func IsCircuitOpen(err error) bool {
	var openErr *CircuitOpenError
	return errors.As(err, &openErr)
}

// StateChangeFunc is called after every transition
type StateChangeFunc func(name string, from, to State)

// Option configures a Breaker
type Option func(*Breaker)

// WithOnStateChange registers a transition callback
func WithOnStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// Breaker isolates one provider. The state machine itself is gobreaker's;
// Breaker adds reset, snapshots and error mapping.
type Breaker struct {
	name     string
	config   Config
	onChange StateChangeFunc

	mu          sync.RWMutex
	cb          *gobreaker.CircuitBreaker[struct{}]
	lastFailure time.Time
}

// New creates a breaker in the CLOSED state
func New(name string, config Config, opts ...Option) *Breaker {
	defaults := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = defaults.OpenTimeout
	}
	if config.HalfOpenSuccesses <= 0 {
		config.HalfOpenSuccesses = defaults.HalfOpenSuccesses
	}

	b := &Breaker{
		name:   name,
		config: config,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.cb = b.newCircuit()
	return b
}

func (b *Breaker) newCircuit() *gobreaker.CircuitBreaker[struct{}] {
	threshold := uint32(b.config.FailureThreshold)
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        b.name,
		MaxRequests: uint32(b.config.HalfOpenSuccesses),
		// Closed-state counts are only cleared by a transition
		Interval: 0,
		Timeout:  b.config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if b.onChange != nil {
				b.onChange(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
		IsExcluded: isExcluded,
	})
}

// isExcluded reports errors that count neither as a failure nor as a success.
// Malformed requests and caller cancellations say nothing about provider health,
// so they must not trip the circuit, break a failure streak or close a
// half-open circuit.
func isExcluded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return providers.KindOf(err) == providers.ErrorKindInvalidRequest
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// Config returns the effective configuration
func (b *Breaker) Config() Config {
	return b.config
}

// Call runs op if the circuit allows it. Errors from op are returned unchanged.
func (b *Breaker) Call(op func() error) error {
	b.mu.RLock()
	cb := b.cb
	b.mu.RUnlock()

	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, op()
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &CircuitOpenError{Name: b.name, State: fromGobreaker(cb.State())}
	}
	if err != nil && !isExcluded(err) {
		b.mu.Lock()
		if b.cb == cb {
			b.lastFailure = time.Now()
		}
		b.mu.Unlock()
	}
	return err
}

// State returns the current state, applying a pending OPEN to HALF_OPEN transition
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fromGobreaker(b.cb.State())
}

// Snapshot returns the current state and counters
func (b *Breaker) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	state := fromGobreaker(b.cb.State())
	counts := b.cb.Counts()
	return Snapshot{
		Name:                 b.name,
		State:                state,
		ConsecutiveFailures:  int(counts.ConsecutiveFailures),
		ConsecutiveSuccesses: int(counts.ConsecutiveSuccesses),
		LastFailure:          b.lastFailure,
	}
}

// Reset forces the breaker back to CLOSED with zeroed counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := fromGobreaker(b.cb.State())
	b.cb = b.newCircuit()
	b.lastFailure = time.Time{}
	b.mu.Unlock()

	if from != StateClosed && b.onChange != nil {
		b.onChange(b.name, from, StateClosed)
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
