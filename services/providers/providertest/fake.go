// Package providertest provides a scriptable Provider for tests.
package providertest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
)

// Result is one scripted outcome of Complete
type Result struct {
	Completion *providers.Completion
	Err        error
	Delay      time.Duration
}

// Fake is a test implementation of the Provider interface.
// Scripted results are consumed in order; once exhausted, Default is used.
type Fake struct {
	config providers.ProviderConfig

	mu      sync.Mutex
	script  []Result
	Default Result

	calls atomic.Int64
}

// New creates a Fake that always succeeds with a small completion
func New(cfg providers.ProviderConfig) *Fake {
	return &Fake{
		config: cfg,
		Default: Result{
			Completion: &providers.Completion{
				Text:         "ok from " + cfg.Name,
				InputTokens:  10,
				OutputTokens: 20,
			},
		},
	}
}

// Failing creates a Fake whose every call fails with the given kind
func Failing(cfg providers.ProviderConfig, kind providers.ErrorKind) *Fake {
	f := New(cfg)
	f.Default = Result{Err: providers.NewProviderError(cfg.Name, kind, "scripted failure", nil)}
	return f
}

// Script appends results to be returned by subsequent calls
func (f *Fake) Script(results ...Result) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, results...)
	return f
}

// Calls returns how many times Complete was invoked
func (f *Fake) Calls() int {
	return int(f.calls.Load())
}

func (f *Fake) Name() string {
	return f.config.Name
}

func (f *Fake) Config() providers.ProviderConfig {
	return f.config
}

func (f *Fake) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.Completion, error) {
	f.calls.Add(1)

	f.mu.Lock()
	res := f.Default
	if len(f.script) > 0 {
		res = f.script[0]
		f.script = f.script[1:]
	}
	f.mu.Unlock()

	start := time.Now()
	if res.Delay > 0 {
		select {
		case <-time.After(res.Delay):
		case <-ctx.Done():
			return nil, providers.FromTransport(f.config.Name, ctx.Err())
		}
	}

	if res.Err != nil {
		return nil, res.Err
	}

	c := *res.Completion
	c.Latency = time.Since(start)
	return &c, nil
}
