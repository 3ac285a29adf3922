package providers

import (
	"context"
	"time"
)

// Provider represents a single hosted LLM backend
type Provider interface {
	// Name returns the provider name (e.g., "cerebras", "anthropic", "bedrock")
	Name() string

	// Config returns the static configuration the provider was built from
	Config() ProviderConfig

	// Complete executes exactly one completion request and normalizes the result
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}

// Kind identifies which adapter implementation serves a provider
type Kind string

const (
	KindOpenAI     Kind = "openai"
	KindOpenRouter Kind = "openrouter"
	KindCerebras   Kind = "cerebras"
	KindAnthropic  Kind = "anthropic"
	KindBedrock    Kind = "bedrock"
)

// CompletionRequest is the provider-neutral input to Complete
type CompletionRequest struct {
	// Prompt is the user message
	Prompt string `json:"prompt"`

	// SystemPrompt is optional
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float64 `json:"temperature"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens"`
}

// Completion is the normalized result of a provider call
type Completion struct {
	Text         string        `json:"text"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Latency      time.Duration `json:"latency"`
}

// BreakerConfig holds per-provider circuit breaker parameters.
// Zero values are replaced by dispatcher-wide defaults.
type BreakerConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold"`
	OpenTimeout       time.Duration `yaml:"open_timeout"`
	HalfOpenSuccesses int           `yaml:"half_open_success_threshold"`
}

// RetryConfig holds per-provider retry parameters.
// Zero values are replaced by dispatcher-wide defaults.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      *bool         `yaml:"jitter"`
}

// ProviderConfig holds static configuration for one provider.
// It is loaded once at startup and never mutated afterwards.
type ProviderConfig struct {
	// Name is the unique provider identifier used for routing
	Name string `yaml:"name"`

	// Kind selects the adapter
	Kind Kind `yaml:"kind"`

	// Model is the model identifier sent to the backend
	Model string `yaml:"model"`

	// BaseURL for the API (optional override)
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the credential
	APIKeyEnv string `yaml:"api_key_env"`

	// APIKey is resolved from APIKeyEnv at load time
	APIKey string `yaml:"-"`

	// Region is used by Bedrock
	Region string `yaml:"region"`

	// InputCostPerToken and OutputCostPerToken are USD per token
	InputCostPerToken  float64 `yaml:"input_cost_per_token"`
	OutputCostPerToken float64 `yaml:"output_cost_per_token"`

	// Timeout bounds every call to this provider
	Timeout time.Duration `yaml:"timeout"`

	// TypicalLatency is the declared expected latency, used by max_latency_ms filtering
	TypicalLatency time.Duration `yaml:"typical_latency"`

	// RequestsPerSecond enables a client-side throttle when > 0
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	Breaker BreakerConfig `yaml:"breaker"`
	Retry   RetryConfig   `yaml:"retry"`
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:        30 * time.Second,
		TypicalLatency: 2 * time.Second,
	}
}

// CostPerToken returns the blended per-token rate used to rank providers by cost
func (c ProviderConfig) CostPerToken() float64 {
	return c.InputCostPerToken + c.OutputCostPerToken
}

// Cost returns the USD cost of a call with the given token counts
func (c ProviderConfig) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*c.InputCostPerToken + float64(outputTokens)*c.OutputCostPerToken
}

// EstimateCost estimates the cost of a request before it is sent.
// Prompt tokens are approximated at four characters per token.
func (c ProviderConfig) EstimateCost(req *CompletionRequest) float64 {
	return c.Cost(EstimateTokens(req.SystemPrompt+req.Prompt), req.MaxTokens)
}

// EstimateTokens approximates the token count of a text
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
