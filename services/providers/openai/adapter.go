package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
)

// Default endpoints for the OpenAI-compatible backends served by this adapter
const (
	defaultOpenAIURL     = "https://api.openai.com/v1"
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
	defaultCerebrasURL   = "https://api.cerebras.ai/v1"
)

// Adapter implements the Provider interface for OpenAI-compatible chat completion APIs
// (OpenAI, OpenRouter, Cerebras)
type Adapter struct {
	config  providers.ProviderConfig
	service openai.ChatCompletionService
}

// NewAdapter creates a new adapter for an OpenAI-compatible provider
func NewAdapter(config providers.ProviderConfig, extra ...option.RequestOption) (*Adapter, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("provider %s: model is required", config.Name)
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL(config.Kind)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithBaseURL(config.BaseURL),
		// Retries are owned by the dispatcher's retry policy
		option.WithMaxRetries(0),
	}
	opts = append(opts, extra...)

	return &Adapter{
		config:  config,
		service: openai.NewChatCompletionService(opts...),
	}, nil
}

// DefaultBaseURL returns the public endpoint for a provider kind
func DefaultBaseURL(kind providers.Kind) string {
	switch kind {
	case providers.KindOpenRouter:
		return defaultOpenRouterURL
	case providers.KindCerebras:
		return defaultCerebrasURL
	default:
		return defaultOpenAIURL
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return a.config.Name
}

// Config returns the provider configuration
func (a *Adapter) Config() providers.ProviderConfig {
	return a.config
}

// Complete performs a single chat completion request
func (a *Adapter) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.Completion, error) {
	params := a.buildParams(req)

	start := time.Now()
	resp, err := a.service.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, a.classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), providers.ErrorKindUpstream, "response contained no choices", nil)
	}

	return &providers.Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		Latency:      latency,
	}, nil
}

func (a *Adapter) buildParams(req *providers.CompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(a.config.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	return params
}

// classifyError converts SDK errors into provider errors
func (a *Adapter) classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return providers.FromStatus(a.Name(), apiErr.StatusCode, header, apiErr.Message, err)
	}
	return providers.FromTransport(a.Name(), err)
}
