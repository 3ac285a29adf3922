package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultMaxTokens = 1024
)

// Adapter implements the Provider interface for the Anthropic Messages API
type Adapter struct {
	config  providers.ProviderConfig
	service anthropic.MessageService
}

// NewAdapter creates a new Anthropic adapter
func NewAdapter(config providers.ProviderConfig, extra ...option.RequestOption) (*Adapter, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("provider %s: model is required", config.Name)
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithBaseURL(config.BaseURL),
		option.WithMaxRetries(0),
	}
	opts = append(opts, extra...)

	return &Adapter{
		config:  config,
		service: anthropic.NewMessageService(opts...),
	}, nil
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return a.config.Name
}

// Config returns the provider configuration
func (a *Adapter) Config() providers.ProviderConfig {
	return a.config
}

// Complete sends a single message request
func (a *Adapter) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	start := time.Now()
	msg, err := a.service.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, a.classifyError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &providers.Completion{
		Text:         text.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		Latency:      latency,
	}, nil
}

func (a *Adapter) classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return providers.FromStatus(a.Name(), apiErr.StatusCode, header, "", err)
	}
	return providers.FromTransport(a.Name(), err)
}
