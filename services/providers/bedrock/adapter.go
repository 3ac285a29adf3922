package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
)

const (
	defaultRegion    = "us-east-1"
	defaultMaxTokens = 1024
	anthropicVersion = "bedrock-2023-05-31"
)

// Invoker is the subset of the Bedrock runtime client used by the adapter
type Invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Adapter implements the Provider interface for Anthropic models hosted on AWS Bedrock
type Adapter struct {
	config providers.ProviderConfig
	client Invoker
}

// Credentials are optional static AWS credentials; when empty the default chain is used
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// NewAdapter loads AWS configuration and creates a Bedrock adapter
func NewAdapter(ctx context.Context, cfg providers.ProviderConfig, creds Credentials) (*Adapter, error) {
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		// Retries are owned by the dispatcher's retry policy
		config.WithRetryMaxAttempts(1),
	}
	if creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for bedrock (region: %s): %w", cfg.Region, err)
	}

	return NewAdapterWithClient(cfg, bedrockruntime.NewFromConfig(awsCfg))
}

// NewAdapterWithClient creates a Bedrock adapter around an existing client
func NewAdapterWithClient(cfg providers.ProviderConfig, client Invoker) (*Adapter, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider %s: model is required", cfg.Name)
	}
	if !strings.Contains(cfg.Model, "anthropic.") {
		return nil, fmt.Errorf("provider %s: unsupported bedrock model family for %q", cfg.Name, cfg.Model)
	}
	return &Adapter{
		config: cfg,
		client: client,
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

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	System           string    `json:"system,omitempty"`
	Messages         []message `json:"messages"`
}

type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete invokes the model once
func (a *Adapter) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body, err := json.Marshal(invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		Temperature:      req.Temperature,
		System:           req.SystemPrompt,
		Messages:         []message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.ErrorKindInvalidRequest, "failed to marshal request", err)
	}

	start := time.Now()
	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.config.Model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	latency := time.Since(start)
	if err != nil {
		return nil, a.classifyError(err)
	}

	var resp invokeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, providers.NewProviderError(a.Name(), providers.ErrorKindUpstream, "failed to parse response", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &providers.Completion{
		Text:         text.String(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Latency:      latency,
	}, nil
}

// errorCodeKinds maps Bedrock exception codes to failure kinds. Codes take
// precedence over the HTTP status because Bedrock reports model-side
// timeouts and quota errors with generic statuses.
var errorCodeKinds = map[string]providers.ErrorKind{
	"ThrottlingException":           providers.ErrorKindRateLimited,
	"ServiceQuotaExceededException": providers.ErrorKindRateLimited,
	"ModelTimeoutException":         providers.ErrorKindTimeout,
	"ModelNotReadyException":        providers.ErrorKindUpstream,
	"ModelErrorException":           providers.ErrorKindUpstream,
	"InternalServerException":       providers.ErrorKindUpstream,
	"ServiceUnavailableException":   providers.ErrorKindUpstream,
	"ValidationException":           providers.ErrorKindInvalidRequest,
	"AccessDeniedException":         providers.ErrorKindInvalidRequest,
	"ResourceNotFoundException":     providers.ErrorKindInvalidRequest,
}

func (a *Adapter) classifyError(err error) error {
	var (
		status int
		header map[string][]string
	)
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
		if respErr.Response != nil && respErr.Response.Response != nil {
			header = respErr.Response.Header
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := errorCodeKinds[apiErr.ErrorCode()]; ok {
			provErr := providers.FromStatus(a.Name(), status, header, apiErr.ErrorMessage(), err)
			provErr.Kind = kind
			return provErr
		}
	}

	if respErr != nil {
		return providers.FromStatus(a.Name(), status, header, "", err)
	}
	return providers.FromTransport(a.Name(), err)
}
