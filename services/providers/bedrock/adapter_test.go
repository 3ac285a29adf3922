package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
)

type fakeInvoker struct {
	lastInput *bedrockruntime.InvokeModelInput
	body      []byte
	err       error
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.lastInput = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func testConfig() providers.ProviderConfig {
	return providers.ProviderConfig{
		Name:               "bedrock",
		Kind:               providers.KindBedrock,
		Model:              "anthropic.claude-3-haiku-20240307-v1:0",
		Region:             "us-east-1",
		InputCostPerToken:  0.00000025,
		OutputCostPerToken: 0.00000125,
	}
}

func responseError(status int) error {
	return apiResponseError(status, errors.New("scripted"))
}

// apiResponseError wraps a service exception the way the SDK's deserializers do
func apiResponseError(status int, cause error) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status, Header: http.Header{}}},
			Err:      cause,
		},
		RequestID: "req-1",
	}
}

func TestAdapter_Complete(t *testing.T) {
	invoker := &fakeInvoker{
		body: []byte(`{"content":[{"type":"text","text":"Enriched."}],"usage":{"input_tokens":30,"output_tokens":3}}`),
	}

	adapter, err := NewAdapterWithClient(testConfig(), invoker)
	require.NoError(t, err)

	resp, err := adapter.Complete(context.Background(), &providers.CompletionRequest{
		Prompt:       "Enrich ACME",
		SystemPrompt: "You enrich leads.",
		Temperature:  0.3,
	})
	require.NoError(t, err)

	assert.Equal(t, "Enriched.", resp.Text)
	assert.Equal(t, 30, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)

	require.NotNil(t, invoker.lastInput)
	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", *invoker.lastInput.ModelId)
	assert.Equal(t, "application/json", *invoker.lastInput.ContentType)

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(invoker.lastInput.Body, &sent))
	assert.Equal(t, anthropicVersion, sent["anthropic_version"])
	assert.Equal(t, float64(defaultMaxTokens), sent["max_tokens"])
	assert.Equal(t, "You enrich leads.", sent["system"])
}

func TestAdapter_Complete_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind providers.ErrorKind
	}{
		{name: "throttled", err: responseError(http.StatusTooManyRequests), wantKind: providers.ErrorKindRateLimited},
		{name: "service unavailable", err: responseError(http.StatusServiceUnavailable), wantKind: providers.ErrorKindUpstream},
		{name: "validation", err: responseError(http.StatusBadRequest), wantKind: providers.ErrorKindInvalidRequest},
		{name: "deadline", err: context.DeadlineExceeded, wantKind: providers.ErrorKindTimeout},
		{name: "transport", err: errors.New("dial tcp: no such host"), wantKind: providers.ErrorKindConnection},
		{
			name:     "throttling exception",
			err:      apiResponseError(http.StatusTooManyRequests, &types.ThrottlingException{Message: aws.String("slow down")}),
			wantKind: providers.ErrorKindRateLimited,
		},
		{
			name:     "validation exception",
			err:      apiResponseError(http.StatusBadRequest, &types.ValidationException{Message: aws.String("bad max_tokens")}),
			wantKind: providers.ErrorKindInvalidRequest,
		},
		{
			name:     "model timeout reported as 408",
			err:      apiResponseError(http.StatusRequestTimeout, &types.ModelTimeoutException{Message: aws.String("model timed out")}),
			wantKind: providers.ErrorKindTimeout,
		},
		{
			name:     "quota code overrides client status",
			err:      apiResponseError(http.StatusBadRequest, &smithy.GenericAPIError{Code: "ServiceQuotaExceededException", Message: "quota"}),
			wantKind: providers.ErrorKindRateLimited,
		},
		{
			name:     "model not ready without response",
			err:      &smithy.GenericAPIError{Code: "ModelNotReadyException", Message: "warming up"},
			wantKind: providers.ErrorKindUpstream,
		},
		{
			name:     "unknown code falls back to status",
			err:      apiResponseError(http.StatusBadGateway, &smithy.GenericAPIError{Code: "SomethingNew"}),
			wantKind: providers.ErrorKindUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewAdapterWithClient(testConfig(), &fakeInvoker{err: tt.err})
			require.NoError(t, err)

			_, err = adapter.Complete(context.Background(), &providers.CompletionRequest{Prompt: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, providers.KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestAdapter_Complete_MalformedBody(t *testing.T) {
	adapter, err := NewAdapterWithClient(testConfig(), &fakeInvoker{body: []byte("not json")})
	require.NoError(t, err)

	_, err = adapter.Complete(context.Background(), &providers.CompletionRequest{Prompt: "hi"})
	assert.Equal(t, providers.ErrorKindUpstream, providers.KindOf(err))
}

func TestNewAdapterWithClient_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.Model = ""
	_, err := NewAdapterWithClient(cfg, &fakeInvoker{})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Model = "amazon.titan-text-express-v1"
	_, err = NewAdapterWithClient(cfg, &fakeInvoker{})
	assert.Error(t, err)
}
