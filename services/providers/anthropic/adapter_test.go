package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ScientiaCapital/sales-agent-sub004/services/providers"
)

func testConfig(baseURL string) providers.ProviderConfig {
	return providers.ProviderConfig{
		Name:               "anthropic",
		Kind:               providers.KindAnthropic,
		Model:              "claude-3-5-haiku-latest",
		BaseURL:            baseURL,
		APIKey:             "test-key",
		InputCostPerToken:  0.0000008,
		OutputCostPerToken: 0.000004,
	}
}

func TestAdapter_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("Expected path ending in /v1/messages, got %s", r.URL.Path)
		}
		if key := r.Header.Get("X-Api-Key"); key != "test-key" {
			t.Errorf("X-Api-Key = %q, want test-key", key)
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]interface{}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("invalid request body: %v", err)
		}
		if req["max_tokens"] != float64(defaultMaxTokens) {
			t.Errorf("max_tokens = %v, want %d", req["max_tokens"], defaultMaxTokens)
		}
		if _, ok := req["system"]; !ok {
			t.Error("system prompt missing from request")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 15, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	adapter, err := NewAdapter(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}

	resp, err := adapter.Complete(context.Background(), &providers.CompletionRequest{
		Prompt:       "Say hello",
		SystemPrompt: "Be brief.",
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if resp.Text != "Hello there" {
		t.Errorf("Text = %q, want %q", resp.Text, "Hello there")
	}
	if resp.InputTokens != 15 || resp.OutputTokens != 4 {
		t.Errorf("tokens = (%d, %d), want (15, 4)", resp.InputTokens, resp.OutputTokens)
	}
}

func TestAdapter_Complete_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind providers.ErrorKind
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantKind: providers.ErrorKindRateLimited},
		{name: "overloaded", status: 529, wantKind: providers.ErrorKindUpstream},
		{name: "prompt too long", status: http.StatusBadRequest, wantKind: providers.ErrorKindInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"test_error","message":"scripted"}}`))
			}))
			defer server.Close()

			adapter, err := NewAdapter(testConfig(server.URL))
			if err != nil {
				t.Fatalf("NewAdapter() error = %v", err)
			}

			_, err = adapter.Complete(context.Background(), &providers.CompletionRequest{Prompt: "hi"})
			if kind := providers.KindOf(err); kind != tt.wantKind {
				t.Errorf("KindOf() = %q, want %q (err: %v)", kind, tt.wantKind, err)
			}
		})
	}
}

func TestNewAdapter_RequiresModel(t *testing.T) {
	cfg := testConfig("")
	cfg.Model = ""
	if _, err := NewAdapter(cfg); err == nil {
		t.Error("Expected error for missing model")
	}

	adapter, err := NewAdapter(testConfig(""))
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if adapter.Config().BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %s, want %s", adapter.Config().BaseURL, defaultBaseURL)
	}
}
