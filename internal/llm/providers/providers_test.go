package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandelay-labs/refinery/internal/configuration"
	"github.com/avandelay-labs/refinery/internal/domain"
	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
	"github.com/avandelay-labs/refinery/internal/llm/transport"
)

func buildRequest(extended bool) *transport.Request {
	return &transport.Request{
		Operation: transport.OpGeneration,
		Endpoint: &domain.ProviderEndpoint{
			Name:                      "ep",
			Provider:                  ProviderOpenAI,
			Model:                     "gpt-test",
			RequiresExtendedReasoning: extended,
		},
		Prompt:       "hello",
		SystemPrompt: "be terse",
		MaxTokens:    256,
		Temperature:  0.2,
	}
}

func TestNewRouter(t *testing.T) {
	router, err := NewRouter(map[string]configuration.ProviderConfig{
		ProviderOpenAI:    {APIKey: "sk-1"},
		ProviderAnthropic: {APIKey: "sk-2"},
		ProviderGoogle:    {APIKey: "sk-3"},
	})
	require.NoError(t, err)

	for _, name := range []string{ProviderOpenAI, ProviderAnthropic, ProviderGoogle} {
		adapter, err := router.Pick(name)
		require.NoError(t, err)
		assert.Equal(t, name, adapter.Name())
	}

	_, err = router.Pick("mystery")
	assert.ErrorIs(t, err, llmerrors.ErrUnknownProvider)
}

func TestNewRouterRejectsUnknownProvider(t *testing.T) {
	_, err := NewRouter(map[string]configuration.ProviderConfig{"mystery": {}})
	assert.ErrorIs(t, err, llmerrors.ErrUnknownProvider)
}

func TestOpenAIBuild(t *testing.T) {
	adapter := NewOpenAIAdapter(configuration.ProviderConfig{APIKey: "sk-test"})

	httpReq, err := adapter.Build(context.Background(), buildRequest(false))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, httpReq.Method)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", httpReq.URL.String())
	assert.Equal(t, "Bearer sk-test", httpReq.Header.Get("Authorization"))

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "gpt-test", payload["model"])
	assert.NotContains(t, payload, "reasoning_effort")

	messages := payload["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
}

func TestOpenAIBuildExtendedReasoning(t *testing.T) {
	adapter := NewOpenAIAdapter(configuration.ProviderConfig{APIKey: "sk-test"})

	httpReq, err := adapter.Build(context.Background(), buildRequest(true))
	require.NoError(t, err)

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "high", payload["reasoning_effort"])
}

func TestOpenAIParseSuccess(t *testing.T) {
	body := `{
		"id": "chatcmpl-1",
		"choices": [{"message": {"content": "hi there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
	}`
	httpResp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"X-Request-Id": []string{"req-1"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}

	adapter := NewOpenAIAdapter(configuration.ProviderConfig{})
	resp, err := adapter.Parse(httpResp)
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, int64(12), resp.Usage.PromptTokens)
	assert.Equal(t, int64(16), resp.Usage.TotalTokens)
	assert.Equal(t, "req-1", resp.ProviderRequestID)
}

func TestOpenAIParseRateLimit(t *testing.T) {
	body := `{"error": {"message": "slow down", "type": "rate_limit_error", "code": "rate_limited"}}`
	httpResp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"12"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}

	adapter := NewOpenAIAdapter(configuration.ProviderConfig{})
	_, err := adapter.Parse(httpResp)
	require.Error(t, err)

	var provErr *llmerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, llmerrors.ErrorTypeRateLimit, provErr.Type)
	assert.Equal(t, "slow down", provErr.Message)
	assert.Equal(t, 12, provErr.RetryAfter)
}

func TestAnthropicBuildAndParse(t *testing.T) {
	adapter := NewAnthropicAdapter(configuration.ProviderConfig{APIKey: "sk-ant"})

	req := buildRequest(true)
	req.Endpoint.Provider = ProviderAnthropic
	httpReq, err := adapter.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", httpReq.Header.Get("x-api-key"))
	assert.NotEmpty(t, httpReq.Header.Get("anthropic-version"))

	rawBody, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rawBody, &payload))
	assert.Equal(t, "be terse", payload["system"])
	require.Contains(t, payload, "thinking")

	respBody := `{
		"id": "msg-1",
		"content": [
			{"type": "thinking", "thinking": "let me think"},
			{"type": "text", "text": "the answer"}
		],
		"usage": {"input_tokens": 20, "output_tokens": 6}
	}`
	resp, err := adapter.Parse(&http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(respBody)),
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Content, "thinking blocks are excluded")
	assert.Equal(t, int64(20), resp.Usage.PromptTokens)
	assert.Equal(t, int64(6), resp.Usage.CompletionTokens)
}

func TestAnthropicParseOverload(t *testing.T) {
	adapter := NewAnthropicAdapter(configuration.ProviderConfig{})
	body := `{"error": {"type": "overloaded_error", "message": "overloaded"}}`

	_, err := adapter.Parse(&http.Response{
		StatusCode: 529,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	})
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeOverload, llmerrors.Classify(err))
}

func TestGoogleBuildAndParse(t *testing.T) {
	adapter := NewGoogleAdapter(configuration.ProviderConfig{APIKey: "sk-goog"})

	req := buildRequest(false)
	req.Endpoint.Provider = ProviderGoogle
	req.Endpoint.Model = "gemini-test"
	httpReq, err := adapter.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "sk-goog", httpReq.Header.Get("x-goog-api-key"))
	assert.Contains(t, httpReq.URL.Path, "gemini-test")

	respBody := `{
		"candidates": [{"content": {"parts": [{"text": "generated"}]}}],
		"usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 3, "totalTokenCount": 12}
	}`
	resp, err := adapter.Parse(&http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(respBody)),
	})
	require.NoError(t, err)
	assert.Equal(t, "generated", resp.Content)
	assert.Equal(t, int64(12), resp.Usage.TotalTokens)
}

func TestClassifyErrorType(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errorCode  string
		want       llmerrors.ErrorType
	}{
		{"429", http.StatusTooManyRequests, "", llmerrors.ErrorTypeRateLimit},
		{"gateway timeout", http.StatusGatewayTimeout, "", llmerrors.ErrorTypeTimeout},
		{"503", http.StatusServiceUnavailable, "", llmerrors.ErrorTypeOverload},
		{"401", http.StatusUnauthorized, "", llmerrors.ErrorTypeConfig},
		{"code wins over status", http.StatusOK, "rate_limit_exceeded", llmerrors.ErrorTypeRateLimit},
		{"auth code", http.StatusBadRequest, "invalid_authentication", llmerrors.ErrorTypeConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyErrorType(tt.statusCode, tt.errorCode))
		})
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 30, parseRetryAfterSeconds(http.Header{"Retry-After": []string{"30"}}))
	assert.Zero(t, parseRetryAfterSeconds(http.Header{}))
	assert.Zero(t, parseRetryAfterSeconds(http.Header{"Retry-After": []string{"Wed, 21 Oct 2026 07:28:00 GMT"}}))
}

func TestAdapterAgainstLiveServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "from server"}}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	router, err := NewRouter(map[string]configuration.ProviderConfig{
		ProviderOpenAI: {Endpoint: server.URL, APIKey: "sk"},
	})
	require.NoError(t, err)

	handler := transport.NewHTTPHandler(server.Client(), router)
	req := buildRequest(false)
	req.Timeout = 5 * time.Second

	resp, err := handler.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "from server", resp.Content)
	assert.Equal(t, "ep", resp.Endpoint)
	assert.Equal(t, int64(2), resp.Usage.TotalTokens)

	_, err = handler.Handle(context.Background(), buildRequest(false))
	assert.ErrorIs(t, err, transport.ErrMissingTimeout)
}
