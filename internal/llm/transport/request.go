// Package transport defines the request/response types and the composable
// Handler/Middleware pipeline through which every external LLM call passes.
// No other package issues raw provider calls.
package transport

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avandelay-labs/refinery/internal/domain"
)

// OperationType labels what a call is for. It feeds rate limit keys,
// metrics labels, and event attribution.
type OperationType string

const (
	// OpGeneration produces a candidate artifact.
	OpGeneration OperationType = "generation"

	// OpValidation runs a validator against a candidate.
	OpValidation OperationType = "validation"

	// OpFeedback extracts refinement feedback from a report.
	OpFeedback OperationType = "feedback"
)

// Request is a normalized request against one resolved endpoint.
// The executor rewrites Endpoint as the fallback chain advances; everything
// else is fixed for the logical call.
type Request struct {
	// Operation affects rate limiting and event labels.
	Operation OperationType `json:"operation"`

	// Endpoint is the resolved target for this attempt.
	Endpoint *domain.ProviderEndpoint `json:"endpoint"`

	// Prompt is the user-turn content.
	Prompt string `json:"prompt"`

	// SystemPrompt carries instructions, including contract format directives.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Generation parameters.
	MaxTokens   int64   `json:"max_tokens"`
	Temperature float64 `json:"temperature"`

	// Timeout bounds this single attempt. Mandatory: the executor rejects
	// requests without one so no call can wait unbounded.
	Timeout time.Duration `json:"timeout"`

	// SessionID correlates the call with its refinement session, if any.
	SessionID string `json:"session_id,omitempty"`

	// TraceID correlates attempts of one logical call.
	TraceID string `json:"trace_id,omitempty"`

	// Metadata carries free-form routing hints (e.g. region).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a shallow copy safe for per-attempt endpoint rewriting.
func (r *Request) Clone() *Request {
	cp := *r
	return &cp
}

// Usage is normalized token and latency accounting for one call.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}

// Response is the normalized output of one provider call.
type Response struct {
	// Content is the raw generated text.
	Content string `json:"content"`

	// Usage tracks resource consumption for the call.
	Usage Usage `json:"usage"`

	// Cost is the measured cost of the call, set by the pricing middleware
	// from the endpoint's cost rate and actual usage.
	Cost decimal.Decimal `json:"cost"`

	// ProviderRequestID enables cross-system correlation.
	ProviderRequestID string `json:"provider_request_id,omitempty"`

	// Endpoint names the endpoint that served the call.
	Endpoint string `json:"endpoint"`

	// Headers preserves raw response headers for debugging.
	Headers http.Header `json:"-"`
}
