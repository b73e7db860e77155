// Package domain defines the core value types shared across the refinery:
// provider endpoints, output contracts, validation findings and reports,
// and refinement session state. Types here are plain data with validation
// helpers; behavior lives in the packages that own each concern.
package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CapabilityTag declares a capability a provider endpoint offers.
// Logical requests name a required tag and the fallback chain only
// considers endpoints that carry it.
type CapabilityTag string

const (
	// CapabilityFast marks endpoints tuned for low-latency generation.
	CapabilityFast CapabilityTag = "fast"

	// CapabilityDeepReasoning marks endpoints suited to multi-step reasoning.
	CapabilityDeepReasoning CapabilityTag = "deep-reasoning"

	// CapabilityStructured marks endpoints reliable at schema-constrained output.
	CapabilityStructured CapabilityTag = "structured"
)

// tokensPerUnit is the token denominator for cost rates (rates are per 1K tokens).
const tokensPerUnit = 1000

// CostRate holds per-1K-token pricing for an endpoint.
// Decimal arithmetic avoids drift when many small call costs accumulate
// into the budget ledger.
type CostRate struct {
	// InputPer1K is the cost in USD per 1000 prompt tokens.
	InputPer1K decimal.Decimal `json:"input_per_1k" yaml:"input_per_1k"`

	// OutputPer1K is the cost in USD per 1000 completion tokens.
	OutputPer1K decimal.Decimal `json:"output_per_1k" yaml:"output_per_1k"`
}

// Cost computes the price of a call from its token counts.
func (r CostRate) Cost(promptTokens, completionTokens int64) decimal.Decimal {
	in := r.InputPer1K.Mul(decimal.NewFromInt(promptTokens)).Div(decimal.NewFromInt(tokensPerUnit))
	out := r.OutputPer1K.Mul(decimal.NewFromInt(completionTokens)).Div(decimal.NewFromInt(tokensPerUnit))
	return in.Add(out)
}

// ProviderEndpoint identifies one (provider, model, tier) triple.
// Endpoints are immutable configuration data: loaded once at process start
// and shared read-only between the fallback chain, breaker registry, and
// budget tracker.
type ProviderEndpoint struct {
	// Name is the unique endpoint identifier used for breaker keys,
	// chain ordering, and event attribution.
	Name string `json:"name" yaml:"name"`

	// Provider is the upstream service: "openai", "anthropic", "google".
	Provider string `json:"provider" yaml:"provider"`

	// Model is the exact model version requested from the provider.
	Model string `json:"model" yaml:"model"`

	// Tier distinguishes deployments of the same model (e.g. "standard", "batch").
	Tier string `json:"tier,omitempty" yaml:"tier,omitempty"`

	// Capabilities are the declared capability tags for routing.
	Capabilities []CapabilityTag `json:"capabilities" yaml:"capabilities"`

	// RequiresExtendedReasoning is resolved at configuration time; when set,
	// request construction injects the provider's extended-reasoning directive.
	RequiresExtendedReasoning bool `json:"requires_extended_reasoning,omitempty" yaml:"requires_extended_reasoning,omitempty"`

	// CostRate prices calls against this endpoint.
	CostRate CostRate `json:"cost_rate" yaml:"cost_rate"`
}

// Key returns the breaker/limiter key for this endpoint.
func (e *ProviderEndpoint) Key() string {
	if e.Tier != "" {
		return e.Provider + ":" + e.Model + ":" + e.Tier
	}
	return e.Provider + ":" + e.Model
}

// HasCapability reports whether the endpoint declares the given tag.
func (e *ProviderEndpoint) HasCapability(tag CapabilityTag) bool {
	for _, c := range e.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Validate checks the endpoint for configuration errors.
func (e *ProviderEndpoint) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if strings.TrimSpace(e.Provider) == "" {
		return fmt.Errorf("endpoint %q: provider is required", e.Name)
	}
	if strings.TrimSpace(e.Model) == "" {
		return fmt.Errorf("endpoint %q: model is required", e.Name)
	}
	if e.CostRate.InputPer1K.IsNegative() || e.CostRate.OutputPer1K.IsNegative() {
		return fmt.Errorf("endpoint %q: negative cost rate", e.Name)
	}
	return nil
}
