// Package configuration holds the immutable process configuration.
// A Config is constructed once at startup (defaults, optionally overlaid
// from a YAML file) and threaded explicitly through constructors; nothing
// in the system reads ambient global state.
package configuration

import (
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avandelay-labs/refinery/internal/domain"
	"github.com/avandelay-labs/refinery/internal/llm/breaker"
	"github.com/avandelay-labs/refinery/internal/llm/budget"
	"github.com/avandelay-labs/refinery/internal/llm/ratelimit"
	"github.com/avandelay-labs/refinery/internal/llm/retry"
)

// ProviderConfig holds per-provider connection and authentication settings.
type ProviderConfig struct {
	// Endpoint overrides the provider's production API base URL.
	Endpoint string `json:"endpoint"`

	// APIKey authenticates requests. Sensitive, never serialized.
	APIKey string `json:"-"`

	// APIKeyEnv names the environment variable the loader reads APIKey from.
	APIKeyEnv string `json:"api_key_env"`

	// Headers are additional headers set on every request.
	Headers map[string]string `json:"headers,omitempty"`
}

// RefinementConfig bounds the generate/validate/refine loop.
type RefinementConfig struct {
	// MaxIterations is the hard cap on generate/validate cycles.
	MaxIterations int `json:"max_iterations"`

	// MinValidationScore is the passing threshold, 0 to 100.
	MinValidationScore float64 `json:"min_validation_score"`

	// FeedbackLimit caps the actionable findings fed to regeneration.
	FeedbackLimit int `json:"feedback_limit"`
}

// Config is the complete immutable configuration for the refinery.
type Config struct {
	// HTTPTimeout bounds the shared HTTP client; per-attempt timeouts are
	// tighter and set on each request.
	HTTPTimeout time.Duration `json:"http_timeout"`

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client `json:"-"`

	// CallTimeout is the default per-attempt timeout applied when a
	// request does not carry its own.
	CallTimeout time.Duration `json:"call_timeout"`

	// Providers configures each upstream service by name.
	Providers map[string]ProviderConfig `json:"providers"`

	// Endpoints are the configured provider endpoints, in chain order.
	Endpoints []domain.ProviderEndpoint `json:"endpoints"`

	// Chains optionally pins an explicit endpoint order per capability.
	Chains map[domain.CapabilityTag][]string `json:"chains,omitempty"`

	// Breaker configures every endpoint's circuit breaker.
	Breaker breaker.Config `json:"breaker"`

	// Budget configures the process-wide spend ledger.
	Budget budget.Config `json:"budget"`

	// Retry configures per-endpoint attempt retry.
	Retry retry.Config `json:"retry"`

	// RateLimit configures the local per-endpoint token buckets.
	RateLimit ratelimit.Config `json:"rate_limit"`

	// Refinement bounds refinement sessions.
	Refinement RefinementConfig `json:"refinement"`

	// ContractPaths lists YAML files the contract registry loads at start.
	ContractPaths []string `json:"contract_paths,omitempty"`
}

// Default tuning values.
const (
	DefaultHTTPTimeoutSeconds = 120
	DefaultCallTimeoutSeconds = 60

	DefaultFailureThreshold   = 5
	DefaultResetTimeoutSecs   = 30
	DefaultRetryMaxAttempts   = 3
	DefaultRetryInitialMillis = 200
	DefaultRetryMaxSeconds    = 10
	DefaultRetryMultiplier    = 2.0

	DefaultRateLimitPerSecond = 5.0
	DefaultRateLimitBurst     = 10

	DefaultMaxIterations   = 3
	DefaultMinScore        = 85.0
	DefaultFeedbackLimit   = 5
	defaultDailyCeilingUSD = 50
)

// DefaultConfig returns a Config with production defaults and no
// providers or endpoints; callers supply those.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout: DefaultHTTPTimeoutSeconds * time.Second,
		CallTimeout: DefaultCallTimeoutSeconds * time.Second,
		Breaker: breaker.Config{
			FailureThreshold: DefaultFailureThreshold,
			ResetTimeout:     DefaultResetTimeoutSecs * time.Second,
		},
		Budget: budget.Config{
			DailyCeiling: decimal.NewFromInt(defaultDailyCeilingUSD),
		},
		Retry: retry.Config{
			MaxAttempts:     DefaultRetryMaxAttempts,
			InitialInterval: DefaultRetryInitialMillis * time.Millisecond,
			MaxInterval:     DefaultRetryMaxSeconds * time.Second,
			Multiplier:      DefaultRetryMultiplier,
			UseJitter:       true,
		},
		RateLimit: ratelimit.Config{
			Enabled:           true,
			RequestsPerSecond: DefaultRateLimitPerSecond,
			Burst:             DefaultRateLimitBurst,
		},
		Refinement: RefinementConfig{
			MaxIterations:      DefaultMaxIterations,
			MinValidationScore: DefaultMinScore,
			FeedbackLimit:      DefaultFeedbackLimit,
		},
	}
}

// Validate checks the assembled configuration for fatal errors.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		if err := ep.Validate(); err != nil {
			return err
		}
		if _, ok := c.Providers[ep.Provider]; !ok {
			return fmt.Errorf("endpoint %q references unconfigured provider %q", ep.Name, ep.Provider)
		}
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive")
	}
	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker reset timeout must be positive")
	}
	if c.Budget.DailyCeiling.IsNegative() || c.Budget.DailyCeiling.IsZero() {
		return fmt.Errorf("budget daily ceiling must be positive")
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests per second and burst when enabled")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive")
	}
	if c.Refinement.MaxIterations <= 0 {
		return fmt.Errorf("refinement max iterations must be positive")
	}
	if c.Refinement.MinValidationScore < 0 || c.Refinement.MinValidationScore > 100 {
		return fmt.Errorf("refinement min validation score must be within [0,100]")
	}
	return nil
}
