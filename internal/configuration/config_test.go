package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandelay-labs/refinery/internal/domain"
	"github.com/avandelay-labs/refinery/internal/llm/ratelimit"
)

func validTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Providers = map[string]ProviderConfig{"openai": {APIKey: "sk-test"}}
	cfg.Endpoints = []domain.ProviderEndpoint{{
		Name:         "primary",
		Provider:     "openai",
		Model:        "gpt-test",
		Capabilities: []domain.CapabilityTag{domain.CapabilityFast},
	}}
	return cfg
}

func TestDefaultConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultFailureThreshold, cfg.Breaker.FailureThreshold)
	assert.Equal(t, DefaultResetTimeoutSecs*time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, DefaultRetryMaxAttempts, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Retry.UseJitter)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, DefaultMaxIterations, cfg.Refinement.MaxIterations)
	assert.InDelta(t, DefaultMinScore, cfg.Refinement.MinValidationScore, 0.001)
	assert.True(t, cfg.Budget.DailyCeiling.IsPositive())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "no endpoints",
			mutate:  func(c *Config) { c.Endpoints = nil },
			wantErr: "at least one endpoint",
		},
		{
			name:    "endpoint without provider config",
			mutate:  func(c *Config) { c.Endpoints[0].Provider = "google" },
			wantErr: "unconfigured provider",
		},
		{
			name:    "endpoint missing model",
			mutate:  func(c *Config) { c.Endpoints[0].Model = "" },
			wantErr: "model is required",
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.Breaker.FailureThreshold = 0 },
			wantErr: "failure threshold",
		},
		{
			name:    "zero reset timeout",
			mutate:  func(c *Config) { c.Breaker.ResetTimeout = 0 },
			wantErr: "reset timeout",
		},
		{
			name:    "zero budget ceiling",
			mutate:  func(c *Config) { c.Budget.DailyCeiling = decimal.Zero },
			wantErr: "daily ceiling",
		},
		{
			name:    "zero call timeout",
			mutate:  func(c *Config) { c.CallTimeout = 0 },
			wantErr: "call timeout",
		},
		{
			name:    "zero max iterations",
			mutate:  func(c *Config) { c.Refinement.MaxIterations = 0 },
			wantErr: "max iterations",
		},
		{
			name:    "score above 100",
			mutate:  func(c *Config) { c.Refinement.MinValidationScore = 101 },
			wantErr: "min validation score",
		},
		{
			name:    "rate limit enabled without rate",
			mutate:  func(c *Config) { c.RateLimit = ratelimit.Config{Enabled: true} },
			wantErr: "rate limit",
		},
		{
			name:   "rate limit disabled skips bucket checks",
			mutate: func(c *Config) { c.RateLimit = ratelimit.Config{Enabled: false} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("REFINERY_TEST_OPENAI_KEY", "sk-from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "refinery.yaml")
	data := `call_timeout_secs: 45
providers:
  openai:
    api_key_env: REFINERY_TEST_OPENAI_KEY
  anthropic:
    endpoint: https://anthropic.example.test
    api_key_env: REFINERY_TEST_MISSING_KEY
endpoints:
  - name: fast-primary
    provider: openai
    model: gpt-test
    capabilities: [fast, structured]
    input_per_1k: "0.0015"
    output_per_1k: "0.006"
  - name: deep
    provider: anthropic
    model: claude-test
    capabilities: [deep-reasoning]
    requires_extended_reasoning: true
    input_per_1k: "0.003"
    output_per_1k: "0.015"
chains:
  fast: [fast-primary]
breaker:
  failure_threshold: 3
  reset_timeout_secs: 15
budget:
  daily_ceiling: "25.50"
retry:
  max_attempts: 2
  use_jitter: false
rate_limit:
  enabled: false
refinement:
  max_iterations: 4
  min_validation_score: 90
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.CallTimeout)
	assert.Equal(t, DefaultHTTPTimeoutSeconds*time.Second, cfg.HTTPTimeout, "unset values keep defaults")

	assert.Equal(t, "sk-from-env", cfg.Providers["openai"].APIKey)
	assert.Empty(t, cfg.Providers["anthropic"].APIKey, "missing env var leaves the key empty")
	assert.Equal(t, "https://anthropic.example.test", cfg.Providers["anthropic"].Endpoint)

	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, []domain.CapabilityTag{domain.CapabilityFast, domain.CapabilityStructured}, cfg.Endpoints[0].Capabilities)
	assert.True(t, cfg.Endpoints[0].CostRate.InputPer1K.Equal(decimal.RequireFromString("0.0015")))
	assert.True(t, cfg.Endpoints[1].RequiresExtendedReasoning)

	assert.Equal(t, []string{"fast-primary"}, cfg.Chains[domain.CapabilityFast])

	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 15*time.Second, cfg.Breaker.ResetTimeout)
	assert.True(t, cfg.Budget.DailyCeiling.Equal(decimal.RequireFromString("25.50")))
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.Retry.UseJitter)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 4, cfg.Refinement.MaxIterations)
	assert.InDelta(t, 90, cfg.Refinement.MinValidationScore, 0.001)
	assert.Equal(t, DefaultFeedbackLimit, cfg.Refinement.FeedbackLimit)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		data string
	}{
		{
			name: "not yaml",
			data: "{{{{",
		},
		{
			name: "bad cost rate",
			data: `providers:
  openai: {}
endpoints:
  - name: ep
    provider: openai
    model: m
    capabilities: [fast]
    input_per_1k: "not-a-number"
`,
		},
		{
			name: "bad ceiling",
			data: `providers:
  openai: {}
endpoints:
  - name: ep
    provider: openai
    model: m
    capabilities: [fast]
budget:
  daily_ceiling: "lots"
`,
		},
		{
			name: "fails validation",
			data: `providers: {}
endpoints: []
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0o600))
			_, err := LoadFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
