package configuration

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/avandelay-labs/refinery/internal/domain"
)

// fileConfig is the YAML schema. Durations are explicit millisecond or
// second integers and money is decimal strings, so a config file never
// depends on Go-specific encodings.
type fileConfig struct {
	HTTPTimeoutSecs int `yaml:"http_timeout_secs"`
	CallTimeoutSecs int `yaml:"call_timeout_secs"`

	Providers map[string]struct {
		Endpoint  string            `yaml:"endpoint"`
		APIKeyEnv string            `yaml:"api_key_env"`
		Headers   map[string]string `yaml:"headers"`
	} `yaml:"providers"`

	Endpoints []struct {
		Name                      string   `yaml:"name"`
		Provider                  string   `yaml:"provider"`
		Model                     string   `yaml:"model"`
		Tier                      string   `yaml:"tier"`
		Capabilities              []string `yaml:"capabilities"`
		RequiresExtendedReasoning bool     `yaml:"requires_extended_reasoning"`
		InputPer1K                string   `yaml:"input_per_1k"`
		OutputPer1K               string   `yaml:"output_per_1k"`
	} `yaml:"endpoints"`

	Chains map[string][]string `yaml:"chains"`

	Breaker struct {
		FailureThreshold int `yaml:"failure_threshold"`
		ResetTimeoutSecs int `yaml:"reset_timeout_secs"`
	} `yaml:"breaker"`

	Budget struct {
		DailyCeiling string `yaml:"daily_ceiling"`
	} `yaml:"budget"`

	Retry struct {
		MaxAttempts     int  `yaml:"max_attempts"`
		InitialMillis   int  `yaml:"initial_millis"`
		MaxIntervalSecs int  `yaml:"max_interval_secs"`
		Multiplier      float64 `yaml:"multiplier"`
		UseJitter       *bool `yaml:"use_jitter"`
	} `yaml:"retry"`

	RateLimit struct {
		Enabled           *bool   `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	Refinement struct {
		MaxIterations      int     `yaml:"max_iterations"`
		MinValidationScore float64 `yaml:"min_validation_score"`
		FeedbackLimit      int     `yaml:"feedback_limit"`
	} `yaml:"refinement"`

	ContractPaths []string `yaml:"contract_paths"`
}

// LoadFile reads a YAML configuration file over the defaults.
// API keys are resolved from the environment via api_key_env; missing keys
// are left empty and surface as provider auth failures at call time.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if fc.HTTPTimeoutSecs > 0 {
		cfg.HTTPTimeout = time.Duration(fc.HTTPTimeoutSecs) * time.Second
	}
	if fc.CallTimeoutSecs > 0 {
		cfg.CallTimeout = time.Duration(fc.CallTimeoutSecs) * time.Second
	}

	cfg.Providers = make(map[string]ProviderConfig, len(fc.Providers))
	for name, p := range fc.Providers {
		pc := ProviderConfig{
			Endpoint:  p.Endpoint,
			APIKeyEnv: p.APIKeyEnv,
			Headers:   p.Headers,
		}
		if p.APIKeyEnv != "" {
			pc.APIKey = os.Getenv(p.APIKeyEnv)
		}
		cfg.Providers[name] = pc
	}

	for _, e := range fc.Endpoints {
		rate, err := parseCostRate(e.InputPer1K, e.OutputPer1K)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", e.Name, err)
		}
		caps := make([]domain.CapabilityTag, 0, len(e.Capabilities))
		for _, c := range e.Capabilities {
			caps = append(caps, domain.CapabilityTag(c))
		}
		cfg.Endpoints = append(cfg.Endpoints, domain.ProviderEndpoint{
			Name:                      e.Name,
			Provider:                  e.Provider,
			Model:                     e.Model,
			Tier:                      e.Tier,
			Capabilities:              caps,
			RequiresExtendedReasoning: e.RequiresExtendedReasoning,
			CostRate:                  rate,
		})
	}

	if len(fc.Chains) > 0 {
		cfg.Chains = make(map[domain.CapabilityTag][]string, len(fc.Chains))
		for tag, names := range fc.Chains {
			cfg.Chains[domain.CapabilityTag(tag)] = names
		}
	}

	if fc.Breaker.FailureThreshold > 0 {
		cfg.Breaker.FailureThreshold = fc.Breaker.FailureThreshold
	}
	if fc.Breaker.ResetTimeoutSecs > 0 {
		cfg.Breaker.ResetTimeout = time.Duration(fc.Breaker.ResetTimeoutSecs) * time.Second
	}

	if fc.Budget.DailyCeiling != "" {
		ceiling, err := decimal.NewFromString(fc.Budget.DailyCeiling)
		if err != nil {
			return nil, fmt.Errorf("budget daily_ceiling: %w", err)
		}
		cfg.Budget.DailyCeiling = ceiling
	}

	if fc.Retry.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = fc.Retry.MaxAttempts
	}
	if fc.Retry.InitialMillis > 0 {
		cfg.Retry.InitialInterval = time.Duration(fc.Retry.InitialMillis) * time.Millisecond
	}
	if fc.Retry.MaxIntervalSecs > 0 {
		cfg.Retry.MaxInterval = time.Duration(fc.Retry.MaxIntervalSecs) * time.Second
	}
	if fc.Retry.Multiplier >= 1.0 {
		cfg.Retry.Multiplier = fc.Retry.Multiplier
	}
	if fc.Retry.UseJitter != nil {
		cfg.Retry.UseJitter = *fc.Retry.UseJitter
	}

	if fc.RateLimit.Enabled != nil {
		cfg.RateLimit.Enabled = *fc.RateLimit.Enabled
	}
	if fc.RateLimit.RequestsPerSecond > 0 {
		cfg.RateLimit.RequestsPerSecond = fc.RateLimit.RequestsPerSecond
	}
	if fc.RateLimit.Burst > 0 {
		cfg.RateLimit.Burst = fc.RateLimit.Burst
	}

	if fc.Refinement.MaxIterations > 0 {
		cfg.Refinement.MaxIterations = fc.Refinement.MaxIterations
	}
	if fc.Refinement.MinValidationScore > 0 {
		cfg.Refinement.MinValidationScore = fc.Refinement.MinValidationScore
	}
	if fc.Refinement.FeedbackLimit > 0 {
		cfg.Refinement.FeedbackLimit = fc.Refinement.FeedbackLimit
	}

	cfg.ContractPaths = fc.ContractPaths

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func parseCostRate(input, output string) (domain.CostRate, error) {
	var rate domain.CostRate
	var err error
	if input != "" {
		if rate.InputPer1K, err = decimal.NewFromString(input); err != nil {
			return rate, fmt.Errorf("input_per_1k: %w", err)
		}
	}
	if output != "" {
		if rate.OutputPer1K, err = decimal.NewFromString(output); err != nil {
			return rate, fmt.Errorf("output_per_1k: %w", err)
		}
	}
	return rate, nil
}
