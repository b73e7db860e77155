package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EnforcementMode controls what happens when output fails its contract.
type EnforcementMode string

const (
	// EnforceStrict rejects any non-conforming output after retries are spent.
	EnforceStrict EnforcementMode = "strict"

	// EnforceAdvisory logs the violation and passes the raw output through.
	EnforceAdvisory EnforcementMode = "advisory"
)

// SerializationFormat names the wire shape a contract expects back.
type SerializationFormat string

const (
	// FormatStructuredObject expects a single JSON object conforming to the schema.
	FormatStructuredObject SerializationFormat = "structured-object"

	// FormatStructuredText expects schema-described JSON embedded in prose,
	// extracted from the first balanced object in the response.
	FormatStructuredText SerializationFormat = "structured-text"
)

// defaultContractRetries bounds correction retries when a contract omits them.
const defaultContractRetries = 2

// OutputContract is a named, versioned schema requirement attached to a
// generation call. Contracts are immutable once loaded from the registry;
// the enforcer compiles Schema once and reuses it for every call.
type OutputContract struct {
	// Name is the registry lookup key.
	Name string `json:"name" yaml:"name"`

	// Version tracks schema evolution; informational, carried into events.
	Version string `json:"version" yaml:"version"`

	// Schema is the JSON Schema the parsed output must satisfy.
	Schema json.RawMessage `json:"schema" yaml:"schema"`

	// Capability selects which endpoints may serve this contract.
	Capability CapabilityTag `json:"capability,omitempty" yaml:"capability,omitempty"`

	// Endpoint, when set, pins the contract to a single named endpoint
	// instead of capability-based chain selection.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Temperature overrides the request temperature when non-nil.
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`

	// MaxTokens overrides the completion budget when positive.
	MaxTokens int64 `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// Format selects how the raw response is decoded before schema checks.
	Format SerializationFormat `json:"format" yaml:"format"`

	// MaxRetryAttempts bounds correction retries after a parse or schema
	// failure. Zero means defaultContractRetries.
	MaxRetryAttempts int `json:"max_retry_attempts" yaml:"max_retry_attempts"`

	// Mode is strict or advisory enforcement.
	Mode EnforcementMode `json:"mode" yaml:"mode"`

	// RequiresExtendedReasoning restricts the chain to endpoints that carry
	// the extended-reasoning flag.
	RequiresExtendedReasoning bool `json:"requires_extended_reasoning,omitempty" yaml:"requires_extended_reasoning,omitempty"`
}

// RetryAttempts returns the effective correction retry bound.
func (c *OutputContract) RetryAttempts() int {
	if c.MaxRetryAttempts <= 0 {
		return defaultContractRetries
	}
	return c.MaxRetryAttempts
}

// Validate checks the contract for configuration errors.
func (c *OutputContract) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("contract name is required")
	}
	if len(c.Schema) == 0 {
		return fmt.Errorf("contract %q: schema is required", c.Name)
	}
	switch c.Format {
	case FormatStructuredObject, FormatStructuredText:
	case "":
		return fmt.Errorf("contract %q: format is required", c.Name)
	default:
		return fmt.Errorf("contract %q: unknown format %q", c.Name, c.Format)
	}
	switch c.Mode {
	case EnforceStrict, EnforceAdvisory:
	case "":
		return fmt.Errorf("contract %q: enforcement mode is required", c.Name)
	default:
		return fmt.Errorf("contract %q: unknown enforcement mode %q", c.Name, c.Mode)
	}
	if c.MaxRetryAttempts < 0 {
		return fmt.Errorf("contract %q: negative max_retry_attempts", c.Name)
	}
	return nil
}
