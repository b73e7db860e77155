// Package contract enforces output contracts on model responses: schema
// validation of parsed output, bounded correction retries with escalating
// hints, and strict or advisory handling of exhausted retries.
package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/avandelay-labs/refinery/internal/domain"
	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
)

// Compiled pairs a contract with its compiled schema. Compilation happens
// once at load; lookups are read-only afterwards.
type Compiled struct {
	Contract *domain.OutputContract
	Schema   *jsonschema.Schema
}

// Registry holds every known contract, keyed by name. Immutable after
// construction, safe for concurrent lookup.
type Registry struct {
	contracts map[string]*Compiled
}

// NewRegistry validates and compiles the given contracts.
func NewRegistry(contracts []domain.OutputContract) (*Registry, error) {
	r := &Registry{contracts: make(map[string]*Compiled, len(contracts))}
	for i := range contracts {
		c := &contracts[i]
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.contracts[c.Name]; dup {
			return nil, fmt.Errorf("duplicate contract %q", c.Name)
		}

		schema, err := compileSchema(c)
		if err != nil {
			return nil, fmt.Errorf("contract %q: %w", c.Name, err)
		}
		r.contracts[c.Name] = &Compiled{Contract: c, Schema: schema}
	}
	return r, nil
}

func compileSchema(c *domain.OutputContract) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := c.Name + ".schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(c.Schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Get returns the compiled contract, or a wrapped ErrContractNotFound.
// A missing contract is a configuration fault, never retried.
func (r *Registry) Get(name string) (*Compiled, error) {
	c, ok := r.contracts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", llmerrors.ErrContractNotFound, name)
	}
	return c, nil
}

// Names lists registered contract names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fileContract mirrors OutputContract for YAML decoding. Schemas are
// written as YAML mappings in contract files and re-encoded to JSON here.
type fileContract struct {
	Name                      string         `yaml:"name"`
	Version                   string         `yaml:"version"`
	Schema                    map[string]any `yaml:"schema"`
	Capability                string         `yaml:"capability"`
	Endpoint                  string         `yaml:"endpoint"`
	Temperature               *float64       `yaml:"temperature"`
	MaxTokens                 int64          `yaml:"max_tokens"`
	Format                    string         `yaml:"format"`
	MaxRetryAttempts          int            `yaml:"max_retry_attempts"`
	Mode                      string         `yaml:"mode"`
	RequiresExtendedReasoning bool           `yaml:"requires_extended_reasoning"`
}

type contractFile struct {
	Contracts []fileContract `yaml:"contracts"`
}

// LoadRegistry reads YAML contract files and builds the registry.
// Every file holds a `contracts:` list; all files share one namespace.
func LoadRegistry(paths []string) (*Registry, error) {
	var all []domain.OutputContract
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read contract file: %w", err)
		}

		var file contractFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse contract file %s: %w", path, err)
		}
		if len(file.Contracts) == 0 {
			return nil, fmt.Errorf("contract file %s defines no contracts", path)
		}

		for _, fc := range file.Contracts {
			schemaJSON, err := json.Marshal(fc.Schema)
			if err != nil {
				return nil, fmt.Errorf("contract %q in %s: encode schema: %w", fc.Name, path, err)
			}
			all = append(all, domain.OutputContract{
				Name:                      fc.Name,
				Version:                   fc.Version,
				Schema:                    schemaJSON,
				Capability:                domain.CapabilityTag(fc.Capability),
				Endpoint:                  fc.Endpoint,
				Temperature:               fc.Temperature,
				MaxTokens:                 fc.MaxTokens,
				Format:                    domain.SerializationFormat(fc.Format),
				MaxRetryAttempts:          fc.MaxRetryAttempts,
				Mode:                      domain.EnforcementMode(fc.Mode),
				RequiresExtendedReasoning: fc.RequiresExtendedReasoning,
			})
		}
	}
	return NewRegistry(all)
}
