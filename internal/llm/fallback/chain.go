// Package fallback orders candidate endpoints for a logical request and
// advances past unavailable ones. Chain order is configuration, not a side
// effect of runtime state, so selection is deterministic and testable.
package fallback

import (
	"fmt"

	"github.com/avandelay-labs/refinery/internal/domain"
	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
)

// Selector resolves a required capability tag to its ordered candidate
// endpoints. Built once from configuration and shared read-only.
type Selector struct {
	byName map[string]*domain.ProviderEndpoint
	chains map[domain.CapabilityTag][]*domain.ProviderEndpoint
}

// NewSelector builds a selector from the configured endpoints and optional
// explicit per-capability chain orders. When a capability has no explicit
// chain, its candidates are the endpoints declaring that tag, in the order
// they were configured.
func NewSelector(
	endpoints []domain.ProviderEndpoint,
	chains map[domain.CapabilityTag][]string,
) (*Selector, error) {
	s := &Selector{
		byName: make(map[string]*domain.ProviderEndpoint, len(endpoints)),
		chains: make(map[domain.CapabilityTag][]*domain.ProviderEndpoint),
	}

	for i := range endpoints {
		ep := &endpoints[i]
		if err := ep.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byName[ep.Name]; dup {
			return nil, fmt.Errorf("duplicate endpoint name %q", ep.Name)
		}
		s.byName[ep.Name] = ep
	}

	// Explicit chains take precedence; every named endpoint must exist and
	// carry the chain's capability.
	for tag, names := range chains {
		ordered := make([]*domain.ProviderEndpoint, 0, len(names))
		for _, name := range names {
			ep, ok := s.byName[name]
			if !ok {
				return nil, fmt.Errorf("chain %q references unknown endpoint %q", tag, name)
			}
			if !ep.HasCapability(tag) {
				return nil, fmt.Errorf("chain %q endpoint %q does not declare capability %q", tag, ep.Name, tag)
			}
			ordered = append(ordered, ep)
		}
		s.chains[tag] = ordered
	}

	// Derive implicit chains from configuration order.
	for i := range endpoints {
		ep := &endpoints[i]
		for _, tag := range ep.Capabilities {
			if _, explicit := chains[tag]; explicit {
				continue
			}
			s.chains[tag] = append(s.chains[tag], s.byName[ep.Name])
		}
	}

	return s, nil
}

// Endpoint returns a configured endpoint by name, for contracts pinned to
// a single endpoint rather than a capability chain.
func (s *Selector) Endpoint(name string) (*domain.ProviderEndpoint, error) {
	ep, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: endpoint %q", llmerrors.ErrNoCandidates, name)
	}
	return ep, nil
}

// Candidates returns the ordered chain for a capability. When
// extendedReasoning is set, endpoints without the extended-reasoning flag
// are filtered out. The returned slice is shared; callers must not mutate it.
func (s *Selector) Candidates(
	capability domain.CapabilityTag,
	extendedReasoning bool,
) ([]*domain.ProviderEndpoint, error) {
	chain, ok := s.chains[capability]
	if !ok || len(chain) == 0 {
		return nil, fmt.Errorf("%w: %q", llmerrors.ErrNoCandidates, capability)
	}
	if !extendedReasoning {
		return chain, nil
	}

	filtered := make([]*domain.ProviderEndpoint, 0, len(chain))
	for _, ep := range chain {
		if ep.RequiresExtendedReasoning {
			filtered = append(filtered, ep)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("%w: %q (extended reasoning)", llmerrors.ErrNoCandidates, capability)
	}
	return filtered, nil
}

// First returns the first candidate the availability check accepts,
// preserving chain order. Returns a ProvidersExhaustedError naming every
// skipped endpoint when none is available.
func (s *Selector) First(
	capability domain.CapabilityTag,
	extendedReasoning bool,
	available func(*domain.ProviderEndpoint) bool,
) (*domain.ProviderEndpoint, error) {
	candidates, err := s.Candidates(capability, extendedReasoning)
	if err != nil {
		return nil, err
	}

	exhausted := &llmerrors.ProvidersExhaustedError{Capability: string(capability)}
	for _, ep := range candidates {
		if available == nil || available(ep) {
			return ep, nil
		}
		exhausted.Attempts = append(exhausted.Attempts, llmerrors.AttemptError{
			Endpoint: ep.Name,
			Type:     llmerrors.ErrorTypeCircuitOpen,
			Message:  "endpoint unavailable",
		})
	}
	return nil, exhausted
}
