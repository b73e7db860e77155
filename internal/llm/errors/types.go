// Package errors defines the failure taxonomy for external LLM calls and
// the helpers that classify arbitrary errors into it. The executor depends
// only on this classification, never on provider-specific error shapes.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrorType categorizes call failures for fallback and retry decisions.
// Retryable types advance the fallback chain; terminal types surface to
// the caller unmodified.
type ErrorType string

const (
	// ErrorTypeTimeout indicates the call exceeded its deadline (retryable via fallback).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeOverload indicates provider-reported overload or unavailability (retryable via fallback).
	ErrorTypeOverload ErrorType = "overload"

	// ErrorTypeRateLimit indicates a provider rate limit (retryable via fallback, counts against the breaker).
	ErrorTypeRateLimit ErrorType = "rate_limited"

	// ErrorTypeTransport indicates network or protocol failure (retryable via fallback).
	ErrorTypeTransport ErrorType = "transport"

	// ErrorTypeCircuitOpen indicates the endpoint's breaker rejected the call
	// before dispatch (the chain advances without a provider attempt).
	ErrorTypeCircuitOpen ErrorType = "circuit_open"

	// ErrorTypeBudget indicates the budget ceiling would be exceeded
	// (terminal, never falls back).
	ErrorTypeBudget ErrorType = "budget_exceeded"

	// ErrorTypeExhausted indicates every candidate endpoint failed
	// (terminal for the call, never for the process).
	ErrorTypeExhausted ErrorType = "providers_exhausted"

	// ErrorTypeContract indicates output never satisfied its contract
	// within the retry bound (terminal, carries diagnostics).
	ErrorTypeContract ErrorType = "contract_violation"

	// ErrorTypeConfig indicates a fatal configuration error such as an
	// unknown contract name (terminal, not retried).
	ErrorTypeConfig ErrorType = "configuration"

	// ErrorTypeUnknown is the conservative default for unclassified errors.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Sentinel errors shared across packages.
var (
	// ErrContractNotFound indicates a contract name missing from the registry.
	ErrContractNotFound = errors.New("output contract not found")

	// ErrUnknownProvider indicates an unconfigured provider name.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNoCandidates indicates a fallback chain with no endpoint carrying
	// the required capability.
	ErrNoCandidates = errors.New("no candidate endpoints for capability")
)

// ProviderError captures a classified failure from one provider call.
// Includes retry timing when the provider supplied it.
type ProviderError struct {
	Endpoint   string    `json:"endpoint"`    // Endpoint name that failed
	Provider   string    `json:"provider"`    // Provider name
	StatusCode int       `json:"status_code"` // HTTP status code, 0 if none
	Code       string    `json:"code"`        // Provider error code
	Message    string    `json:"message"`     // Error message
	Type       ErrorType `json:"type"`        // Classified error type
	RetryAfter int       `json:"retry_after"` // Retry-After in seconds, 0 if absent
}

// Error returns the formatted provider error.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// IsRetryable reports whether the fallback chain should advance past this error.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeOverload, ErrorTypeRateLimit, ErrorTypeTransport, ErrorTypeCircuitOpen:
		return true
	default:
		return false
	}
}

// GetRetryAfter returns the provider-specified wait before the next attempt.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// CircuitOpenError indicates the endpoint's breaker rejected the call.
type CircuitOpenError struct {
	Endpoint string `json:"endpoint"`
	State    string `json:"state"`    // "open" or "half-open"
	ResetAt  int64  `json:"reset_at"` // Unix time when a probe may be allowed
}

// Error returns the formatted breaker rejection.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s for %s", e.State, e.Endpoint)
}

// BudgetExceededError indicates reserving the estimated cost would breach
// the ceiling. Terminal: the call is rejected before dispatch and never
// falls back to another endpoint.
type BudgetExceededError struct {
	Requested decimal.Decimal `json:"requested"`
	Remaining decimal.Decimal `json:"remaining"`
	Ceiling   decimal.Decimal `json:"ceiling"`
}

// Error returns the formatted budget rejection.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: requested %s, remaining %s of %s ceiling",
		e.Requested.StringFixed(6), e.Remaining.StringFixed(6), e.Ceiling.StringFixed(6))
}

// AttemptError records one failed endpoint attempt inside an exhausted chain.
type AttemptError struct {
	Endpoint string    `json:"endpoint"`
	Type     ErrorType `json:"type"`
	Message  string    `json:"message"`
}

// ProvidersExhaustedError indicates every candidate endpoint in the chain
// failed or was unavailable. Fatal for the logical call, never for the process.
type ProvidersExhaustedError struct {
	Capability string         `json:"capability"`
	Attempts   []AttemptError `json:"attempts"`
}

// Error returns the formatted exhaustion error with per-endpoint context.
func (e *ProvidersExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Endpoint, a.Type))
	}
	return fmt.Sprintf("all providers exhausted for %q (%s)", e.Capability, strings.Join(parts, "; "))
}

// ContractViolationError indicates the model never produced output
// satisfying its contract within the retry bound. RawOutputs preserves
// every failing response for diagnostics, last attempt last.
type ContractViolationError struct {
	Contract   string   `json:"contract"`
	Violation  string   `json:"violation"` // Last specific violation
	Attempts   int      `json:"attempts"`
	RawOutputs []string `json:"raw_outputs"`
}

// Error returns the formatted violation with the last diagnostic.
func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("output contract %q violated after %d attempts: %s",
		e.Contract, e.Attempts, e.Violation)
}

// LastRaw returns the final failing raw response, empty when none was captured.
func (e *ContractViolationError) LastRaw() string {
	if len(e.RawOutputs) == 0 {
		return ""
	}
	return e.RawOutputs[len(e.RawOutputs)-1]
}
