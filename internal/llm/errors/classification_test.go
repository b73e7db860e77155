package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestClassifyTypedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{
			name: "provider error keeps its own type",
			err:  &ProviderError{Endpoint: "ep", Type: ErrorTypeRateLimit, Message: "429"},
			want: ErrorTypeRateLimit,
		},
		{
			name: "wrapped provider error",
			err:  fmt.Errorf("dispatch: %w", &ProviderError{Type: ErrorTypeOverload}),
			want: ErrorTypeOverload,
		},
		{
			name: "circuit open",
			err:  &CircuitOpenError{Endpoint: "ep", State: "open"},
			want: ErrorTypeCircuitOpen,
		},
		{
			name: "budget exceeded",
			err:  &BudgetExceededError{Requested: decimal.NewFromInt(1)},
			want: ErrorTypeBudget,
		},
		{
			name: "providers exhausted",
			err:  &ProvidersExhaustedError{Capability: "fast"},
			want: ErrorTypeExhausted,
		},
		{
			name: "contract violation",
			err:  &ContractViolationError{Contract: "c", Attempts: 3},
			want: ErrorTypeContract,
		},
		{
			name: "contract not found is configuration",
			err:  fmt.Errorf("%w: %q", ErrContractNotFound, "missing"),
			want: ErrorTypeConfig,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: ErrorTypeTimeout,
		},
		{
			name: "nil",
			err:  nil,
			want: ErrorTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifyByPattern(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorType
	}{
		{"request timeout after 30s", ErrorTypeTimeout},
		{"rate limit exceeded for org", ErrorTypeRateLimit},
		{"server overloaded", ErrorTypeOverload},
		{"service unavailable", ErrorTypeOverload},
		{"connection refused", ErrorTypeTransport},
		{"unexpected EOF", ErrorTypeTransport},
		{"something else entirely", ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(errors.New(tt.msg)))
		})
	}
}

func TestRetryableAndBreakerSets(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		counts    bool
	}{
		{"timeout", &ProviderError{Type: ErrorTypeTimeout}, true, true},
		{"overload", &ProviderError{Type: ErrorTypeOverload}, true, true},
		{"rate limit", &ProviderError{Type: ErrorTypeRateLimit}, true, true},
		{"transport", &ProviderError{Type: ErrorTypeTransport}, true, true},
		{"circuit open advances the chain but measures nothing", &CircuitOpenError{}, true, false},
		{"budget is terminal", &BudgetExceededError{}, false, false},
		{"contract is terminal", &ContractViolationError{}, false, false},
		{"unknown is terminal", errors.New("???"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.counts, CountsAgainstBreaker(tt.err))
		})
	}
}

func TestGetRetryAfter(t *testing.T) {
	withGuidance := &ProviderError{Type: ErrorTypeRateLimit, RetryAfter: 7}
	assert.Equal(t, 7*time.Second, GetRetryAfter(withGuidance))
	assert.Equal(t, 7*time.Second, GetRetryAfter(fmt.Errorf("wrapped: %w", withGuidance)))
	assert.Zero(t, GetRetryAfter(errors.New("plain")))
}

func TestContractViolationDiagnostics(t *testing.T) {
	err := &ContractViolationError{
		Contract:   "findings",
		Violation:  "missing required field score",
		Attempts:   3,
		RawOutputs: []string{"first", "second", "third"},
	}

	assert.Equal(t, "third", err.LastRaw())
	assert.Contains(t, err.Error(), "findings")
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Contains(t, err.Error(), "missing required field score")
}
