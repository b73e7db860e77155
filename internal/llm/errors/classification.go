package errors

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Classify maps an arbitrary error to its ErrorType.
// Strongly-typed errors are examined first, then context and net errors,
// then string patterns as a last resort for untyped provider failures.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Type
	}

	var cbErr *CircuitOpenError
	if errors.As(err, &cbErr) {
		return ErrorTypeCircuitOpen
	}

	var budgetErr *BudgetExceededError
	if errors.As(err, &budgetErr) {
		return ErrorTypeBudget
	}

	var exhaustedErr *ProvidersExhaustedError
	if errors.As(err, &exhaustedErr) {
		return ErrorTypeExhausted
	}

	var contractErr *ContractViolationError
	if errors.As(err, &contractErr) {
		return ErrorTypeContract
	}

	if errors.Is(err, ErrContractNotFound) || errors.Is(err, ErrUnknownProvider) {
		return ErrorTypeConfig
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeTransport
	}

	return classifyByPattern(err)
}

// classifyByPattern is the string-matching fallback for untyped errors
// bubbled up from provider SDKs or raw HTTP plumbing.
func classifyByPattern(err error) ErrorType {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return ErrorTypeRateLimit
	case strings.Contains(msg, "overload"), strings.Contains(msg, "unavailable"), strings.Contains(msg, "capacity"):
		return ErrorTypeOverload
	case strings.Contains(msg, "connection"), strings.Contains(msg, "eof"), strings.Contains(msg, "broken pipe"):
		return ErrorTypeTransport
	default:
		return ErrorTypeUnknown
	}
}

// IsRetryable reports whether the fallback chain should advance past err.
// Budget, contract, and configuration errors are terminal by policy;
// unknown errors default to non-retryable to avoid retry loops.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ErrorTypeTimeout, ErrorTypeOverload, ErrorTypeRateLimit, ErrorTypeTransport, ErrorTypeCircuitOpen:
		return true
	default:
		return false
	}
}

// CountsAgainstBreaker reports whether err should increment the endpoint's
// failure counter. Breaker rejections do not: no call was attempted, so the
// endpoint's health was not re-measured.
func CountsAgainstBreaker(err error) bool {
	switch Classify(err) {
	case ErrorTypeTimeout, ErrorTypeOverload, ErrorTypeRateLimit, ErrorTypeTransport:
		return true
	default:
		return false
	}
}

// RetryAfterProvider is implemented by errors carrying provider-specified
// retry timing so backoff can respect server backpressure.
type RetryAfterProvider interface {
	GetRetryAfter() time.Duration
}

// GetRetryAfter extracts provider-specified retry timing from err,
// or zero when no guidance is available.
func GetRetryAfter(err error) time.Duration {
	var provider RetryAfterProvider
	if errors.As(err, &provider) {
		return provider.GetRetryAfter()
	}
	return 0
}
