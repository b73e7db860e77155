package transport

import "context"

type singleAttemptKey struct{}

// WithSingleAttempt marks the request context so retry layers make at most
// one attempt. Set when the call is a circuit breaker's half-open trial,
// which must be exactly one call regardless of retry policy.
func WithSingleAttempt(ctx context.Context) context.Context {
	return context.WithValue(ctx, singleAttemptKey{}, true)
}

// IsSingleAttempt reports whether the context carries the single-attempt mark.
func IsSingleAttempt(ctx context.Context) bool {
	v, _ := ctx.Value(singleAttemptKey{}).(bool)
	return v
}
