// Package ratelimit applies a local token-bucket limit per endpoint so a
// burst of refinement sessions cannot exhaust a provider quota from inside
// this process. Waiting respects the request context, so the attempt
// timeout still bounds the whole call.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
	"github.com/avandelay-labs/refinery/internal/llm/transport"
)

// Config controls the per-endpoint token buckets.
type Config struct {
	// Enabled turns local rate limiting on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// RequestsPerSecond is the sustained refill rate per endpoint.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// Burst is the bucket capacity per endpoint.
	Burst int `json:"burst" yaml:"burst"`
}

type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      Config
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)
	s.limiters[key] = l
	return l
}

// NewMiddleware creates the rate limiting middleware. Each endpoint key
// gets an independent bucket; waiting is bounded by the request context.
// When limiting is disabled the middleware passes calls through untouched.
func NewMiddleware(cfg Config) transport.Middleware {
	if !cfg.Enabled {
		return func(next transport.Handler) transport.Handler { return next }
	}

	store := &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
	}

	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if err := store.get(req.Endpoint.Key()).Wait(ctx); err != nil {
				return nil, &llmerrors.ProviderError{
					Endpoint: req.Endpoint.Name,
					Provider: req.Endpoint.Provider,
					Message:  "local rate limit wait aborted: " + err.Error(),
					Type:     llmerrors.ErrorTypeTimeout,
				}
			}
			return next.Handle(ctx, req)
		})
	}
}
