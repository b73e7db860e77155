// Package retry provides per-endpoint bounded retry with exponential
// backoff and full jitter. It handles transient failures of a single
// endpoint; advancing to a different endpoint is the fallback chain's job.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
	"github.com/avandelay-labs/refinery/internal/llm/transport"
)

// Config controls retry behavior for one endpoint attempt sequence.
type Config struct {
	// MaxAttempts bounds attempts per endpoint, including the first.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// InitialInterval is the starting backoff duration.
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`

	// MaxInterval caps the backoff duration.
	MaxInterval time.Duration `json:"max_interval" yaml:"max_interval"`

	// Multiplier is the exponential growth factor.
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`

	// UseJitter enables full-jitter randomization of each backoff.
	UseJitter bool `json:"use_jitter" yaml:"use_jitter"`
}

// Validation errors.
var (
	errMaxAttemptsInvalid     = errors.New("max attempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initial interval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("max interval must be >= initial interval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")
)

// Validate checks the config for invalid combinations.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, c.MaxAttempts)
	}
	if c.InitialInterval <= 0 {
		return fmt.Errorf("%w, got %v", errInitialIntervalInvalid, c.InitialInterval)
	}
	if c.MaxInterval < c.InitialInterval {
		return fmt.Errorf("%w, max %v initial %v", errMaxIntervalInvalid, c.MaxInterval, c.InitialInterval)
	}
	if c.Multiplier < 1.0 {
		return fmt.Errorf("%w, got %f", errMultiplierInvalid, c.Multiplier)
	}
	return nil
}

// Backoff computes the wait before the next attempt. Provider Retry-After
// guidance takes precedence; otherwise exponential backoff with optional
// full jitter. Pure: safe to test without sleeping.
func (c Config) Backoff(attempt int, err error) time.Duration {
	if after := llmerrors.GetRetryAfter(err); after > 0 {
		return after
	}

	backoff := c.InitialInterval
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * c.Multiplier)
		if backoff >= c.MaxInterval {
			backoff = c.MaxInterval
			break
		}
	}

	if c.UseJitter && backoff > 0 {
		// Full jitter: uniform between 0 and the computed backoff.
		backoff = time.Duration(rand.Int64N(int64(backoff) + 1)) //nolint:gosec // non-cryptographic jitter
	}
	return backoff
}

// NewMiddleware wraps a handler with bounded, classified retry.
// Only transiently-failing attempts are repeated; terminal errors return
// immediately so budget and contract failures never burn extra calls.
func NewMiddleware(cfg Config) (transport.Middleware, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := slog.Default().With("component", "retry")

	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			maxAttempts := cfg.MaxAttempts
			if transport.IsSingleAttempt(ctx) {
				// Half-open breaker trials are exactly one call.
				maxAttempts = 1
			}

			var lastErr error
			for attempt := 1; attempt <= maxAttempts; attempt++ {
				if err := ctx.Err(); err != nil {
					return nil, fmt.Errorf("context done before attempt %d: %w", attempt, err)
				}

				resp, err := next.Handle(ctx, req)
				if err == nil {
					if attempt > 1 {
						logger.Info("request succeeded after retry",
							"attempt", attempt,
							"endpoint", req.Endpoint.Name)
					}
					return resp, nil
				}

				if !llmerrors.IsRetryable(err) {
					return nil, err
				}
				lastErr = err

				if attempt == maxAttempts {
					break
				}

				backoff := cfg.Backoff(attempt, err)
				logger.Debug("retrying after transient failure",
					"attempt", attempt,
					"endpoint", req.Endpoint.Name,
					"backoff", backoff,
					"error", err)

				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("context done during backoff: %w", ctx.Err())
				case <-time.After(backoff):
				}
			}
			return nil, lastErr
		})
	}, nil
}
