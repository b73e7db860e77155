package llm

import (
	"context"
	"log/slog"
	"time"

	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
	"github.com/avandelay-labs/refinery/internal/llm/transport"
)

// NewLoggingMiddleware logs every attempt set with its outcome, latency,
// and classified error type. Prompts are never logged, only their sizes.
func NewLoggingMiddleware(logger *slog.Logger) transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			start := time.Now()
			logger.DebugContext(ctx, "dispatching request",
				"operation", req.Operation,
				"endpoint", req.Endpoint.Name,
				"provider", req.Endpoint.Provider,
				"prompt_chars", len(req.Prompt),
				"trace_id", req.TraceID)

			resp, err := next.Handle(ctx, req)
			elapsed := time.Since(start)

			if err != nil {
				logger.WarnContext(ctx, "request failed",
					"operation", req.Operation,
					"endpoint", req.Endpoint.Name,
					"error_type", llmerrors.Classify(err),
					"elapsed", elapsed,
					"trace_id", req.TraceID,
					"error", err)
				return nil, err
			}

			logger.InfoContext(ctx, "request completed",
				"operation", req.Operation,
				"endpoint", req.Endpoint.Name,
				"tokens", resp.Usage.TotalTokens,
				"cost", resp.Cost,
				"elapsed", elapsed,
				"trace_id", req.TraceID)
			return resp, nil
		})
	}
}
