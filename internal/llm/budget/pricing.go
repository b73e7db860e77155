package budget

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/avandelay-labs/refinery/internal/domain"
	"github.com/avandelay-labs/refinery/internal/llm/transport"
)

// charsPerToken is the rough prompt-size heuristic used only for
// pre-dispatch estimates; actual token counts come from the provider.
const charsPerToken = 4

// Estimate predicts a call's cost before dispatch from the prompt size and
// the completion budget. Deliberately pessimistic: it assumes the full
// MaxTokens completion so reservations err on the safe side.
func Estimate(ep *domain.ProviderEndpoint, req *transport.Request) decimal.Decimal {
	promptTokens := int64(len(req.Prompt)+len(req.SystemPrompt)) / charsPerToken
	return ep.CostRate.Cost(promptTokens, req.MaxTokens)
}

// NewPricingMiddleware attaches measured cost to every successful response
// using the endpoint's cost rate and the provider-reported usage. Adapters
// that already priced the response are left untouched.
func NewPricingMiddleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			resp, err := next.Handle(ctx, req)
			if err != nil || resp == nil {
				return resp, err
			}
			if resp.Cost.IsZero() && req.Endpoint != nil {
				resp.Cost = req.Endpoint.CostRate.Cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			}
			return resp, nil
		})
	}
}
