package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
)

// Handler processes one provider call. It is the single choke point for
// external requests; resilience concerns compose around it as middleware.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware transforms a Handler into an enhanced Handler.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler.
// Middleware executes in the order provided, first middleware outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Router selects the provider adapter for a request.
// Implemented by the providers package.
type Router interface {
	Pick(provider string) (ProviderAdapter, error)
}

// ProviderAdapter abstracts provider-specific HTTP communication.
type ProviderAdapter interface {
	// Build constructs the provider-specific HTTP request.
	Build(ctx context.Context, req *Request) (*http.Request, error)

	// Parse extracts a normalized Response, or a classified error for
	// provider-reported failures.
	Parse(httpResp *http.Response) (*Response, error)

	// Name returns the canonical provider identifier.
	Name() string
}

// ErrMissingTimeout rejects requests without a bounded timeout.
var ErrMissingTimeout = errors.New("request timeout is required")

// NewHTTPHandler creates the core handler that performs provider HTTP calls.
func NewHTTPHandler(client *http.Client, router Router) Handler {
	return &httpHandler{client: client, router: router}
}

type httpHandler struct {
	client *http.Client
	router Router
}

// Handle dispatches one HTTP call to the endpoint's provider with the
// request's timeout applied, and normalizes the outcome.
func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout <= 0 {
		return nil, ErrMissingTimeout
	}

	adapter, err := h.router.Pick(req.Endpoint.Provider)
	if err != nil {
		return nil, fmt.Errorf("select provider: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := adapter.Build(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return nil, &llmerrors.ProviderError{
			Endpoint: req.Endpoint.Name,
			Provider: req.Endpoint.Provider,
			Message:  err.Error(),
			Type:     llmerrors.Classify(err),
		}
	}
	defer func() { _ = httpResp.Body.Close() }()

	resp, err := adapter.Parse(httpResp)
	if err != nil {
		return nil, err
	}

	resp.Usage.LatencyMs = latency.Milliseconds()
	resp.Endpoint = req.Endpoint.Name
	return resp, nil
}
