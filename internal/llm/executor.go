// Package llm composes the resilience layers into a single call executor:
// capability routing with ordered fallback, per-endpoint circuit breakers
// and retry, local rate limiting, and budget reservation around every
// dispatch. Callers describe a logical request; the executor decides which
// endpoint serves it and how failures are absorbed.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/avandelay-labs/refinery/internal/configuration"
	"github.com/avandelay-labs/refinery/internal/domain"
	"github.com/avandelay-labs/refinery/internal/llm/breaker"
	"github.com/avandelay-labs/refinery/internal/llm/budget"
	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
	"github.com/avandelay-labs/refinery/internal/llm/fallback"
	"github.com/avandelay-labs/refinery/internal/llm/providers"
	"github.com/avandelay-labs/refinery/internal/llm/ratelimit"
	"github.com/avandelay-labs/refinery/internal/llm/retry"
	"github.com/avandelay-labs/refinery/internal/llm/transport"
	"github.com/avandelay-labs/refinery/pkg/events"
)

// LogicalRequest describes one model call before endpoint resolution.
// The executor resolves it to a concrete endpoint via the fallback chain,
// or via PinnedEndpoint when set.
type LogicalRequest struct {
	Operation  transport.OperationType
	Capability domain.CapabilityTag

	// PinnedEndpoint bypasses capability routing. Pinned calls do not
	// fall back: if the pinned endpoint cannot serve, the call fails.
	PinnedEndpoint string

	// RequiresExtendedReasoning restricts candidates to endpoints that
	// expose an extended thinking mode.
	RequiresExtendedReasoning bool

	Prompt       string
	SystemPrompt string
	MaxTokens    int64
	Temperature  float64

	// SessionID correlates the call with its refinement session, if any.
	SessionID string
}

// Executor is the resilient call surface the rest of the system uses.
// One instance owns the breakers, the budget ledger, and the transport
// pipeline, and is safe for concurrent use.
type Executor struct {
	cfg      *configuration.Config
	selector *fallback.Selector
	breakers *breaker.Registry
	tracker  *budget.Tracker
	handler  transport.Handler
	sink     events.Sink
	logger   *slog.Logger
}

type options struct {
	handler transport.Handler
	sink    events.Sink
	logger  *slog.Logger
	clock   func() time.Time
}

// Option customizes executor construction.
type Option func(*options)

// WithHandler replaces the HTTP transport pipeline core, mainly for tests.
// Retry, rate limiting, pricing, and logging still wrap the handler.
func WithHandler(h transport.Handler) Option {
	return func(o *options) { o.handler = h }
}

// WithSink routes emitted events to the given sink.
func WithSink(s events.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock injects the budget tracker's clock, for rollover tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New builds an executor from validated configuration.
func New(cfg *configuration.Config, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{sink: events.NewNoOpSink()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "executor")
	}

	selector, err := fallback.NewSelector(cfg.Endpoints, cfg.Chains)
	if err != nil {
		return nil, fmt.Errorf("build fallback chains: %w", err)
	}

	e := &Executor{
		cfg:      cfg,
		selector: selector,
		sink:     o.sink,
		logger:   o.logger,
	}
	e.breakers = breaker.NewRegistry(cfg.Breaker, e.onBreakerTransition)

	var trackerOpts []budget.Option
	if o.clock != nil {
		trackerOpts = append(trackerOpts, budget.WithClock(o.clock))
	}
	e.tracker = budget.NewTracker(cfg.Budget, trackerOpts...)

	core := o.handler
	if core == nil {
		router, err := providers.NewRouter(cfg.Providers)
		if err != nil {
			return nil, fmt.Errorf("build provider router: %w", err)
		}
		client := cfg.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: cfg.HTTPTimeout}
		}
		core = transport.NewHTTPHandler(client, router)
	}

	retryMW, err := retry.NewMiddleware(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("build retry middleware: %w", err)
	}
	e.handler = transport.Chain(core,
		NewLoggingMiddleware(o.logger),
		retryMW,
		ratelimit.NewMiddleware(cfg.RateLimit),
		budget.NewPricingMiddleware(),
	)

	return e, nil
}

// Breakers exposes breaker state for availability views and manual resets.
func (e *Executor) Breakers() *breaker.Registry { return e.breakers }

// Budget exposes the spend ledger for reporting.
func (e *Executor) Budget() *budget.Tracker { return e.tracker }

// Execute resolves the logical request to an endpoint and dispatches it,
// walking the fallback chain as endpoints fail. Budget rejection is
// terminal: a call the ledger cannot afford on one endpoint is not retried
// on a cheaper one, because the estimate already assumed the configured
// chain head. Returns a ProvidersExhaustedError when every candidate was
// tried or skipped.
func (e *Executor) Execute(ctx context.Context, req *LogicalRequest) (*transport.Response, error) {
	candidates, err := e.candidates(req)
	if err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	exhausted := &llmerrors.ProvidersExhaustedError{Capability: string(req.Capability)}

	for _, ep := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("call canceled: %w", err)
		}

		probe, err := e.breakers.Allow(ep.Name)
		if err != nil {
			exhausted.Attempts = append(exhausted.Attempts, llmerrors.AttemptError{
				Endpoint: ep.Name,
				Type:     llmerrors.ErrorTypeCircuitOpen,
				Message:  err.Error(),
			})
			e.logger.DebugContext(ctx, "skipping endpoint, breaker open",
				"endpoint", ep.Name, "trace_id", traceID)
			continue
		}

		treq := e.buildRequest(req, ep, traceID)

		reservation, err := e.tracker.Reserve(budget.Estimate(ep, treq))
		if err != nil {
			if probe {
				e.breakers.ReleaseProbe(ep.Name)
			}
			e.emitBudgetRejected(ctx, req, ep, err)
			return nil, err
		}

		attemptCtx := ctx
		if probe {
			attemptCtx = transport.WithSingleAttempt(ctx)
		}

		start := time.Now()
		resp, err := e.handler.Handle(attemptCtx, treq)
		if err == nil {
			reservation.Commit(resp.Cost)
			e.breakers.RecordSuccess(ep.Name)
			e.emitCallOutcome(ctx, req, ep, resp, nil, time.Since(start))
			return resp, nil
		}

		reservation.Release()
		errType := llmerrors.Classify(err)
		if llmerrors.CountsAgainstBreaker(err) {
			e.breakers.RecordFailure(ep.Name)
		} else if probe {
			e.breakers.ReleaseProbe(ep.Name)
		}
		e.emitCallOutcome(ctx, req, ep, nil, err, time.Since(start))

		if ctx.Err() != nil {
			return nil, err
		}

		exhausted.Attempts = append(exhausted.Attempts, llmerrors.AttemptError{
			Endpoint: ep.Name,
			Type:     errType,
			Message:  err.Error(),
		})
		e.logger.WarnContext(ctx, "endpoint failed, advancing chain",
			"endpoint", ep.Name,
			"error_type", errType,
			"trace_id", traceID)
	}

	e.logger.ErrorContext(ctx, "all candidates exhausted",
		"capability", req.Capability,
		"attempts", len(exhausted.Attempts),
		"trace_id", traceID)
	return nil, exhausted
}

func (e *Executor) candidates(req *LogicalRequest) ([]*domain.ProviderEndpoint, error) {
	if req.PinnedEndpoint != "" {
		ep, err := e.selector.Endpoint(req.PinnedEndpoint)
		if err != nil {
			return nil, err
		}
		return []*domain.ProviderEndpoint{ep}, nil
	}
	return e.selector.Candidates(req.Capability, req.RequiresExtendedReasoning)
}

func (e *Executor) buildRequest(req *LogicalRequest, ep *domain.ProviderEndpoint, traceID string) *transport.Request {
	return &transport.Request{
		Operation:    req.Operation,
		Endpoint:     ep,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		Timeout:      e.cfg.CallTimeout,
		SessionID:    req.SessionID,
		TraceID:      traceID,
	}
}

func (e *Executor) onBreakerTransition(endpoint string, from, to breaker.State) {
	switch to {
	case breaker.StateOpen:
		env := events.New(events.KindBreakerTripped, "breaker", events.SeverityWarn)
		env.Endpoint = endpoint
		env.Detail = fmt.Sprintf("breaker %s -> %s", from, to)
		e.emit(context.Background(), env)
	case breaker.StateClosed:
		env := events.New(events.KindBreakerReset, "breaker", events.SeverityInfo)
		env.Endpoint = endpoint
		env.Detail = fmt.Sprintf("breaker %s -> %s", from, to)
		e.emit(context.Background(), env)
	case breaker.StateHalfOpen:
		// Trial transitions are logged by the registry, not emitted.
	}
}

func (e *Executor) emitBudgetRejected(ctx context.Context, req *LogicalRequest, ep *domain.ProviderEndpoint, err error) {
	env := events.New(events.KindBudgetRejected, "executor", events.SeverityError)
	env.SessionID = req.SessionID
	env.Endpoint = ep.Name
	env.Detail = err.Error()

	var be *llmerrors.BudgetExceededError
	if errors.As(err, &be) {
		cost := be.Requested
		env.Cost = &cost
	}
	e.emit(ctx, env)
}

func (e *Executor) emitCallOutcome(
	ctx context.Context,
	req *LogicalRequest,
	ep *domain.ProviderEndpoint,
	resp *transport.Response,
	callErr error,
	elapsed time.Duration,
) {
	kind, severity := events.KindCallSucceeded, events.SeverityInfo
	if callErr != nil {
		kind, severity = events.KindCallFailed, events.SeverityWarn
	}

	env := events.New(kind, "executor", severity)
	env.SessionID = req.SessionID
	env.Endpoint = ep.Name
	env.DurationMs = elapsed.Milliseconds()
	if resp != nil {
		cost := resp.Cost
		env.Cost = &cost
	}
	if callErr != nil {
		env.ErrorKind = string(llmerrors.Classify(callErr))
		env.Detail = callErr.Error()
	}
	e.emit(ctx, env)
}

// emit appends with best effort. Sink failures are logged, never surfaced.
func (e *Executor) emit(ctx context.Context, env events.Envelope) {
	if err := e.sink.Append(ctx, env); err != nil {
		e.logger.DebugContext(ctx, "event sink append failed",
			"kind", env.Kind, "error", err)
	}
}
