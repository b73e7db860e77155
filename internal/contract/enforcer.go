package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/avandelay-labs/refinery/internal/domain"
	"github.com/avandelay-labs/refinery/internal/llm"
	llmerrors "github.com/avandelay-labs/refinery/internal/llm/errors"
	"github.com/avandelay-labs/refinery/internal/llm/transport"
	"github.com/avandelay-labs/refinery/pkg/events"
)

// Caller dispatches one resilient logical call. Implemented by llm.Executor.
type Caller interface {
	Execute(ctx context.Context, req *llm.LogicalRequest) (*transport.Response, error)
}

// defaultTemperature applies when a contract does not pin one.
const defaultTemperature = 0.2

// Request describes one contract-enforced generation.
type Request struct {
	// Contract names the registry entry governing the output.
	Contract string

	// Prompt is the task prompt; format instructions are appended.
	Prompt string

	// SystemPrompt passes through to the provider unchanged.
	SystemPrompt string

	// Operation labels the call for events and logging.
	Operation transport.OperationType

	// SessionID correlates the call with a refinement session, if any.
	SessionID string
}

// Result is a contract-conforming output, or a raw advisory passthrough.
type Result struct {
	// Value is the decoded JSON value that passed the schema.
	// Nil when Violated is set.
	Value any

	// Raw is the extracted JSON text that passed the schema.
	Raw json.RawMessage

	// Content is the model's full final response.
	Content string

	// Attempts counts calls made, including the successful one.
	Attempts int

	// Cost sums the cost of every attempt.
	Cost decimal.Decimal

	// Violated marks an advisory passthrough: the contract was never
	// satisfied, Content carries the last raw response.
	Violated bool
}

// Enforcer wraps a caller with contract parsing, schema validation, and
// bounded correction retries.
type Enforcer struct {
	registry *Registry
	caller   Caller
	sink     events.Sink
	logger   *slog.Logger
}

// NewEnforcer builds an enforcer over the registry and caller.
// Sink and logger may be nil.
func NewEnforcer(registry *Registry, caller Caller, sink events.Sink, logger *slog.Logger) *Enforcer {
	if sink == nil {
		sink = events.NewNoOpSink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{
		registry: registry,
		caller:   caller,
		sink:     sink,
		logger:   logger.With("component", "contract"),
	}
}

// Generate runs one contract-enforced call. Parse and schema failures are
// retried with escalating correction hints up to the contract's bound;
// transport-level failures propagate immediately since the executor has
// already applied retry and fallback beneath this layer.
func (e *Enforcer) Generate(ctx context.Context, req *Request) (*Result, error) {
	compiled, err := e.registry.Get(req.Contract)
	if err != nil {
		return nil, err
	}
	c := compiled.Contract

	maxCalls := c.RetryAttempts() + 1
	totalCost := decimal.Zero
	var failures []Failure

	for attempt := 1; attempt <= maxCalls; attempt++ {
		resp, err := e.caller.Execute(ctx, e.buildCall(req, c, failures))
		if err != nil {
			return nil, err
		}
		totalCost = totalCost.Add(resp.Cost)

		raw, value, verr := decodeOutput(c.Format, resp.Content)
		if verr == nil {
			verr = validate(compiled.Schema, value)
		}
		if verr == nil {
			return &Result{
				Value:    value,
				Raw:      raw,
				Content:  resp.Content,
				Attempts: attempt,
				Cost:     totalCost,
			}, nil
		}

		failures = append(failures, Failure{Raw: resp.Content, Violation: verr.Error()})
		e.logger.WarnContext(ctx, "contract attempt failed",
			"contract", c.Name,
			"attempt", attempt,
			"max_calls", maxCalls,
			"violation", verr)

		if attempt < maxCalls {
			e.emitRetried(ctx, req, c.Name, attempt, verr)
		}
	}

	last := failures[len(failures)-1]
	rawOutputs := make([]string, len(failures))
	for i, f := range failures {
		rawOutputs[i] = f.Raw
	}

	if c.Mode == domain.EnforceAdvisory {
		e.emitViolated(ctx, req, c.Name, maxCalls, events.SeverityWarn, last.Violation)
		e.logger.WarnContext(ctx, "contract violated, advisory passthrough",
			"contract", c.Name,
			"attempts", maxCalls,
			"violation", last.Violation)
		return &Result{
			Content:  last.Raw,
			Attempts: maxCalls,
			Cost:     totalCost,
			Violated: true,
		}, nil
	}

	e.emitViolated(ctx, req, c.Name, maxCalls, events.SeverityError, last.Violation)
	return nil, &llmerrors.ContractViolationError{
		Contract:   c.Name,
		Violation:  last.Violation,
		Attempts:   maxCalls,
		RawOutputs: rawOutputs,
	}
}

func (e *Enforcer) buildCall(req *Request, c *domain.OutputContract, failures []Failure) *llm.LogicalRequest {
	temperature := defaultTemperature
	if c.Temperature != nil {
		temperature = *c.Temperature
	}
	return &llm.LogicalRequest{
		Operation:                 req.Operation,
		Capability:                c.Capability,
		PinnedEndpoint:            c.Endpoint,
		RequiresExtendedReasoning: c.RequiresExtendedReasoning,
		Prompt:                    BuildPrompt(req.Prompt, c, failures),
		SystemPrompt:              req.SystemPrompt,
		MaxTokens:                 c.MaxTokens,
		Temperature:               temperature,
		SessionID:                 req.SessionID,
	}
}

func (e *Enforcer) emitRetried(ctx context.Context, req *Request, contract string, attempt int, verr error) {
	env := events.New(events.KindContractRetried, "contract", events.SeverityWarn)
	env.SessionID = req.SessionID
	env.Detail = fmt.Sprintf("contract %q attempt %d: %s", contract, attempt, verr)
	e.emit(ctx, env)
}

func (e *Enforcer) emitViolated(ctx context.Context, req *Request, contract string, attempts int, sev events.Severity, violation string) {
	env := events.New(events.KindContractViolated, "contract", sev)
	env.SessionID = req.SessionID
	env.Detail = fmt.Sprintf("contract %q violated after %d attempts: %s", contract, attempts, violation)
	e.emit(ctx, env)
}

func (e *Enforcer) emit(ctx context.Context, env events.Envelope) {
	if err := e.sink.Append(ctx, env); err != nil {
		e.logger.DebugContext(ctx, "event sink append failed", "kind", env.Kind, "error", err)
	}
}
