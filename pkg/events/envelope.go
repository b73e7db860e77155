// Package events provides the structured event contract the refinery emits
// after every significant transition: call outcomes, breaker trips and
// resets, budget rejections, validation verdicts, and iteration boundaries.
// Emission is fire-and-forget; sink failures never affect the call path.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies the transition an event describes.
type Kind string

const (
	KindCallSucceeded    Kind = "call.succeeded"
	KindCallFailed       Kind = "call.failed"
	KindBreakerTripped   Kind = "breaker.tripped"
	KindBreakerReset     Kind = "breaker.reset"
	KindBudgetRejected   Kind = "budget.rejected"
	KindContractRetried  Kind = "contract.retried"
	KindContractViolated Kind = "contract.violated"
	KindValidationDone   Kind = "validation.completed"
	KindIterationStarted Kind = "iteration.started"
	KindIterationEnded   Kind = "iteration.ended"
	KindSessionEnded     Kind = "session.ended"
)

// Severity labels the operational weight of an event.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Envelope wraps one emitted event with consistent metadata.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Kind identifies the transition for routing and filtering.
	Kind Kind `json:"kind"`

	// Component names the emitter: "executor", "breaker", "refine", ...
	Component string `json:"component"`

	// Severity labels the operational weight.
	Severity Severity `json:"severity"`

	// SessionID correlates the event with a refinement session, if any.
	SessionID string `json:"session_id,omitempty"`

	// Endpoint names the provider endpoint involved, if any.
	Endpoint string `json:"endpoint,omitempty"`

	// Timestamp records when the event was emitted.
	Timestamp time.Time `json:"timestamp"`

	// Cost carries call or iteration cost when meaningful.
	Cost *decimal.Decimal `json:"cost,omitempty"`

	// DurationMs carries elapsed time when meaningful.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// Score carries a validation score when meaningful.
	Score *float64 `json:"score,omitempty"`

	// ErrorKind carries the classified error type on failure events.
	ErrorKind string `json:"error_kind,omitempty"`

	// Detail is a short human-readable description.
	Detail string `json:"detail,omitempty"`
}

// New creates an envelope with a fresh ID and wall-clock timestamp.
func New(kind Kind, component string, severity Severity) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		Component: component,
		Severity:  severity,
		Timestamp: time.Now(),
	}
}

// Sink receives emitted events with best-effort delivery. Implementations
// must return quickly and handle their own buffering; the core never blocks
// on emission and ignores sink errors.
type Sink interface {
	Append(ctx context.Context, envelope Envelope) error
}
