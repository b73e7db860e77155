package events

import (
	"context"
	"log/slog"
	"sync"
)

// NoOpSink discards every event. Used when event emission is disabled.
type NoOpSink struct{}

// Append implements Sink with no-op behavior.
func (NoOpSink) Append(_ context.Context, _ Envelope) error { return nil }

// NewNoOpSink creates a sink that discards everything.
func NewNoOpSink() Sink { return NoOpSink{} }

// LogSink writes each event as one structured log record. This is the
// default sink: observability without any external dependency.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink backed by the given logger, or slog.Default
// when logger is nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

// Append implements Sink by logging the envelope.
func (s *LogSink) Append(_ context.Context, e Envelope) error {
	attrs := []any{
		"kind", string(e.Kind),
		"emitter", e.Component,
		"event_id", e.ID,
	}
	if e.SessionID != "" {
		attrs = append(attrs, "session_id", e.SessionID)
	}
	if e.Endpoint != "" {
		attrs = append(attrs, "endpoint", e.Endpoint)
	}
	if e.Cost != nil {
		attrs = append(attrs, "cost", e.Cost.StringFixed(6))
	}
	if e.DurationMs > 0 {
		attrs = append(attrs, "duration_ms", e.DurationMs)
	}
	if e.Score != nil {
		attrs = append(attrs, "score", *e.Score)
	}
	if e.ErrorKind != "" {
		attrs = append(attrs, "error_kind", e.ErrorKind)
	}
	if e.Detail != "" {
		attrs = append(attrs, "detail", e.Detail)
	}

	switch e.Severity {
	case SeverityError:
		s.logger.Error("event", attrs...)
	case SeverityWarn:
		s.logger.Warn("event", attrs...)
	default:
		s.logger.Info("event", attrs...)
	}
	return nil
}

// MemorySink collects events in memory for tests and post-hoc inspection.
type MemorySink struct {
	mu       sync.Mutex
	appended []Envelope
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Append implements Sink by recording the envelope.
func (s *MemorySink) Append(_ context.Context, e Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, e)
	return nil
}

// Events returns a copy of everything appended so far.
func (s *MemorySink) Events() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, len(s.appended))
	copy(out, s.appended)
	return out
}

// OfKind returns the appended events matching kind, in order.
func (s *MemorySink) OfKind(kind Kind) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Envelope
	for _, e := range s.appended {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
