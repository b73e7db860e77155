// Package refine drives the generate-validate-refine loop: generate a
// candidate, validate it, and when it falls short, extract actionable
// feedback to steer the next generation. Sessions are strictly sequential
// and bounded by iteration count and score threshold.
package refine

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/avandelay-labs/refinery/internal/configuration"
	"github.com/avandelay-labs/refinery/internal/contract"
	"github.com/avandelay-labs/refinery/internal/domain"
	"github.com/avandelay-labs/refinery/internal/llm/transport"
	"github.com/avandelay-labs/refinery/internal/validation"
	"github.com/avandelay-labs/refinery/pkg/events"
)

// Validating runs a validator set against a candidate. Implemented by
// validation.Orchestrator.
type Validating interface {
	Validate(ctx context.Context, candidate string, validators []validation.Validator, sessionID string) (*domain.ValidationReport, error)
}

// Request describes one refinement session.
type Request struct {
	// Prompt is the task the session refines toward.
	Prompt string

	// SystemPrompt passes through to generation calls unchanged.
	SystemPrompt string

	// GenerationContract names the output contract for candidates.
	GenerationContract string

	// FeedbackContract names the contract used to distill findings into
	// feedback. When empty, feedback comes straight from the report's
	// actionable findings without an extra call.
	FeedbackContract string

	// Validators is the validator set applied to every candidate.
	Validators []validation.Validator
}

// Loop owns the session state machine. One Loop serves many sessions;
// per-session state never outlives Run.
type Loop struct {
	cfg       configuration.RefinementConfig
	generator validation.Generator
	validator Validating
	sink      events.Sink
	logger    *slog.Logger
}

// New builds a refinement loop. Sink and logger may be nil.
func New(
	cfg configuration.RefinementConfig,
	generator validation.Generator,
	validator Validating,
	sink events.Sink,
	logger *slog.Logger,
) *Loop {
	if sink == nil {
		sink = events.NewNoOpSink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:       cfg,
		generator: generator,
		validator: validator,
		sink:      sink,
		logger:    logger.With("component", "refine"),
	}
}

// Run executes one session to a terminal status. It never returns an
// error: infrastructure failures surface as Status ERROR inside the
// result, with the history accumulated so far preserved for inspection.
// Cancellation is honored between iterations; an in-flight call finishes
// under its own timeout.
func (l *Loop) Run(ctx context.Context, req *Request) *domain.SessionResult {
	sessionID := ulid.Make().String()
	state := &domain.RefinementState{SessionID: sessionID}
	totalCost := decimal.Zero
	var feedback []domain.ValidationFinding

	l.logger.InfoContext(ctx, "session started",
		"session_id", sessionID,
		"max_iterations", l.cfg.MaxIterations,
		"min_score", l.cfg.MinValidationScore)

	for i := 1; i <= l.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			state.Reason = domain.TerminationCanceled
			return l.finish(ctx, state, totalCost, domain.SessionError, err.Error())
		}

		l.emitIteration(ctx, events.KindIterationStarted, sessionID, i, nil)
		iterStart := time.Now()

		genRes, err := l.generator.Generate(ctx, &contract.Request{
			Contract:     req.GenerationContract,
			Prompt:       RegenerationPrompt(req.Prompt, feedback),
			SystemPrompt: req.SystemPrompt,
			Operation:    transport.OpGeneration,
			SessionID:    sessionID,
		})
		if err != nil {
			// ProvidersExhausted, BudgetExceeded, ContractViolation:
			// the session cannot continue without a candidate.
			l.logger.ErrorContext(ctx, "generation failed",
				"session_id", sessionID, "iteration", i, "error", err)
			state.Reason = domain.TerminationGenerationFailed
			return l.finish(ctx, state, totalCost, domain.SessionError, err.Error())
		}

		candidate := genRes.Content
		iterCost := genRes.Cost

		report, err := l.validator.Validate(ctx, candidate, req.Validators, sessionID)
		if err != nil {
			state.Reason = domain.TerminationValidationError
			return l.finish(ctx, state, totalCost.Add(iterCost), domain.SessionError, err.Error())
		}
		iterCost = iterCost.Add(report.TotalCost)

		passed := report.OverallStatus == domain.StatusPass && report.Score >= l.cfg.MinValidationScore
		if !passed && i < l.cfg.MaxIterations {
			var feedbackCost decimal.Decimal
			feedback, feedbackCost = l.extractFeedback(ctx, sessionID, req.FeedbackContract, candidate, report)
			iterCost = iterCost.Add(feedbackCost)
		} else {
			feedback = nil
		}

		iteration := domain.Iteration{
			Index:     i,
			Candidate: candidate,
			Report:    report,
			Feedback:  feedback,
			Cost:      iterCost,
		}
		state.Record(iteration)
		totalCost = totalCost.Add(iterCost)

		l.emitIteration(ctx, events.KindIterationEnded, sessionID, i, report)
		l.logger.InfoContext(ctx, "iteration completed",
			"session_id", sessionID,
			"iteration", i,
			"status", report.OverallStatus,
			"score", report.Score,
			"cost", iterCost,
			"elapsed", time.Since(iterStart))

		if passed {
			state.Reason = domain.TerminationPassed
			return l.finish(ctx, state, totalCost, domain.SessionSuccess, "")
		}
	}

	state.Reason = domain.TerminationIterationsSpent
	return l.finish(ctx, state, totalCost, domain.SessionFailedValidation, "")
}

// finish assembles the terminal result. A passing session surfaces the
// iteration that passed; on exhaustion the best-scoring candidate is
// surfaced, not necessarily the last one.
func (l *Loop) finish(
	ctx context.Context,
	state *domain.RefinementState,
	totalCost decimal.Decimal,
	status domain.SessionStatus,
	errDetail string,
) *domain.SessionResult {
	result := &domain.SessionResult{
		SessionID:      state.SessionID,
		Status:         status,
		Reason:         state.Reason,
		IterationsUsed: state.Iterations(),
		TotalCost:      totalCost,
		History:        state.History,
		Err:            errDetail,
	}

	switch {
	case state.Reason == domain.TerminationPassed && len(state.History) > 0:
		last := state.History[len(state.History)-1]
		result.FinalCandidate = last.Candidate
		result.FinalReport = last.Report
	case state.BestIndex > 0:
		best := state.History[state.BestIndex-1]
		result.FinalCandidate = best.Candidate
		result.FinalReport = best.Report
	}

	l.emitSessionEnded(ctx, result)
	l.logger.InfoContext(ctx, "session ended",
		"session_id", state.SessionID,
		"status", status,
		"reason", state.Reason,
		"iterations", result.IterationsUsed,
		"total_cost", totalCost)
	return result
}

func (l *Loop) emitIteration(ctx context.Context, kind events.Kind, sessionID string, index int, report *domain.ValidationReport) {
	env := events.New(kind, "refine", events.SeverityInfo)
	env.SessionID = sessionID
	env.Detail = "iteration " + strconv.Itoa(index)
	if report != nil {
		score := report.Score
		env.Score = &score
	}
	l.emit(ctx, env)
}

func (l *Loop) emitSessionEnded(ctx context.Context, result *domain.SessionResult) {
	severity := events.SeverityInfo
	if result.Status == domain.SessionError {
		severity = events.SeverityError
	}
	env := events.New(events.KindSessionEnded, "refine", severity)
	env.SessionID = result.SessionID
	cost := result.TotalCost
	env.Cost = &cost
	env.Detail = string(result.Status) + "/" + string(result.Reason)
	if result.FinalReport != nil {
		score := result.FinalReport.Score
		env.Score = &score
	}
	l.emit(ctx, env)
}

func (l *Loop) emit(ctx context.Context, env events.Envelope) {
	if err := l.sink.Append(ctx, env); err != nil {
		l.logger.DebugContext(ctx, "event sink append failed", "kind", env.Kind, "error", err)
	}
}
