// Package validation runs a set of independent validators against a
// candidate and aggregates their verdicts into a single report.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avandelay-labs/refinery/internal/contract"
	"github.com/avandelay-labs/refinery/internal/domain"
	"github.com/avandelay-labs/refinery/internal/llm/transport"
	"github.com/avandelay-labs/refinery/pkg/events"
)

// candidatePlaceholder is substituted with the candidate text when a
// validator's prompt template is rendered.
const candidatePlaceholder = "{{candidate}}"

// ErrNoValidators rejects validation with an empty validator set.
var ErrNoValidators = errors.New("validator set is empty")

// Validator configures one validation pass. Each validator issues its own
// contract-enforced call; its contract's schema describes the findings
// payload the model must return.
type Validator struct {
	// Name identifies the validator in results and events.
	Name string `yaml:"name"`

	// Contract names the output contract for this validator's call.
	Contract string `yaml:"contract"`

	// PromptTemplate is the validator prompt with a {{candidate}}
	// placeholder. Rendering is deterministic given the candidate.
	PromptTemplate string `yaml:"prompt_template"`

	// SystemPrompt passes through to the provider unchanged.
	SystemPrompt string `yaml:"system_prompt,omitempty"`
}

// Render substitutes the candidate into the prompt template.
func (v Validator) Render(candidate string) string {
	return strings.ReplaceAll(v.PromptTemplate, candidatePlaceholder, candidate)
}

// Generator issues contract-enforced calls. Implemented by contract.Enforcer.
type Generator interface {
	Generate(ctx context.Context, req *contract.Request) (*contract.Result, error)
}

// validatorOutput is the JSON payload every validator contract must
// produce.
type validatorOutput struct {
	Status   string                     `json:"status"`
	Score    float64                    `json:"score"`
	Findings []domain.ValidationFinding `json:"findings"`
}

// Orchestrator fans a candidate out to validators and aggregates.
type Orchestrator struct {
	generator Generator
	sink      events.Sink
	logger    *slog.Logger
}

// New builds an orchestrator. Sink and logger may be nil.
func New(generator Generator, sink events.Sink, logger *slog.Logger) *Orchestrator {
	if sink == nil {
		sink = events.NewNoOpSink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		generator: generator,
		sink:      sink,
		logger:    logger.With("component", "validation"),
	}
}

// Validate runs every validator against the candidate and aggregates.
// Validators are independent: they run concurrently, and one validator's
// failure is recorded as a FAIL result with zero score instead of
// aborting the pass. The returned report is always complete.
func (o *Orchestrator) Validate(
	ctx context.Context,
	candidate string,
	validators []Validator,
	sessionID string,
) (*domain.ValidationReport, error) {
	if len(validators) == 0 {
		return nil, ErrNoValidators
	}

	start := time.Now()
	results := make([]domain.ValidatorResult, len(validators))

	var wg sync.WaitGroup
	for i, v := range validators {
		wg.Add(1)
		go func(i int, v Validator) {
			defer wg.Done()
			results[i] = o.runValidator(ctx, candidate, v, sessionID)
		}(i, v)
	}
	wg.Wait()

	report := Aggregate(results)
	report.Elapsed = time.Since(start)

	o.emitCompleted(ctx, sessionID, report)
	o.logger.InfoContext(ctx, "validation completed",
		"session_id", sessionID,
		"status", report.OverallStatus,
		"score", report.Score,
		"validators", len(validators),
		"elapsed", report.Elapsed)
	return report, nil
}

func (o *Orchestrator) runValidator(
	ctx context.Context,
	candidate string,
	v Validator,
	sessionID string,
) domain.ValidatorResult {
	start := time.Now()

	res, err := o.generator.Generate(ctx, &contract.Request{
		Contract:     v.Contract,
		Prompt:       v.Render(candidate),
		SystemPrompt: v.SystemPrompt,
		Operation:    transport.OpValidation,
		SessionID:    sessionID,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "validator failed",
			"validator", v.Name, "error", err)
		return failedResult(v.Name, err.Error(), time.Since(start))
	}
	if res.Violated {
		return failedResult(v.Name,
			fmt.Sprintf("validator output never satisfied contract %q", v.Contract),
			time.Since(start))
	}

	var out validatorOutput
	if err := json.Unmarshal(res.Raw, &out); err != nil {
		return failedResult(v.Name, fmt.Sprintf("decode validator output: %v", err), time.Since(start))
	}

	return domain.ValidatorResult{
		Validator: v.Name,
		Status:    normalizeStatus(out.Status),
		Score:     clampScore(out.Score),
		Findings:  out.Findings,
		Cost:      res.Cost,
		Elapsed:   time.Since(start),
	}
}

func failedResult(name, reason string, elapsed time.Duration) domain.ValidatorResult {
	return domain.ValidatorResult{
		Validator: name,
		Status:    domain.StatusFail,
		Score:     0,
		Error:     reason,
		Elapsed:   elapsed,
	}
}

func normalizeStatus(s string) domain.ValidationStatus {
	switch domain.ValidationStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case domain.StatusPass:
		return domain.StatusPass
	case domain.StatusWarning:
		return domain.StatusWarning
	default:
		return domain.StatusFail
	}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// Aggregate folds validator results into an overall verdict:
// FAIL when any validator failed or any finding is CRITICAL; WARNING when
// any validator warned or any finding is HIGH; PASS otherwise. The report
// score is the mean of validator scores, failed validators counting as
// zero.
func Aggregate(results []domain.ValidatorResult) *domain.ValidationReport {
	status := domain.StatusPass
	totalScore := 0.0
	totalCost := decimal.Zero

	for _, r := range results {
		totalScore += r.Score
		totalCost = totalCost.Add(r.Cost)

		switch {
		case r.Status == domain.StatusFail:
			status = domain.StatusFail
		case r.Status == domain.StatusWarning && status != domain.StatusFail:
			status = domain.StatusWarning
		}
		for _, f := range r.Findings {
			switch {
			case f.Severity == domain.SeverityCritical:
				status = domain.StatusFail
			case f.Severity == domain.SeverityHigh && status != domain.StatusFail:
				status = domain.StatusWarning
			}
		}
	}

	return &domain.ValidationReport{
		OverallStatus:      status,
		Score:              totalScore / float64(len(results)),
		Results:            results,
		FindingsBySeverity: domain.GroupFindings(results),
		TotalCost:          totalCost,
	}
}

func (o *Orchestrator) emitCompleted(ctx context.Context, sessionID string, report *domain.ValidationReport) {
	severity := events.SeverityInfo
	if report.OverallStatus == domain.StatusFail {
		severity = events.SeverityWarn
	}

	env := events.New(events.KindValidationDone, "validation", severity)
	env.SessionID = sessionID
	score := report.Score
	env.Score = &score
	cost := report.TotalCost
	env.Cost = &cost
	env.DurationMs = report.Elapsed.Milliseconds()
	env.Detail = string(report.OverallStatus)
	if err := o.sink.Append(ctx, env); err != nil {
		o.logger.DebugContext(ctx, "event sink append failed", "error", err)
	}
}
