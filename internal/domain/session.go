package domain

import (
	"github.com/shopspring/decimal"
)

// SessionStatus is the terminal status of a refinement session.
type SessionStatus string

const (
	// SessionSuccess means a candidate passed validation at or above the
	// configured score threshold.
	SessionSuccess SessionStatus = "SUCCESS"

	// SessionFailedValidation means every iteration completed but no
	// candidate ever passed.
	SessionFailedValidation SessionStatus = "FAILED_VALIDATION"

	// SessionError means the infrastructure could not deliver a call:
	// providers exhausted, contract violated after retries, or budget denied.
	SessionError SessionStatus = "ERROR"
)

// TerminationReason records why the refinement loop stopped.
type TerminationReason string

const (
	TerminationPassed           TerminationReason = "passed"
	TerminationIterationsSpent  TerminationReason = "iterations_exhausted"
	TerminationGenerationFailed TerminationReason = "generation_failed"
	TerminationValidationError  TerminationReason = "validation_error"
	TerminationCanceled         TerminationReason = "canceled"
)

// Iteration is one (candidate, report) pair recorded in session history.
type Iteration struct {
	// Index is the 1-based iteration number.
	Index int `json:"index"`

	// Candidate is the generated artifact for this iteration.
	Candidate string `json:"candidate"`

	// Report is the validation outcome; nil when generation failed before
	// validation could run.
	Report *ValidationReport `json:"report,omitempty"`

	// Feedback holds the actionable findings extracted to steer the next
	// iteration; empty on the final iteration.
	Feedback []ValidationFinding `json:"feedback,omitempty"`

	// Cost is the total spend for this iteration (generation, validation,
	// and feedback extraction).
	Cost decimal.Decimal `json:"cost"`
}

// RefinementState is the live state of one refinement session.
// Owned exclusively by the refinement loop and discarded when the session
// returns; history survives inside the SessionResult.
type RefinementState struct {
	// SessionID identifies the session in events and logs.
	SessionID string `json:"session_id"`

	// History holds every completed iteration in order.
	History []Iteration `json:"history"`

	// BestScore is the highest validation score seen so far.
	BestScore float64 `json:"best_score"`

	// BestIndex is the 1-based iteration that produced BestScore, 0 if none.
	BestIndex int `json:"best_index"`

	// Reason records why the loop terminated.
	Reason TerminationReason `json:"reason,omitempty"`
}

// Record appends a completed iteration and updates the best-score tracking.
func (s *RefinementState) Record(it Iteration) {
	s.History = append(s.History, it)
	if it.Report != nil && (s.BestIndex == 0 || it.Report.Score > s.BestScore) {
		s.BestScore = it.Report.Score
		s.BestIndex = it.Index
	}
}

// Iterations returns the number of completed iterations.
func (s *RefinementState) Iterations() int { return len(s.History) }

// SessionResult is what a refinement session returns to its caller.
// It always carries a definite status plus enough diagnostic detail to
// distinguish "the model never produced a valid answer" from "the
// infrastructure could not deliver a call".
type SessionResult struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`

	// Status is the terminal session status.
	Status SessionStatus `json:"status"`

	// Reason records why the loop stopped.
	Reason TerminationReason `json:"reason"`

	// FinalCandidate is the last generated candidate, or the best one when
	// the session exhausted its iterations.
	FinalCandidate string `json:"final_candidate,omitempty"`

	// FinalReport is the report for FinalCandidate, nil on early error.
	FinalReport *ValidationReport `json:"final_report,omitempty"`

	// IterationsUsed counts completed generate/validate iterations.
	IterationsUsed int `json:"iterations_used"`

	// TotalCost is the summed spend across all iterations.
	TotalCost decimal.Decimal `json:"total_cost"`

	// History preserves every (candidate, report) pair for inspection.
	History []Iteration `json:"history,omitempty"`

	// Err describes the terminal error when Status is SessionError.
	Err string `json:"error,omitempty"`
}
