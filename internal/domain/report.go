package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValidationStatus is the verdict of one validator or of a whole report.
type ValidationStatus string

const (
	StatusPass    ValidationStatus = "PASS"
	StatusFail    ValidationStatus = "FAIL"
	StatusWarning ValidationStatus = "WARNING"
)

// ValidatorResult is one validator's complete output for a candidate.
// A validator that could not run (transport failure, contract violation)
// is recorded as a FAIL with zero score and Error set, so one broken
// validator never aborts the others.
type ValidatorResult struct {
	// Validator names the validator that produced this result.
	Validator string `json:"validator"`

	// Status is the validator's own verdict.
	Status ValidationStatus `json:"status"`

	// Score is the validator's numeric assessment, 0 to 100.
	Score float64 `json:"score"`

	// Findings are the issues the validator raised.
	Findings []ValidationFinding `json:"findings,omitempty"`

	// Error carries the failure description when the validator itself failed.
	Error string `json:"error,omitempty"`

	// Cost is what the validator's calls spent.
	Cost decimal.Decimal `json:"cost"`

	// Elapsed is the wall time the validator took.
	Elapsed time.Duration `json:"elapsed"`
}

// ValidationReport aggregates every validator's output for one candidate.
// Immutable after creation.
type ValidationReport struct {
	// OverallStatus is the aggregated verdict (see aggregation rules in
	// the validation package).
	OverallStatus ValidationStatus `json:"overall_status"`

	// Score is the mean of per-validator scores, 0 to 100.
	Score float64 `json:"score"`

	// Results holds each validator's full output.
	Results []ValidatorResult `json:"results"`

	// FindingsBySeverity groups all findings across validators.
	FindingsBySeverity map[Severity][]ValidationFinding `json:"findings_by_severity,omitempty"`

	// TotalCost is the summed cost of every validator call.
	TotalCost decimal.Decimal `json:"total_cost"`

	// Elapsed is the wall time for the whole validation pass.
	Elapsed time.Duration `json:"elapsed"`
}

// GroupFindings buckets findings from all results by severity.
func GroupFindings(results []ValidatorResult) map[Severity][]ValidationFinding {
	grouped := make(map[Severity][]ValidationFinding)
	for _, r := range results {
		for _, f := range r.Findings {
			grouped[f.Severity] = append(grouped[f.Severity], f)
		}
	}
	if len(grouped) == 0 {
		return nil
	}
	return grouped
}

// ActionableFindings returns the report's CRITICAL and HIGH findings,
// most severe first, capped at limit. This is the raw material for
// refinement feedback.
func (r *ValidationReport) ActionableFindings(limit int) []ValidationFinding {
	var out []ValidationFinding
	for _, sev := range []Severity{SeverityCritical, SeverityHigh} {
		for _, f := range r.FindingsBySeverity[sev] {
			out = append(out, f)
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}
