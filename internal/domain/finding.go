package domain

// Severity ranks how serious a validation finding is.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Rank returns an ordering value for severity, lower is more severe.
// Unknown severities sort after INFO so malformed validator output never
// outranks real findings.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	default:
		return 5
	}
}

// Actionable reports whether a finding of this severity feeds refinement.
// Only CRITICAL and HIGH findings steer regeneration; lower severities are
// recorded in the report but never re-prompted.
func (s Severity) Actionable() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// ValidationFinding is one issue raised by a validator against a candidate.
type ValidationFinding struct {
	// Severity classifies the impact of the issue.
	Severity Severity `json:"severity"`

	// Category groups findings, e.g. "schema", "consistency", "completeness".
	Category string `json:"category"`

	// Location references where in the candidate the issue sits.
	Location string `json:"location,omitempty"`

	// Issue describes the problem.
	Issue string `json:"issue"`

	// Recommendation describes the fix.
	Recommendation string `json:"recommendation,omitempty"`

	// Confidence is the validator's confidence in the finding, 0 to 1.
	Confidence float64 `json:"confidence"`
}
