package refine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/avandelay-labs/refinery/internal/contract"
	"github.com/avandelay-labs/refinery/internal/domain"
	"github.com/avandelay-labs/refinery/internal/llm/transport"
)

// feedbackOutput is the JSON payload a feedback contract must produce.
type feedbackOutput struct {
	Findings []domain.ValidationFinding `json:"findings"`
}

// extractFeedback turns the latest report into the finding list that
// steers the next generation. Only the latest report contributes: earlier
// iterations' findings are presumed addressed by the fixes that followed.
//
// When a feedback contract is configured, a distillation call condenses
// the actionable findings; a failure of that call falls back to the raw
// findings, since feedback quality is never worth aborting the session.
func (l *Loop) extractFeedback(
	ctx context.Context,
	sessionID, feedbackContract, candidate string,
	report *domain.ValidationReport,
) ([]domain.ValidationFinding, decimal.Decimal) {
	actionable := report.ActionableFindings(l.cfg.FeedbackLimit)
	if len(actionable) == 0 {
		return nil, decimal.Zero
	}
	if feedbackContract == "" {
		return actionable, decimal.Zero
	}

	res, err := l.generator.Generate(ctx, &contract.Request{
		Contract:  feedbackContract,
		Prompt:    feedbackPrompt(candidate, actionable),
		Operation: transport.OpFeedback,
		SessionID: sessionID,
	})
	if err != nil {
		l.logger.WarnContext(ctx, "feedback distillation failed, using raw findings",
			"session_id", sessionID, "error", err)
		return actionable, decimal.Zero
	}
	if res.Violated {
		l.logger.WarnContext(ctx, "feedback distillation violated its contract, using raw findings",
			"session_id", sessionID)
		return actionable, res.Cost
	}

	var out feedbackOutput
	if err := json.Unmarshal(res.Raw, &out); err != nil {
		l.logger.WarnContext(ctx, "decode feedback output failed, using raw findings",
			"session_id", sessionID, "error", err)
		return actionable, res.Cost
	}

	distilled := make([]domain.ValidationFinding, 0, len(out.Findings))
	for _, f := range out.Findings {
		if !f.Severity.Actionable() {
			continue
		}
		distilled = append(distilled, f)
		if l.cfg.FeedbackLimit > 0 && len(distilled) >= l.cfg.FeedbackLimit {
			break
		}
	}
	if len(distilled) == 0 {
		return actionable, res.Cost
	}
	return distilled, res.Cost
}

// candidateExcerptLimit bounds the candidate text included in a feedback
// distillation prompt.
const candidateExcerptLimit = 4000

func feedbackPrompt(candidate string, findings []domain.ValidationFinding) string {
	var b strings.Builder
	b.WriteString("A generated artifact failed validation. Distill the findings below into ")
	b.WriteString("a prioritized list of concrete corrections, most severe first.\n\nArtifact:\n")
	if len(candidate) > candidateExcerptLimit {
		limit := candidateExcerptLimit
		// Back up so a multi-byte character is never split mid-sequence.
		for limit > 0 && !utf8.RuneStart(candidate[limit]) {
			limit--
		}
		b.WriteString(candidate[:limit])
		b.WriteString("...")
	} else {
		b.WriteString(candidate)
	}
	b.WriteString("\n\nFindings:\n")
	for i, f := range findings {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, f.Severity, f.Issue)
		if f.Location != "" {
			fmt.Fprintf(&b, " (at %s)", f.Location)
		}
		if f.Recommendation != "" {
			fmt.Fprintf(&b, " -> %s", f.Recommendation)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RegenerationPrompt builds the generation prompt for an iteration.
// Deterministic: the same base prompt and feedback always produce the
// same prompt. With no feedback it is the base prompt unchanged.
func RegenerationPrompt(base string, feedback []domain.ValidationFinding) string {
	if len(feedback) == 0 {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nYour previous attempt had the following issues. Fix every one of them:\n")
	for i, f := range feedback {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, f.Severity, f.Issue)
		if f.Location != "" {
			fmt.Fprintf(&b, " (at %s)", f.Location)
		}
		if f.Recommendation != "" {
			fmt.Fprintf(&b, " -> %s", f.Recommendation)
		}
		b.WriteString("\n")
	}
	return b.String()
}
