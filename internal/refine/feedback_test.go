package refine

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandelay-labs/refinery/internal/contract"
	"github.com/avandelay-labs/refinery/internal/domain"
)

// scriptedGenerator returns one fixed result for every call.
type scriptedGenerator struct {
	result *contract.Result
	err    error
	calls  int
}

func (g *scriptedGenerator) Generate(_ context.Context, _ *contract.Request) (*contract.Result, error) {
	g.calls++
	return g.result, g.err
}

func criticalReport() *domain.ValidationReport {
	results := []domain.ValidatorResult{{
		Validator: "scorer",
		Status:    domain.StatusFail,
		Score:     40,
		Findings: []domain.ValidationFinding{
			{Severity: domain.SeverityCritical, Issue: "totals are wrong", Recommendation: "recompute"},
		},
	}}
	return &domain.ValidationReport{
		OverallStatus:      domain.StatusFail,
		Score:              40,
		Results:            results,
		FindingsBySeverity: domain.GroupFindings(results),
	}
}

func TestExtractFeedbackDistillationViolatedCountsCost(t *testing.T) {
	gen := &scriptedGenerator{result: &contract.Result{
		Violated: true,
		Content:  "not json",
		Cost:     decimal.RequireFromString("0.07"),
	}}
	loop := New(refineConfig(3, 85), gen, nil, nil, nil)

	findings, cost := loop.extractFeedback(context.Background(), "sess", "fb", "candidate", criticalReport())

	require.Len(t, findings, 1)
	assert.Equal(t, "totals are wrong", findings[0].Issue, "raw findings survive a violated distillation")
	assert.True(t, cost.Equal(decimal.RequireFromString("0.07")),
		"the violated call still spent %s", cost)
	assert.Equal(t, 1, gen.calls)
}

func TestExtractFeedbackCallErrorHasNoCost(t *testing.T) {
	gen := &scriptedGenerator{err: context.DeadlineExceeded}
	loop := New(refineConfig(3, 85), gen, nil, nil, nil)

	findings, cost := loop.extractFeedback(context.Background(), "sess", "fb", "candidate", criticalReport())

	require.Len(t, findings, 1)
	assert.True(t, cost.IsZero())
}

func TestFeedbackPromptTruncatesOnRuneBoundary(t *testing.T) {
	// 1400 three-byte runes: the excerpt limit lands inside a rune.
	candidate := strings.Repeat("世", 1400)
	require.Greater(t, len(candidate), candidateExcerptLimit)

	prompt := feedbackPrompt(candidate, criticalReport().ActionableFindings(5))
	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, "totals are wrong")
}
