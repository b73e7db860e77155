package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointKey(t *testing.T) {
	ep := ProviderEndpoint{Provider: "openai", Model: "gpt-test"}
	assert.Equal(t, "openai:gpt-test", ep.Key())

	ep.Tier = "batch"
	assert.Equal(t, "openai:gpt-test:batch", ep.Key())
}

func TestEndpointHasCapability(t *testing.T) {
	ep := ProviderEndpoint{Capabilities: []CapabilityTag{CapabilityFast, CapabilityStructured}}
	assert.True(t, ep.HasCapability(CapabilityFast))
	assert.False(t, ep.HasCapability(CapabilityDeepReasoning))
}

func TestEndpointValidate(t *testing.T) {
	valid := ProviderEndpoint{Name: "ep", Provider: "openai", Model: "m"}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*ProviderEndpoint)
	}{
		{"empty name", func(e *ProviderEndpoint) { e.Name = " " }},
		{"empty provider", func(e *ProviderEndpoint) { e.Provider = "" }},
		{"empty model", func(e *ProviderEndpoint) { e.Model = "" }},
		{"negative rate", func(e *ProviderEndpoint) { e.CostRate.InputPer1K = decimal.NewFromInt(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := valid
			tt.mutate(&ep)
			assert.Error(t, ep.Validate())
		})
	}
}

func TestCostRateCost(t *testing.T) {
	rate := CostRate{
		InputPer1K:  decimal.RequireFromString("0.003"),
		OutputPer1K: decimal.RequireFromString("0.015"),
	}

	// 2000 input tokens and 1000 output tokens.
	cost := rate.Cost(2000, 1000)
	assert.True(t, cost.Equal(decimal.RequireFromString("0.021")), "cost %s", cost)

	assert.True(t, rate.Cost(0, 0).IsZero())
}

func TestContractRetryAttemptsDefault(t *testing.T) {
	c := OutputContract{}
	assert.Equal(t, 2, c.RetryAttempts())

	c.MaxRetryAttempts = 4
	assert.Equal(t, 4, c.RetryAttempts())
}

func TestContractValidate(t *testing.T) {
	valid := OutputContract{
		Name:   "c",
		Schema: json.RawMessage(`{}`),
		Format: FormatStructuredObject,
		Mode:   EnforceStrict,
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*OutputContract)
	}{
		{"missing name", func(c *OutputContract) { c.Name = "" }},
		{"missing schema", func(c *OutputContract) { c.Schema = nil }},
		{"missing format", func(c *OutputContract) { c.Format = "" }},
		{"unknown format", func(c *OutputContract) { c.Format = "xml" }},
		{"missing mode", func(c *OutputContract) { c.Mode = "" }},
		{"unknown mode", func(c *OutputContract) { c.Mode = "relaxed" }},
		{"negative retries", func(c *OutputContract) { c.MaxRetryAttempts = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	ordered := []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo, Severity("bogus")}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1].Rank(), ordered[i].Rank())
	}
}

func TestSeverityActionable(t *testing.T) {
	assert.True(t, SeverityCritical.Actionable())
	assert.True(t, SeverityHigh.Actionable())
	assert.False(t, SeverityMedium.Actionable())
	assert.False(t, SeverityLow.Actionable())
	assert.False(t, SeverityInfo.Actionable())
}

func TestActionableFindingsOrderAndCap(t *testing.T) {
	results := []ValidatorResult{
		{Findings: []ValidationFinding{
			{Severity: SeverityHigh, Issue: "high one"},
			{Severity: SeverityLow, Issue: "ignored"},
		}},
		{Findings: []ValidationFinding{
			{Severity: SeverityCritical, Issue: "critical one"},
			{Severity: SeverityHigh, Issue: "high two"},
		}},
	}
	report := ValidationReport{FindingsBySeverity: GroupFindings(results)}

	findings := report.ActionableFindings(2)
	require.Len(t, findings, 2)
	assert.Equal(t, "critical one", findings[0].Issue)
	assert.Equal(t, SeverityHigh, findings[1].Severity)

	all := report.ActionableFindings(0)
	assert.Len(t, all, 3, "zero limit means uncapped")
}

func TestRefinementStateTracksBest(t *testing.T) {
	state := RefinementState{SessionID: "s"}

	state.Record(Iteration{Index: 1, Candidate: "a", Report: &ValidationReport{Score: 60}})
	state.Record(Iteration{Index: 2, Candidate: "b", Report: &ValidationReport{Score: 80}})
	state.Record(Iteration{Index: 3, Candidate: "c", Report: &ValidationReport{Score: 70}})

	assert.Equal(t, 3, state.Iterations())
	assert.Equal(t, 2, state.BestIndex)
	assert.InDelta(t, 80, state.BestScore, 0.001)
}

func TestRefinementStateSkipsNilReports(t *testing.T) {
	state := RefinementState{}
	state.Record(Iteration{Index: 1, Candidate: "a"})

	assert.Equal(t, 1, state.Iterations())
	assert.Zero(t, state.BestIndex)
}

func TestGroupFindingsEmpty(t *testing.T) {
	assert.Nil(t, GroupFindings(nil))
	assert.Nil(t, GroupFindings([]ValidatorResult{{Validator: "v"}}))
}
