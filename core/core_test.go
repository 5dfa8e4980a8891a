package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome_TextRoundTrip(t *testing.T) {
	for _, o := range []Outcome{OutcomeApproved, OutcomeRetrySuccess, OutcomeRejected, OutcomeRejectedFallback, OutcomeAborted} {
		b, err := o.MarshalText()
		require.NoError(t, err)

		var got Outcome
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, o, got)
	}

	var o Outcome
	require.NoError(t, o.UnmarshalText([]byte("UNCERTAIN")))
	assert.Equal(t, OutcomeRejectedFallback, o)
	assert.Error(t, o.UnmarshalText([]byte("MAYBE")))
}

func TestOutcome_Approved(t *testing.T) {
	assert.True(t, OutcomeApproved.Approved())
	assert.True(t, OutcomeRetrySuccess.Approved())
	assert.False(t, OutcomeRejected.Approved())
	assert.False(t, OutcomeAborted.Approved())
}

func TestApprovedAction_JSONUsesOutcomeNames(t *testing.T) {
	b, err := json.Marshal(ApprovedAction{AgentID: "a1", SkillName: "maintain_demand", ApprovalStatus: OutcomeRejected})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"approval_status":"REJECTED"`)
}

func TestProposal_CloneIsolation(t *testing.T) {
	p := &Proposal{
		AgentID:      "a1",
		SkillName:    "increase_demand",
		Reasoning:    map[string]string{"threat": "high"},
		MagnitudePct: Float(10),
		Parameters:   map[string]any{"region": "north"},
	}

	cp := p.WithAgent("a2")
	cp.Reasoning["threat"] = "low"
	*cp.MagnitudePct = 99
	cp.Parameters["region"] = "south"

	assert.Equal(t, "a1", p.AgentID)
	assert.Equal(t, "high", p.Reasoning["threat"])
	assert.InDelta(t, 10.0, *p.MagnitudePct, 0.0001)
	assert.Equal(t, "north", p.Parameters["region"])

	w := p.WithWarning("keyword fallback")
	assert.Empty(t, p.ParseWarnings)
	assert.Equal(t, []string{"keyword fallback"}, w.ParseWarnings)
}

func TestProposal_SchemaDocumentAndReasoning(t *testing.T) {
	p := &Proposal{MagnitudePct: Float(500), Parameters: map[string]any{"x": 1}, Reasoning: map[string]string{"a": "yes"}}
	doc := p.SchemaDocument()
	assert.Equal(t, 500.0, doc["magnitude_pct"])
	assert.Equal(t, 1, doc["x"])
	assert.Equal(t, []string{"b"}, p.MissingReasoning([]string{"a", "b"}))
}

func TestBlockingRuleSet(t *testing.T) {
	verdicts := []Verdict{
		Pass("ok"),
		Fail("output_schema_violation", true, "too large"),
		{Valid: false, Metadata: VerdictMetadata{RuleIDs: []string{"r1", "r2"}}},
	}

	set := NewBlockingRuleSet(verdicts)
	assert.Equal(t, []string{"output_schema_violation", "r1", "r2"}, set.IDs())
	assert.True(t, set.Equal(NewBlockingRuleSet(verdicts[1:])))
	assert.False(t, set.Equal(NewBlockingRuleSet(verdicts[:2])))
	assert.False(t, AllValid(verdicts))
	assert.Len(t, Blocking(verdicts), 2)
	assert.True(t, AllValid([]Verdict{Pass("a")}))
}

func TestErrors_Unwrap(t *testing.T) {
	var err error = &ParseError{Layer: "json", Reason: "bad"}
	assert.True(t, errors.Is(err, ErrParse))

	err = NewConfigurationError("broker", "fallback skill %q missing", "noop")
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), `"noop"`)
}

func TestCostLedger(t *testing.T) {
	var l CostLedger
	l.Add(CallStats{PromptTokens: 10, CompletionTokens: 5})
	l.Add(CallStats{PromptTokens: 3, CompletionTokens: 2})
	assert.Equal(t, 2, l.Calls)
	assert.Equal(t, 20, l.TotalTokens())
}

func TestDecisionContext_HashMaterialExcludesIdentity(t *testing.T) {
	a := DecisionContext{AgentID: "a1", StepID: 1, AgentType: "household", AgentState: map[string]any{"x": 1}}
	b := DecisionContext{AgentID: "a2", StepID: 7, AgentType: "household", AgentState: map[string]any{"x": 1}}
	assert.Equal(t, a.HashMaterial(), b.HashMaterial())
}
