package retry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/internal/testutil"
	"github.com/hupe1980/govmesh/logging"
	"github.com/hupe1980/govmesh/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capRule rejects magnitudes above 30 deterministically and the skill
// "panic_sell" non-deterministically.
func capRule() validation.Rule {
	return validation.FuncRule{RuleID: "cap", Fn: func(_ context.Context, p *core.Proposal, _ map[string]any) []core.Verdict {
		if p.SkillName == "panic_sell" {
			return []core.Verdict{core.Fail("appraisal_mismatch", false, "appraisal does not justify panic_sell")}
		}

		if m, ok := p.Magnitude(); ok && m > 30 {
			return []core.Verdict{core.Fail("max_increase", true, "magnitude exceeds 30").WithSuggestion("stay at or below 30")}
		}

		return []core.Verdict{core.Pass("cap")}
	}}
}

func newController(p core.Proposer, f, r int) *Controller {
	return NewController(p, validation.NewPipeline([]validation.Rule{capRule()}), func(o *Options) {
		o.FormatRepairAttempts = f
		o.MaxRetries = r
	})
}

func dctx() core.DecisionContext {
	return core.DecisionContext{AgentID: "farm_1", AgentType: "farmer", StepID: 1, Prompt: "decide"}
}

func TestController_ValidFirstTry(t *testing.T) {
	p := testutil.NewScriptedProposer(testutil.Decision("increase_demand", core.Float(10)))

	res, err := newController(p, 2, 3).Run(context.Background(), dctx())
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, res.Status)
	assert.Equal(t, 0, res.GovernanceRetries)
	assert.Equal(t, 1, res.Calls)
	assert.Equal(t, 1, res.Ledger.Calls)
	assert.Equal(t, 15, res.Ledger.TotalTokens())
	require.Len(t, res.History, 1)
	assert.Equal(t, TierInitial, res.History[0].Tier)
}

func TestController_FormatRepairThenValid(t *testing.T) {
	p := testutil.NewScriptedProposer("not json", testutil.Decision("increase_demand", core.Float(5)))

	res, err := newController(p, 2, 3).Run(context.Background(), dctx())
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, res.Status)
	assert.Equal(t, 1, res.FormatFailures)
	assert.Equal(t, 0, res.GovernanceRetries)
	assert.Equal(t, 2, res.Calls)
	assert.Contains(t, p.Prompts()[1], "could not be parsed")
	assert.Equal(t, TierFormatRepair, res.History[1].Tier)
}

func TestController_FormatExhausted(t *testing.T) {
	p := testutil.NewScriptedProposer("garbage")

	res, err := newController(p, 2, 3).Run(context.Background(), dctx())
	require.NoError(t, err)
	assert.Equal(t, StatusFormatExhausted, res.Status)
	assert.Nil(t, res.Proposal)
	assert.Equal(t, 3, res.FormatFailures)
	assert.Equal(t, 3, res.Calls)
}

func TestController_InvokeErrorCountsAsFormatFailure(t *testing.T) {
	p := (&testutil.ScriptedProposer{}).
		Then(testutil.Reply{Err: errors.New("timeout")}).
		Then(testutil.Reply{Raw: testutil.Decision("hold", nil)})

	res, err := newController(p, 1, 0).Run(context.Background(), dctx())
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, res.Status)
	assert.Equal(t, 1, res.FormatFailures)
}

func TestController_MissingReasoningIsFormatFailure(t *testing.T) {
	p := testutil.NewScriptedProposer(`{"decision":"hold","reasoning":{}}`)
	c := NewController(p, validation.NewPipeline(nil), func(o *Options) {
		o.FormatRepairAttempts = 1
		o.RequiredReasoning = []string{"threat_appraisal"}
	})

	res, err := c.Run(context.Background(), dctx())
	require.NoError(t, err)
	assert.Equal(t, StatusFormatExhausted, res.Status)
	assert.Contains(t, res.History[0].ParseErr, "threat_appraisal")
}

func TestController_GovernanceRetrySuccess(t *testing.T) {
	p := testutil.NewScriptedProposer(
		testutil.Decision("increase_demand", core.Float(500)),
		testutil.Decision("increase_demand", core.Float(20)),
	)

	res, err := newController(p, 2, 3).Run(context.Background(), dctx())
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, res.Status)
	assert.Equal(t, 1, res.GovernanceRetries)

	reports := p.Reports()
	require.Len(t, reports, 1)
	require.Len(t, reports[0], 1)
	assert.Equal(t, "max_increase", reports[0][0].RuleID)
	assert.Equal(t, "stay at or below 30", reports[0][0].Suggestion)
	assert.True(t, strings.HasSuffix(p.Prompts()[1], "RETRY: max_increase"))
}

func TestController_DeterministicEarlyExit(t *testing.T) {
	p := testutil.NewScriptedProposer(testutil.Decision("increase_demand", core.Float(500)))

	res, err := newController(p, 2, 3).Run(context.Background(), dctx())
	require.NoError(t, err)
	assert.Equal(t, StatusEarlyExit, res.Status)
	assert.Equal(t, 1, res.GovernanceRetries)
	assert.Equal(t, 2, res.Calls)
	require.NotNil(t, res.Diagnostics)
	assert.True(t, res.Diagnostics.EarlyExit)
	assert.Equal(t, "increase_demand", res.Diagnostics.FinalChoice)
	assert.Equal(t, []string{"max_increase"}, res.Diagnostics.RuleIDs)
}

func TestController_NonDeterministicUsesFullBudget(t *testing.T) {
	p := testutil.NewScriptedProposer(testutil.Decision("panic_sell", nil))

	res, err := newController(p, 2, 3).Run(context.Background(), dctx())
	require.NoError(t, err)
	assert.Equal(t, StatusGovernanceExhausted, res.Status)
	assert.Equal(t, 3, res.GovernanceRetries)
	assert.Equal(t, 4, res.Calls)
	assert.False(t, res.Diagnostics.EarlyExit)
}

func TestController_ChangedBlockingSetDoesNotExitEarly(t *testing.T) {
	p := testutil.NewScriptedProposer(
		testutil.Decision("increase_demand", core.Float(500)),
		testutil.Decision("panic_sell", nil),
		testutil.Decision("increase_demand", core.Float(400)),
		testutil.Decision("increase_demand", core.Float(300)),
	)

	res, err := newController(p, 0, 5).Run(context.Background(), dctx())
	require.NoError(t, err)
	assert.Equal(t, StatusEarlyExit, res.Status)
	assert.Equal(t, 3, res.GovernanceRetries)
	assert.Equal(t, 4, res.Calls)
}

func TestController_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newController(testutil.NewScriptedProposer("x"), 2, 3).Run(ctx, dctx())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildReports(t *testing.T) {
	verdicts := []core.Verdict{
		core.Fail("a", true, "a1"),
		core.Pass("ok"),
		core.Fail("b", false, "b1"),
		core.Fail("a", false, "a2"),
		core.Fail("c", true, "c1"),
	}

	reports := BuildReports(verdicts, 2)
	require.Len(t, reports, 2)
	assert.Equal(t, "a", reports[0].RuleID)
	assert.Equal(t, []string{"a1", "a2"}, reports[0].Messages)
	assert.False(t, reports[0].Deterministic)
	assert.Equal(t, "b", reports[1].RuleID)

	assert.Len(t, BuildReports(verdicts, 0), 3)
}

func TestCallBudget(t *testing.T) {
	b := NewCallBudget(2)
	require.NoError(t, b.Take())
	require.NoError(t, b.Take())
	assert.Error(t, b.Take())
	assert.Equal(t, 3, b.Used())

	u := NewCallBudget(0)
	require.NoError(t, u.Take())
	assert.Equal(t, -1, u.Remaining())
}

func TestController_LogsRetriesPerAgent(t *testing.T) {
	var buf bytes.Buffer

	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "json", Output: &buf})
	p := testutil.NewScriptedProposer(
		"garbage",
		testutil.Decision("increase_demand", core.Float(500)),
		testutil.Decision("increase_demand", core.Float(10)),
	)

	c := NewController(p, validation.NewPipeline([]validation.Rule{capRule()}), func(o *Options) { o.Logger = logger })

	res, err := c.Run(context.Background(), dctx())
	require.NoError(t, err)
	require.Equal(t, StatusValidated, res.Status)

	var retries []map[string]any

	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))

		if entry["msg"] == "Retrying proposal" {
			retries = append(retries, entry)
		}
	}

	require.Len(t, retries, 2)
	assert.Equal(t, TierFormatRepair, retries[0]["tier"])
	assert.Equal(t, TierGovernanceRetry, retries[1]["tier"])
	assert.Equal(t, []any{"max_increase"}, retries[1]["rule_ids"])

	for _, entry := range retries {
		assert.Equal(t, "farm_1", entry["agent_id"])
		assert.Equal(t, float64(1), entry["step_id"])
		assert.Equal(t, float64(1), entry["attempt"])
	}
}
