package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
	"github.com/hupe1980/govmesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dctx = core.DecisionContext{AgentID: "farm_1", AgentType: "farmer", StepID: 1}

func newAdapter(optFns ...func(o *Options)) *LLMAdapter {
	base := func(o *Options) {
		o.Skills = []string{"increase_demand", "maintain_demand", "decrease_demand"}
		o.ReasoningKeys = []string{"threat_appraisal"}
		o.Aliases = map[string]string{"hold": "maintain_demand"}
	}

	return New(model.NewMockModel("mock"), append([]func(o *Options){base}, optFns...)...)
}

func TestParse_Layers(t *testing.T) {
	a := newAdapter()

	tests := []struct {
		name      string
		raw       string
		skill     string
		layer     string
		magnitude *float64
	}{
		{
			name:      "plain json",
			raw:       `{"decision": "Increase Demand", "magnitude_pct": 12.5, "confidence": 0.7, "reasoning": {"rationale": "dry"}}`,
			skill:     "increase_demand",
			layer:     LayerJSON,
			magnitude: core.Float(12.5),
		},
		{
			name:  "fenced",
			raw:   "Here you go:\n```json\n{\"skill\": \"hold\"}\n```\nThanks",
			skill: "maintain_demand",
			layer: LayerFenced,
		},
		{
			name:      "embedded",
			raw:       `I think {"action": "decrease-demand", "magnitude": "15%"} is best.`,
			skill:     "decrease_demand",
			layer:     LayerEmbedded,
			magnitude: core.Float(15),
		},
		{
			name:  "keyword line",
			raw:   "After thinking.\nDecision: maintain demand.",
			skill: "maintain_demand",
			layer: LayerKeyword,
		},
		{
			name:  "keyword scan",
			raw:   "We should probably increase demand this year.",
			skill: "increase_demand",
			layer: LayerKeyword,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := a.Parse(tt.raw, dctx)
			require.NoError(t, err)
			assert.Equal(t, tt.skill, p.SkillName)
			assert.Equal(t, tt.layer, p.ParseLayer)
			assert.Equal(t, "farm_1", p.AgentID)
			assert.Equal(t, tt.raw, p.RawText)

			if tt.magnitude != nil {
				m, ok := p.Magnitude()
				require.True(t, ok)
				assert.InDelta(t, *tt.magnitude, m, 1e-9)
			}
		})
	}
}

func TestParse_ReasoningAndWarnings(t *testing.T) {
	a := newAdapter()

	p, err := a.Parse(`{"decision":"maintain_demand","reasoning":"stable prices","threat_appraisal":"High","confidence":3,"parameters":{"crop":"corn"},"secondary_skills":["Decrease Demand"]}`, dctx)
	require.NoError(t, err)
	assert.Equal(t, "stable prices", p.Reasoning["rationale"])
	assert.Equal(t, "High", p.Reasoning["threat_appraisal"])
	assert.Equal(t, 1.0, p.Confidence)
	assert.NotEmpty(t, p.ParseWarnings)
	assert.Equal(t, "corn", p.Parameters["crop"])
	assert.Equal(t, []string{"decrease_demand"}, p.SecondarySkills)
}

func TestParse_Failures(t *testing.T) {
	a := newAdapter(func(o *Options) { o.Skills = nil })

	for _, raw := range []string{"", "no idea", `{"thoughts": "none"}`} {
		p, err := a.Parse(raw, dctx)
		assert.Nil(t, p)

		var pe *core.ParseError
		require.True(t, errors.As(err, &pe), raw)
		assert.ErrorIs(t, err, core.ErrParse)
	}
}

func TestInvoke(t *testing.T) {
	m := model.NewMockModel("mock")
	m.Enqueue(`{"decision":"maintain_demand"}`)

	a := New(m, func(o *Options) {
		o.System = "You are a farmer."
		o.RequestsPerSecond = 100
		o.Burst = 2
	})

	raw, stats, err := a.Invoke(context.Background(), "decide now")
	require.NoError(t, err)
	assert.Equal(t, `{"decision":"maintain_demand"}`, raw)
	assert.Equal(t, 6, stats.PromptTokens)
	assert.Equal(t, 1, stats.CompletionTokens)
	assert.GreaterOrEqual(t, stats.Latency, time.Duration(0))
}

func TestInvoke_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := New(model.NewMockModel("mock"), func(o *Options) { o.RequestsPerSecond = 1 }).Invoke(ctx, "x")
	assert.Error(t, err)
}

func TestFormatRetryPrompt(t *testing.T) {
	a := newAdapter()
	reports := []core.ViolationReport{
		{RuleID: "max_increase", Messages: []string{"magnitude 500 exceeds 30"}, Suggestion: "stay at or below 30"},
		{RuleID: "other", Messages: []string{"x"}},
	}

	out := a.FormatRetryPrompt("original prompt", reports, 1)
	assert.Contains(t, out, "original prompt")
	assert.Contains(t, out, "[max_increase] magnitude 500 exceeds 30")
	assert.Contains(t, out, "Suggestion: stay at or below 30")
	assert.NotContains(t, out, "[other]")
}

func TestInvoke_LogsProposerCalls(t *testing.T) {
	var buf bytes.Buffer

	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})
	m := model.NewMockModel("mock-1")
	m.Enqueue(`{"decision":"maintain_demand"}`)

	a := New(m, func(o *Options) { o.Logger = logger })

	_, _, err := a.Invoke(context.Background(), "decide now")
	require.NoError(t, err)

	_, _, err = a.Invoke(context.Background(), "")
	require.Error(t, err)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var ok, failed map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &ok))
	require.NoError(t, json.Unmarshal(lines[1], &failed))

	assert.Equal(t, "Proposer call completed", ok["msg"])
	assert.Equal(t, "mock", ok["provider"])
	assert.Equal(t, "mock-1", ok["model"])
	assert.Equal(t, float64(3), ok["token_count"])
	assert.Equal(t, true, ok["success"])

	assert.Equal(t, "Proposer call failed", failed["msg"])
	assert.Equal(t, "ERROR", failed["level"])
	assert.Equal(t, false, failed["success"])
	assert.Contains(t, failed["error"], "no prompt")
}
