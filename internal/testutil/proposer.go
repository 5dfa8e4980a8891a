package testutil

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/hupe1980/govmesh/core"
)

// Reply is one scripted proposer response.
type Reply struct {
	Raw   string
	Err   error
	Stats core.CallStats
}

// ScriptedProposer replays canned replies in order; the last reply repeats
// once the script is exhausted. It records every prompt and report set.
type ScriptedProposer struct {
	mu      sync.Mutex
	replies []Reply
	next    int
	prompts []string
	reports [][]core.ViolationReport
}

// NewScriptedProposer creates a proposer from raw replies.
func NewScriptedProposer(raw ...string) *ScriptedProposer {
	p := &ScriptedProposer{}
	for _, r := range raw {
		p.replies = append(p.replies, Reply{Raw: r, Stats: core.CallStats{PromptTokens: 10, CompletionTokens: 5}})
	}

	return p
}

// Then appends a reply (chainable).
func (p *ScriptedProposer) Then(r Reply) *ScriptedProposer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, r)

	return p
}

// Invoke implements core.Proposer.
func (p *ScriptedProposer) Invoke(ctx context.Context, prompt string) (string, core.CallStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prompts = append(p.prompts, prompt)

	if err := ctx.Err(); err != nil {
		return "", core.CallStats{}, err
	}

	if len(p.replies) == 0 {
		return "", core.CallStats{}, nil
	}

	i := p.next
	if i >= len(p.replies) {
		i = len(p.replies) - 1
	} else {
		p.next++
	}

	r := p.replies[i]

	return r.Raw, r.Stats, r.Err
}

// Parse implements core.Proposer with a plain JSON decoder.
func (p *ScriptedProposer) Parse(raw string, dctx core.DecisionContext) (*core.Proposal, error) {
	return ParseJSON(raw, dctx)
}

// FormatRetryPrompt implements core.Proposer.
func (p *ScriptedProposer) FormatRetryPrompt(original string, reports []core.ViolationReport, _ int) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reports = append(p.reports, reports)

	ids := make([]string, len(reports))
	for i, r := range reports {
		ids[i] = r.RuleID
	}

	return original + "\nRETRY: " + strings.Join(ids, ",")
}

// Calls returns the number of Invoke calls.
func (p *ScriptedProposer) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.prompts)
}

// Prompts returns a copy of the recorded prompts.
func (p *ScriptedProposer) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.prompts...)
}

// Reports returns the report sets passed to FormatRetryPrompt.
func (p *ScriptedProposer) Reports() [][]core.ViolationReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([][]core.ViolationReport(nil), p.reports...)
}

type wireDecision struct {
	Decision     string            `json:"decision"`
	MagnitudePct *float64          `json:"magnitude_pct"`
	Confidence   float64           `json:"confidence"`
	Reasoning    map[string]string `json:"reasoning"`
	Parameters   map[string]any    `json:"parameters"`
	Secondary    []string          `json:"secondary_skills"`
}

// ParseJSON decodes {"decision": ..., "reasoning": {...}} replies.
func ParseJSON(raw string, dctx core.DecisionContext) (*core.Proposal, error) {
	var w wireDecision
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, &core.ParseError{Layer: "json", Reason: err.Error(), Raw: raw}
	}

	if w.Decision == "" {
		return nil, &core.ParseError{Layer: "json", Reason: "missing decision", Raw: raw}
	}

	return &core.Proposal{
		AgentID:         dctx.AgentID,
		SkillName:       w.Decision,
		MagnitudePct:    w.MagnitudePct,
		Confidence:      w.Confidence,
		Reasoning:       w.Reasoning,
		Parameters:      w.Parameters,
		SecondarySkills: w.Secondary,
		RawText:         raw,
		ParseLayer:      "json",
	}, nil
}

// Decision renders a scripted JSON reply.
func Decision(skill string, magnitude *float64) string {
	w := wireDecision{Decision: skill, MagnitudePct: magnitude, Confidence: 0.8,
		Reasoning: map[string]string{"rationale": "scripted"}}

	b, _ := json.Marshal(w)

	return string(b)
}
