package testutil

import "github.com/hupe1980/govmesh/core"

// ProposalBuilder constructs proposals fluently.
//
//	p := NewProposalBuilder("farm_1").Skill("increase_demand").Magnitude(10).Build()
type ProposalBuilder struct {
	p core.Proposal
}

// NewProposalBuilder creates a builder for an agent.
func NewProposalBuilder(agentID string) *ProposalBuilder {
	return &ProposalBuilder{p: core.Proposal{AgentID: agentID, Confidence: 0.8}}
}

// Skill sets the skill name (chainable).
func (b *ProposalBuilder) Skill(s string) *ProposalBuilder { b.p.SkillName = s; return b }

// Magnitude sets magnitude_pct (chainable).
func (b *ProposalBuilder) Magnitude(m float64) *ProposalBuilder {
	b.p.MagnitudePct = core.Float(m)
	return b
}

// Reason sets a reasoning entry (chainable).
func (b *ProposalBuilder) Reason(k, v string) *ProposalBuilder {
	if b.p.Reasoning == nil {
		b.p.Reasoning = map[string]string{}
	}

	b.p.Reasoning[k] = v

	return b
}

// Param sets a parameter (chainable).
func (b *ProposalBuilder) Param(k string, v any) *ProposalBuilder {
	if b.p.Parameters == nil {
		b.p.Parameters = map[string]any{}
	}

	b.p.Parameters[k] = v

	return b
}

// Build returns the proposal.
func (b *ProposalBuilder) Build() *core.Proposal { return b.p.Clone() }
