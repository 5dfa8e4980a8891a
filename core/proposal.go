package core

import "maps"

// Proposal is the structured form of one proposer output for one agent-step.
// A Proposal is immutable once created; retries produce new instances and the
// With* helpers return modified copies.
type Proposal struct {
	AgentID         string            `json:"agent_id"`
	SkillName       string            `json:"skill_name"`
	Reasoning       map[string]string `json:"reasoning,omitempty"`
	MagnitudePct    *float64          `json:"magnitude_pct,omitempty"`
	Confidence      float64           `json:"confidence"`
	Parameters      map[string]any    `json:"parameters,omitempty"`
	SecondarySkills []string          `json:"secondary_skills,omitempty"`
	RawText         string            `json:"raw_text,omitempty"`
	ParseLayer      string            `json:"parse_layer,omitempty"`
	ParseWarnings   []string          `json:"parse_warnings,omitempty"`
}

// Clone returns a deep copy of the proposal.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}

	cp := *p
	cp.Reasoning = maps.Clone(p.Reasoning)
	cp.Parameters = maps.Clone(p.Parameters)

	if p.MagnitudePct != nil {
		m := *p.MagnitudePct
		cp.MagnitudePct = &m
	}

	cp.SecondarySkills = append([]string(nil), p.SecondarySkills...)
	cp.ParseWarnings = append([]string(nil), p.ParseWarnings...)

	return &cp
}

// WithAgent returns a copy bound to a different agent. Used when a cached
// proposal is replayed for an agent in an identical situation.
func (p *Proposal) WithAgent(agentID string) *Proposal {
	cp := p.Clone()
	cp.AgentID = agentID

	return cp
}

// WithWarning returns a copy with an additional parse warning.
func (p *Proposal) WithWarning(w string) *Proposal {
	cp := p.Clone()
	cp.ParseWarnings = append(cp.ParseWarnings, w)

	return cp
}

// Magnitude returns the magnitude percentage and whether it was set.
func (p *Proposal) Magnitude() (float64, bool) {
	if p == nil || p.MagnitudePct == nil {
		return 0, false
	}

	return *p.MagnitudePct, true
}

// SchemaDocument returns the proposal parameters merged with magnitude_pct,
// which is the document validated against a skill's output schema.
func (p *Proposal) SchemaDocument() map[string]any {
	doc := make(map[string]any, len(p.Parameters)+1)
	for k, v := range p.Parameters {
		doc[k] = v
	}

	if m, ok := p.Magnitude(); ok {
		doc["magnitude_pct"] = m
	}

	return doc
}

// MissingReasoning returns the required reasoning keys that are absent or empty.
func (p *Proposal) MissingReasoning(required []string) []string {
	var missing []string

	for _, k := range required {
		if p.Reasoning[k] == "" {
			missing = append(missing, k)
		}
	}

	return missing
}

// Float is a small helper for constructing optional magnitudes.
func Float(v float64) *float64 { return &v }
