package core

// DecisionContext is a read-only snapshot of everything a proposer sees for
// one agent-step. It must be stable enough to hash.
type DecisionContext struct {
	AgentID     string         `json:"agent_id"`
	AgentType   string         `json:"agent_type"`
	StepID      int            `json:"step_id"`
	AgentState  map[string]any `json:"agent_state"`
	Environment map[string]any `json:"environment"`
	// Prompt is the rendered proposer prompt; it is derived from the other
	// fields and excluded from the fingerprint.
	Prompt string `json:"-"`
}

// HashMaterial returns the fields that identify a decision situation. The
// agent id and step are excluded so identical situations share a fingerprint.
func (c DecisionContext) HashMaterial() map[string]any {
	return map[string]any{
		"agent_type":  c.AgentType,
		"agent_state": c.AgentState,
		"environment": c.Environment,
	}
}
