package arbiter

import (
	"time"

	"github.com/hupe1980/govmesh/core"
)

// ActionProposal is one agent's action submitted for arbitration.
type ActionProposal struct {
	AgentID   string         `json:"agent_id"`
	AgentType string         `json:"agent_type"`
	StepID    int            `json:"step_id"`
	SkillName string         `json:"skill_name"`
	Proposal  *core.Proposal `json:"proposal,omitempty"`
	Outcome   core.Outcome   `json:"outcome"`
}

// ResourceConflict records agents competing for a limited resource.
type ResourceConflict struct {
	Resource string   `json:"resource"`
	Limit    int      `json:"limit"`
	AgentIDs []string `json:"agent_ids"`
}

// Decision is a strategy's verdict for one agent.
type Decision struct {
	AgentID  string `json:"agent_id"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Resolution is the broadcast unit produced for every submitted proposal.
type Resolution struct {
	ID             string         `json:"id"`
	Phase          int            `json:"phase"`
	AgentID        string         `json:"agent_id"`
	Original       ActionProposal `json:"original_proposal"`
	Approved       bool           `json:"approved"`
	Reason         string         `json:"reason,omitempty"`
	EventStatement string         `json:"event_statement"`
	Unresolved     bool           `json:"unresolved,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Artifact is a typed submission merged into the round bundle (for example a
// policy decision or a market update).
type Artifact struct {
	Kind    string         `json:"kind"`
	AgentID string         `json:"agent_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Finding is a non-gating observation from a cross-agent check.
type Finding struct {
	Check    string   `json:"check"`
	Severity string   `json:"severity"`
	Message  string   `json:"message"`
	AgentIDs []string `json:"agent_ids,omitempty"`
}

// PhaseReport summarizes one Resolve call.
type PhaseReport struct {
	Phase       int                `json:"phase"`
	Strategy    string             `json:"strategy"`
	Resolutions []Resolution       `json:"resolutions"`
	Conflicts   []ResourceConflict `json:"conflicts,omitempty"`
	Unresolved  []string           `json:"unresolved,omitempty"`
	Findings    []Finding          `json:"findings,omitempty"`
	Errors      []string           `json:"errors,omitempty"`
}

// Lookup returns the resolution for an agent.
func (r *PhaseReport) Lookup(agentID string) (Resolution, bool) {
	for _, res := range r.Resolutions {
		if res.AgentID == agentID {
			return res, true
		}
	}

	return Resolution{}, false
}

// Denied returns the resolutions that were not approved.
func (r *PhaseReport) Denied() []Resolution {
	var out []Resolution

	for _, res := range r.Resolutions {
		if !res.Approved {
			out = append(out, res)
		}
	}

	return out
}
