package core

import "context"

// Proposer is the external, non-deterministic decision source (typically an
// LLM behind an adapter).
type Proposer interface {
	// Invoke sends the prompt and returns the raw text plus call statistics.
	// Timeouts surface as ordinary errors and are repaired as format failures.
	Invoke(ctx context.Context, prompt string) (string, CallStats, error)
	// Parse turns raw text into a Proposal. A nil proposal (or a *ParseError)
	// means the output was unparsable.
	Parse(raw string, dctx DecisionContext) (*Proposal, error)
	// FormatRetryPrompt appends a bounded violation report to the original prompt.
	FormatRetryPrompt(original string, reports []ViolationReport, maxReports int) string
}

// ViolationReport is one entry of the structured report handed back to the
// proposer on a governance retry; there is one per distinct rule id.
type ViolationReport struct {
	RuleID        string   `json:"rule_id"`
	Messages      []string `json:"messages"`
	Suggestion    string   `json:"suggestion,omitempty"`
	Deterministic bool     `json:"deterministic"`
}

// ContextBuilder produces the read-only decision context for an agent-step.
type ContextBuilder interface {
	Build(ctx context.Context, agentID string, stepID int, env map[string]any) (DecisionContext, error)
}

// Executor is the deterministic execution substrate.
type Executor interface {
	Execute(ctx context.Context, action ApprovedAction) (ExecutionResult, error)
}

// AuditSink receives exactly one trace per agent-step. Writes are
// fire-and-forget: the broker logs but never blocks on errors.
type AuditSink interface {
	WriteTrace(ctx context.Context, agentType string, record TraceRecord, history []Attempt) error
}

// SkillRegistry describes the skills the execution substrate understands.
type SkillRegistry interface {
	Exists(skill string) bool
	DefaultSkill() string
	ExecutionMapping(skill string) string
	// CheckPreconditions returns nil when every precondition holds.
	CheckPreconditions(p *Proposal, vctx map[string]any) []Verdict
	// CheckOutputSchema returns nil when the proposal satisfies the skill's schema.
	CheckOutputSchema(p *Proposal) *Verdict
	// CompositeConflicts returns nil when the skills may be combined.
	CompositeConflicts(skills []string) *Verdict
}

// MemoryStore keeps per-agent memory; broadcast event statements end up here.
type MemoryStore interface {
	Get(agentID string) (map[string]any, error)
	Put(agentID string, delta map[string]any) error
	Search(agentID string, query string, limit int) ([]SearchResult, error)
	Store(agentID string, content string, metadata map[string]any) error
	Delete(agentID string, memoryID string) error
}

// SearchResult represents a retrieved memory item.
type SearchResult struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]any
}

// ArtifactStore persists opaque artifacts scoped by round.
type ArtifactStore interface {
	Save(scope, artifactID string, data []byte) error
	Get(scope, artifactID string) ([]byte, error)
	List(scope string) ([]string, error)
	Delete(scope, artifactID string) error
}
