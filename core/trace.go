package core

import "time"

// Attempt is one entry of a step's verdict history.
type Attempt struct {
	Index     int       `json:"index"`
	Tier      string    `json:"tier"` // "initial", "format_repair" or "governance_retry"
	Proposal  *Proposal `json:"proposal,omitempty"`
	Verdicts  []Verdict `json:"verdicts,omitempty"`
	ParseErr  string    `json:"parse_error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Diagnostics is emitted when governance retries are exhausted so the
// rejection is explainable post-hoc.
type Diagnostics struct {
	FinalChoice string            `json:"final_choice,omitempty"`
	RuleIDs     []string          `json:"rule_ids,omitempty"`
	Constructs  map[string]string `json:"constructs,omitempty"`
	EarlyExit   bool              `json:"early_exit"`
}

// TraceRecord is the audit record written once per agent-step.
type TraceRecord struct {
	ID                string           `json:"id"`
	RunID             string           `json:"run_id,omitempty"`
	AgentID           string           `json:"agent_id"`
	AgentType         string           `json:"agent_type"`
	StepID            int              `json:"step_id"`
	Fingerprint       string           `json:"fingerprint,omitempty"`
	CacheHit          bool             `json:"cache_hit"`
	Outcome           Outcome          `json:"outcome"`
	Proposal          *Proposal        `json:"proposal,omitempty"`
	Action            ApprovedAction   `json:"action"`
	Execution         *ExecutionResult `json:"execution,omitempty"`
	BlockingRules     []string         `json:"blocking_rules,omitempty"`
	FormatFailures    int              `json:"format_failures"`
	GovernanceRetries int              `json:"governance_retries"`
	Ledger            CostLedger       `json:"ledger"`
	Diagnostics       *Diagnostics     `json:"diagnostics,omitempty"`
	// CoordinationDenied is set when arbitration overrode an approved choice.
	CoordinationDenied bool `json:"coordination_denied,omitempty"`
	// ConflictUnresolved is set when arbitration reached no decision for the
	// choice; the step is denied and runs the fallback skill.
	ConflictUnresolved bool      `json:"conflict_unresolved,omitempty"`
	EventStatement     string    `json:"event_statement,omitempty"`
	Errors             []string  `json:"errors,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}
