package core

import "fmt"

// Outcome is the terminal state of the per-step decision state machine.
type Outcome int

const (
	// OutcomeApproved means the first proposal passed every rule.
	OutcomeApproved Outcome = iota
	// OutcomeRetrySuccess means a proposal passed after one or more governance retries.
	OutcomeRetrySuccess
	// OutcomeRejected means an explicit proposer choice was rejected and the
	// fallback skill was dispatched instead.
	OutcomeRejected
	// OutcomeRejectedFallback means the proposer never produced a parseable or
	// known choice and a generic default was substituted.
	OutcomeRejectedFallback
	// OutcomeAborted means format repair was exhausted before any proposal was
	// produced; the dispatched action is a no-op.
	OutcomeAborted
)

// OutcomeUncertain is the historical name of OutcomeRejectedFallback.
const OutcomeUncertain = OutcomeRejectedFallback

// String returns the audit representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "APPROVED"
	case OutcomeRetrySuccess:
		return "RETRY_SUCCESS"
	case OutcomeRejected:
		return "REJECTED"
	case OutcomeRejectedFallback:
		return "REJECTED_FALLBACK"
	case OutcomeAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "APPROVED":
		*o = OutcomeApproved
	case "RETRY_SUCCESS":
		*o = OutcomeRetrySuccess
	case "REJECTED":
		*o = OutcomeRejected
	case "REJECTED_FALLBACK", "UNCERTAIN":
		*o = OutcomeRejectedFallback
	case "ABORTED":
		*o = OutcomeAborted
	default:
		return fmt.Errorf("unknown outcome %q", string(b))
	}

	return nil
}

// Approved reports whether the proposer's own choice is executed.
func (o Outcome) Approved() bool { return o == OutcomeApproved || o == OutcomeRetrySuccess }

// ApprovedAction is the only object the execution substrate may consume.
// Exactly one is produced per agent per step and its ApprovalStatus always
// matches the step Outcome.
type ApprovedAction struct {
	AgentID          string         `json:"agent_id"`
	StepID           int            `json:"step_id"`
	SkillName        string         `json:"skill_name"`
	ApprovalStatus   Outcome        `json:"approval_status"`
	Verdicts         []Verdict      `json:"verdicts,omitempty"`
	ExecutionMapping string         `json:"execution_mapping,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	// NoOp marks actions that must not change world state (ABORTED steps).
	NoOp bool `json:"no_op,omitempty"`
}

// ExecutionResult is what the execution substrate reports for one action.
type ExecutionResult struct {
	Success       bool           `json:"success"`
	StateChanges  map[string]any `json:"state_changes,omitempty"`
	ActionContext map[string]any `json:"action_context,omitempty"`
	Error         string         `json:"error,omitempty"`
}
