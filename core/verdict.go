package core

import (
	"slices"
	"strings"
)

// VerdictMetadata describes which rules produced a verdict and whether the
// triggering condition can change across retries.
type VerdictMetadata struct {
	RuleIDs []string `json:"rule_ids"`
	// Deterministic is true when the condition depends only on static or
	// historical agent attributes. The retry early-exit relies on it.
	Deterministic bool              `json:"deterministic"`
	Suggestion    string            `json:"suggestion,omitempty"`
	Constructs    map[string]string `json:"constructs,omitempty"`
}

// Verdict is the result of one rule check against a proposal.
type Verdict struct {
	Valid    bool            `json:"valid"`
	Errors   []string        `json:"errors,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Metadata VerdictMetadata `json:"metadata"`
}

// Pass builds a valid verdict for the given rule.
func Pass(ruleID string) Verdict {
	return Verdict{Valid: true, Metadata: VerdictMetadata{RuleIDs: []string{ruleID}}}
}

// Fail builds a blocking verdict for the given rule.
func Fail(ruleID string, deterministic bool, msg string) Verdict {
	return Verdict{
		Valid:  false,
		Errors: []string{msg},
		Metadata: VerdictMetadata{
			RuleIDs:       []string{ruleID},
			Deterministic: deterministic,
		},
	}
}

// WithSuggestion returns a copy carrying a remediation hint for retry prompts.
func (v Verdict) WithSuggestion(s string) Verdict {
	v.Metadata.Suggestion = s
	return v
}

// Message joins the verdict errors into a single line.
func (v Verdict) Message() string { return strings.Join(v.Errors, "; ") }

// AllValid reports whether no verdict in the set is blocking.
func AllValid(verdicts []Verdict) bool {
	for _, v := range verdicts {
		if !v.Valid {
			return false
		}
	}

	return true
}

// Blocking returns the invalid verdicts in order.
func Blocking(verdicts []Verdict) []Verdict {
	var out []Verdict

	for _, v := range verdicts {
		if !v.Valid {
			out = append(out, v)
		}
	}

	return out
}

// BlockingRuleSet is the set of rule ids with an invalid verdict. It is used
// only for early-exit comparison and is never persisted.
type BlockingRuleSet map[string]struct{}

// NewBlockingRuleSet extracts the blocking rule ids from a verdict set.
func NewBlockingRuleSet(verdicts []Verdict) BlockingRuleSet {
	set := BlockingRuleSet{}

	for _, v := range verdicts {
		if v.Valid {
			continue
		}

		for _, id := range v.Metadata.RuleIDs {
			set[id] = struct{}{}
		}
	}

	return set
}

// Equal reports whether both sets contain the same rule ids.
func (s BlockingRuleSet) Equal(other BlockingRuleSet) bool {
	if len(s) != len(other) {
		return false
	}

	for id := range s {
		if _, ok := other[id]; !ok {
			return false
		}
	}

	return true
}

// IDs returns the sorted rule ids.
func (s BlockingRuleSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}
