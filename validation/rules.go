package validation

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/govmesh/core"
)

// RuleIDUnknownSkill tags proposals naming a skill the registry does not know.
const RuleIDUnknownSkill = "unknown_skill"

// SkillRule runs the skill registry checks: existence, preconditions, output
// schema and composite conflicts.
type SkillRule struct {
	Registry core.SkillRegistry
}

// ID implements Rule.
func (r SkillRule) ID() string { return "skill_registry" }

// Check implements Rule.
func (r SkillRule) Check(_ context.Context, p *core.Proposal, vctx map[string]any) []core.Verdict {
	if p.SkillName == "" || !r.Registry.Exists(p.SkillName) {
		// The skill label comes from proposer output, so another attempt may fix it.
		return []core.Verdict{core.Fail(RuleIDUnknownSkill, false,
			fmt.Sprintf("skill %q is not registered", p.SkillName)).
			WithSuggestion("choose one of the registered skills")}
	}

	var verdicts []core.Verdict

	verdicts = append(verdicts, r.Registry.CheckPreconditions(p, vctx)...)

	if v := r.Registry.CheckOutputSchema(p); v != nil {
		verdicts = append(verdicts, *v)
	}

	if len(p.SecondarySkills) > 0 {
		skills := append([]string{p.SkillName}, p.SecondarySkills...)
		if v := r.Registry.CompositeConflicts(skills); v != nil {
			verdicts = append(verdicts, *v)
		}
	}

	if len(verdicts) == 0 {
		verdicts = append(verdicts, core.Pass(r.ID()))
	}

	return verdicts
}

// ThresholdRule blocks skills when the proposer's own construct rating (for
// example a threat appraisal label) falls in a given set. Because the label is
// proposer output, its verdicts are non-deterministic.
type ThresholdRule struct {
	RuleID        string
	Construct     string
	Labels        []string
	BlockedSkills []string
	Message       string
	Suggestion    string
}

// ID implements Rule.
func (r ThresholdRule) ID() string { return r.RuleID }

// Check implements Rule.
func (r ThresholdRule) Check(_ context.Context, p *core.Proposal, _ map[string]any) []core.Verdict {
	label, ok := p.Reasoning[r.Construct]
	if !ok || !slices.Contains(r.BlockedSkills, p.SkillName) {
		return nil
	}

	norm := normalizeLabel(label)
	matched := slices.ContainsFunc(r.Labels, func(l string) bool { return normalizeLabel(l) == norm })

	if !matched {
		return []core.Verdict{core.Pass(r.RuleID)}
	}

	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("%s=%s is inconsistent with skill %s", r.Construct, label, p.SkillName)
	}

	v := core.Fail(r.RuleID, false, msg).WithSuggestion(r.Suggestion)
	v.Metadata.Constructs = map[string]string{r.Construct: label}

	return []core.Verdict{v}
}
