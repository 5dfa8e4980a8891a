package validation

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
)

// RuleIDContextCollision tags the diagnostic verdict emitted when agent and
// environment state share a key.
const RuleIDContextCollision = "context_key_collision"

// RuleIDRuleError tags the verdict emitted when a rule panics.
const RuleIDRuleError = "rule_error"

// Rule checks a proposal against a flattened validation context. A rule may
// emit zero, one or many verdicts.
type Rule interface {
	ID() string
	Check(ctx context.Context, p *core.Proposal, vctx map[string]any) []core.Verdict
}

// Validator is the narrow contract the retry controller and broker consume.
type Validator interface {
	Validate(ctx context.Context, p *core.Proposal, dctx core.DecisionContext) []core.Verdict
}

// Pipeline runs an ordered list of rules. It is safe for concurrent use as
// long as the rules are.
type Pipeline struct {
	rules  []Rule
	logger logging.Logger
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Logger logging.Logger
}

// NewPipeline creates a pipeline over the given rules in order.
func NewPipeline(rules []Rule, optFns ...func(o *PipelineOptions)) *Pipeline {
	opts := PipelineOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Pipeline{rules: slices.Clone(rules), logger: logging.OrNoOp(opts.Logger)}
}

// Rules returns the rule ids in evaluation order.
func (p *Pipeline) Rules() []string {
	ids := make([]string, len(p.rules))
	for i, r := range p.rules {
		ids[i] = r.ID()
	}

	return ids
}

// Validate runs every rule and returns the union of their verdicts.
func (p *Pipeline) Validate(ctx context.Context, prop *core.Proposal, dctx core.DecisionContext) []core.Verdict {
	vctx, collisions := FlattenContext(dctx.AgentState, dctx.Environment)

	var verdicts []core.Verdict

	if len(collisions) > 0 {
		p.logger.Warn("Validation context key collision, environment value wins",
			"agent_id", dctx.AgentID, "keys", collisions)

		warnings := make([]string, len(collisions))
		for i, k := range collisions {
			warnings[i] = fmt.Sprintf("context key %q present in agent and environment state; environment value used", k)
		}

		verdicts = append(verdicts, core.Verdict{
			Valid:    true,
			Warnings: warnings,
			Metadata: core.VerdictMetadata{RuleIDs: []string{RuleIDContextCollision}, Deterministic: true},
		})
	}

	for _, r := range p.rules {
		verdicts = append(verdicts, p.runRule(ctx, r, prop, vctx)...)
	}

	return verdicts
}

func (p *Pipeline) runRule(ctx context.Context, r Rule, prop *core.Proposal, vctx map[string]any) (out []core.Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("Rule panicked", "rule_id", r.ID(), "panic", fmt.Sprint(rec))
			out = []core.Verdict{{
				Valid:  false,
				Errors: []string{fmt.Sprintf("rule %s failed: %v", r.ID(), rec)},
				Metadata: core.VerdictMetadata{
					RuleIDs:       []string{r.ID(), RuleIDRuleError},
					Deterministic: true,
				},
			}}
		}
	}()

	return r.Check(ctx, prop, vctx)
}

// FlattenContext merges agent state and environment state into one map.
// Environment keys take precedence on collision; the colliding keys are
// returned sorted so the ambiguity stays diagnosable.
func FlattenContext(agentState, env map[string]any) (map[string]any, []string) {
	out := make(map[string]any, len(agentState)+len(env))
	for k, v := range agentState {
		out[k] = v
	}

	var collisions []string

	for k, v := range env {
		if _, ok := agentState[k]; ok {
			collisions = append(collisions, k)
		}

		out[k] = v
	}

	slices.Sort(collisions)

	return out, collisions
}

// FuncRule adapts a plain predicate into a Rule.
type FuncRule struct {
	RuleID string
	Fn     func(ctx context.Context, p *core.Proposal, vctx map[string]any) []core.Verdict
}

// ID implements Rule.
func (r FuncRule) ID() string { return r.RuleID }

// Check implements Rule.
func (r FuncRule) Check(ctx context.Context, p *core.Proposal, vctx map[string]any) []core.Verdict {
	return r.Fn(ctx, p, vctx)
}

func skillInScope(skills []string, skill string) bool {
	return len(skills) == 0 || slices.Contains(skills, skill)
}

func normalizeLabel(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
