package validation

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/hupe1980/govmesh/core"
)

// CELEvaluator compiles and caches CEL predicates over a proposal and a
// validation context. Expressions see two variables: `proposal` and `context`.
type CELEvaluator struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

// NewCELEvaluator creates an evaluator with the standard environment.
func NewCELEvaluator() (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("proposal", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CELEvaluator{env: env, prgCache: make(map[string]cel.Program)}, nil
}

// Compile checks an expression and caches its program.
func (e *CELEvaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

func (e *CELEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()

	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}

	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}

	e.prgCache[expr] = p

	return p, nil
}

// Eval evaluates a boolean expression.
func (e *CELEvaluator) Eval(expr string, p *core.Proposal, vctx map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"proposal": ProposalVars(p),
		"context":  vctx,
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}

	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}

	return val, nil
}

// ProposalVars exposes a proposal to CEL expressions.
func ProposalVars(p *core.Proposal) map[string]any {
	reasoning := make(map[string]any, len(p.Reasoning))
	for k, v := range p.Reasoning {
		reasoning[k] = v
	}

	vars := map[string]any{
		"agent_id":   p.AgentID,
		"skill":      p.SkillName,
		"reasoning":  reasoning,
		"confidence": p.Confidence,
		"parameters": p.SchemaDocument(),
	}

	if m, ok := p.Magnitude(); ok {
		vars["magnitude_pct"] = m
	}

	return vars
}

// CELRule passes when Expr evaluates to true. Evaluation errors (for example a
// missing context attribute) fail closed.
type CELRule struct {
	RuleID        string
	Expr          string
	Skills        []string // empty means every skill
	Deterministic bool
	Message       string
	Suggestion    string
	Evaluator     *CELEvaluator
}

// ID implements Rule.
func (r CELRule) ID() string { return r.RuleID }

// Check implements Rule.
func (r CELRule) Check(_ context.Context, p *core.Proposal, vctx map[string]any) []core.Verdict {
	if !skillInScope(r.Skills, p.SkillName) {
		return nil
	}

	ok, err := r.Evaluator.Eval(r.Expr, p, vctx)
	if err != nil {
		return []core.Verdict{core.Fail(r.RuleID, r.Deterministic, fmt.Sprintf("%s: %v", r.RuleID, err))}
	}

	if ok {
		return []core.Verdict{core.Pass(r.RuleID)}
	}

	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("condition %q not satisfied for skill %s", r.Expr, p.SkillName)
	}

	return []core.Verdict{core.Fail(r.RuleID, r.Deterministic, msg).WithSuggestion(r.Suggestion)}
}
