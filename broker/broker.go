package broker

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/hupe1980/govmesh/arbiter"
	"github.com/hupe1980/govmesh/cache"
	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
	"github.com/hupe1980/govmesh/retry"
	"github.com/hupe1980/govmesh/validation"
)

// Deps are the collaborators a broker cannot run without.
type Deps struct {
	Builder   core.ContextBuilder
	Proposer  core.Proposer
	Validator validation.Validator
	Skills    core.SkillRegistry
	Executor  core.Executor
}

// Options configures a Broker.
type Options struct {
	// Retry holds the retry budgets; defaults to retry.DefaultOptions.
	Retry retry.Options
	// Cache enables the decision cache when set.
	Cache *cache.DecisionCache
	// Arbiter resolves cross-agent conflicts in RunPhase; nil approves all.
	Arbiter *arbiter.Arbiter
	// Audit receives one trace per committed step.
	Audit core.AuditSink
	// Workers bounds the phase worker pool; 1 runs agents sequentially.
	Workers int
	// FallbackOnUnknown substitutes the default skill when the proposer never
	// named a known skill. When false such steps are aborted instead.
	FallbackOnUnknown bool
	Logger            logging.Logger
}

// Broker is the decision-governance broker.
type Broker struct {
	deps       Deps
	controller *retry.Controller
	opts       Options
	logger     logging.Logger
}

// New creates a broker.
func New(deps Deps, optFns ...func(o *Options)) (*Broker, error) {
	opts := Options{
		Retry:             retry.DefaultOptions(),
		Workers:           1,
		FallbackOnUnknown: true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var missing []error

	if deps.Builder == nil {
		missing = append(missing, core.NewConfigurationError("broker", "context builder is required"))
	}

	if deps.Proposer == nil {
		missing = append(missing, core.NewConfigurationError("broker", "proposer is required"))
	}

	if deps.Validator == nil {
		missing = append(missing, core.NewConfigurationError("broker", "validator is required"))
	}

	if deps.Skills == nil {
		missing = append(missing, core.NewConfigurationError("broker", "skill registry is required"))
	}

	if deps.Executor == nil {
		missing = append(missing, core.NewConfigurationError("broker", "executor is required"))
	}

	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	if opts.Workers < 1 {
		opts.Workers = 1
	}

	logger := logging.OrNoOp(opts.Logger)

	if _, ok := logging.OrNoOp(opts.Retry.Logger).(logging.NoOpLogger); ok {
		opts.Retry.Logger = logger
	}

	retryOpts := opts.Retry

	return &Broker{
		deps:       deps,
		controller: retry.NewController(deps.Proposer, deps.Validator, func(o *retry.Options) { *o = retryOpts }),
		opts:       opts,
		logger:     logger,
	}, nil
}

// Options returns the effective options.
func (b *Broker) Options() Options { return b.opts }

// WithAudit returns a copy of the broker that writes traces to sink. The copy
// shares every collaborator with b.
func (b *Broker) WithAudit(sink core.AuditSink) *Broker {
	nb := *b
	nb.opts.Audit = sink

	return &nb
}

// Decision is the governed result of one agent-step before execution.
type Decision struct {
	Context     core.DecisionContext
	Fingerprint string
	CacheHit    bool
	Outcome     core.Outcome
	// Proposal is the last parsed proposal; nil when none was ever parsed.
	Proposal *core.Proposal
	Action   core.ApprovedAction
	Verdicts []core.Verdict
	History  []core.Attempt
	// Retry is nil for cache hits.
	Retry *retry.Result
	// ConfigErr is set when the fallback skill could not be resolved.
	ConfigErr error
	// Resolution is set once the arbiter decided on this step.
	Resolution *arbiter.Resolution
}

// AgentID is a shorthand for Context.AgentID.
func (d *Decision) AgentID() string { return d.Context.AgentID }

// Decide runs the worker unit for one agent-step. It returns an error only
// when ctx is done or the retry loop breaks its call bound.
func (b *Broker) Decide(ctx context.Context, dctx core.DecisionContext) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var fp string

	if b.opts.Cache != nil {
		var (
			hit *cache.Hit
			err error
		)

		fp, hit, err = b.opts.Cache.Lookup(ctx, dctx)
		if err != nil {
			b.logger.Warn("Fingerprinting failed, bypassing cache", "agent_id", dctx.AgentID, "error", err.Error())
		}

		if hit != nil {
			return b.fromCache(dctx, hit), nil
		}
	}

	res, err := b.controller.Run(ctx, dctx)
	if err != nil {
		return nil, fmt.Errorf("decide %s step %d: %w", dctx.AgentID, dctx.StepID, err)
	}

	d := b.assemble(dctx, res)
	d.Fingerprint = fp

	if b.opts.Cache != nil && d.Outcome.Approved() {
		if err := b.opts.Cache.Record(ctx, fp, dctx, d.Proposal, d.Outcome); err != nil {
			b.logger.Warn("Cache write failed", "agent_id", dctx.AgentID, "fingerprint", fp, "error", err.Error())
		}
	}

	b.logger.Debug("Decision assembled", "agent_id", dctx.AgentID, "step_id", dctx.StepID,
		"outcome", d.Outcome.String(), "skill", d.Action.SkillName, "calls", res.Calls)

	return d, nil
}

// Commit dispatches the decision's action exactly once and writes its audit
// trace. Executor errors become a failed execution result; audit failures are
// logged only.
func (b *Broker) Commit(ctx context.Context, d *Decision) core.TraceRecord {
	result, err := b.deps.Executor.Execute(ctx, d.Action)
	if err != nil {
		result = core.ExecutionResult{Success: false, Error: err.Error()}
	}

	rec := b.trace(d)

	if d.ConfigErr != nil {
		result.Success = false
		if result.Error == "" {
			result.Error = d.ConfigErr.Error()
		}
	}

	rec.Execution = &result

	if err := b.writeTrace(ctx, d, rec); err != nil {
		b.logger.Warn("Audit write failed", "agent_id", d.AgentID(), "step_id", d.Context.StepID, "error", err.Error())
	}

	return rec
}

// Step runs Decide and Commit for a single agent without arbitration.
func (b *Broker) Step(ctx context.Context, agentID string, stepID int, env map[string]any) (*Decision, core.TraceRecord, error) {
	dctx, err := b.deps.Builder.Build(ctx, agentID, stepID, env)
	if err != nil {
		return nil, core.TraceRecord{}, fmt.Errorf("build context for %s: %w", agentID, err)
	}

	d, err := b.Decide(ctx, dctx)
	if err != nil {
		return nil, core.TraceRecord{}, err
	}

	return d, b.Commit(ctx, d), nil
}

func (b *Broker) trace(d *Decision) core.TraceRecord {
	rec := core.TraceRecord{
		ID:            core.NewID(),
		AgentID:       d.AgentID(),
		AgentType:     d.Context.AgentType,
		StepID:        d.Context.StepID,
		Fingerprint:   d.Fingerprint,
		CacheHit:      d.CacheHit,
		Outcome:       d.Outcome,
		Proposal:      d.Proposal,
		Action:        d.Action,
		BlockingRules: core.NewBlockingRuleSet(d.Verdicts).IDs(),
		Timestamp:     time.Now(),
	}

	if r := d.Retry; r != nil {
		rec.FormatFailures = r.FormatFailures
		rec.GovernanceRetries = r.GovernanceRetries
		rec.Ledger = r.Ledger
		rec.Diagnostics = r.Diagnostics
	}

	if d.ConfigErr != nil {
		rec.Errors = append(rec.Errors, d.ConfigErr.Error())
	}

	if res := d.Resolution; res != nil {
		rec.CoordinationDenied = !res.Approved && !res.Unresolved
		rec.ConflictUnresolved = res.Unresolved
		rec.EventStatement = res.EventStatement
	}

	return rec
}

func (b *Broker) writeTrace(ctx context.Context, d *Decision, rec core.TraceRecord) error {
	if b.opts.Audit == nil {
		return nil
	}

	return b.opts.Audit.WriteTrace(ctx, d.Context.AgentType, rec, d.History)
}

func actionParameters(p *core.Proposal) map[string]any {
	if p == nil {
		return nil
	}

	params := maps.Clone(p.Parameters)

	if m, ok := p.Magnitude(); ok {
		if params == nil {
			params = map[string]any{}
		}

		params["magnitude_pct"] = m
	}

	return params
}
