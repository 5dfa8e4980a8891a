package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
	"github.com/hupe1980/govmesh/validation"
)

// Status is the terminal state of one retry-controlled step.
type Status int

const (
	// StatusValidated means a proposal passed every rule.
	StatusValidated Status = iota
	// StatusFormatExhausted means the format repair budget ran out.
	StatusFormatExhausted
	// StatusGovernanceExhausted means the governance retry budget ran out.
	StatusGovernanceExhausted
	// StatusEarlyExit means the same deterministic violations repeated.
	StatusEarlyExit
)

func (s Status) String() string {
	switch s {
	case StatusValidated:
		return "validated"
	case StatusFormatExhausted:
		return "format_exhausted"
	case StatusGovernanceExhausted:
		return "governance_exhausted"
	case StatusEarlyExit:
		return "early_exit"
	default:
		return "unknown"
	}
}

// Attempt tiers recorded in the verdict history.
const (
	TierInitial         = "initial"
	TierFormatRepair    = "format_repair"
	TierGovernanceRetry = "governance_retry"
)

// Options configures the controller budgets.
type Options struct {
	// FormatRepairAttempts is the format repair budget F, shared across the step.
	FormatRepairAttempts int
	// MaxRetries is the governance retry budget R.
	MaxRetries int
	// MaxReports bounds the violation reports included in a retry prompt.
	MaxReports int
	// RequiredReasoning lists reasoning keys whose absence is a format failure.
	RequiredReasoning []string
	Logger            logging.Logger
}

// DefaultOptions returns F=2, R=3, MaxReports=3.
func DefaultOptions() Options {
	return Options{
		FormatRepairAttempts: 2,
		MaxRetries:           3,
		MaxReports:           3,
		Logger:               logging.NoOpLogger{},
	}
}

// Result is the outcome of Run.
type Result struct {
	Status Status
	// Proposal is the last successfully parsed proposal, nil if none ever parsed.
	Proposal          *core.Proposal
	Verdicts          []core.Verdict
	FormatFailures    int
	GovernanceRetries int
	Calls             int
	Ledger            core.CostLedger
	History           []core.Attempt
	Diagnostics       *core.Diagnostics
}

// Blocking returns the sorted blocking rule ids of the final verdicts.
func (r *Result) Blocking() []string {
	return core.NewBlockingRuleSet(r.Verdicts).IDs()
}

// Controller drives the two-tier retry loop for one agent-step: format repair
// for unparsable output and governance retry for rule violations.
type Controller struct {
	proposer  core.Proposer
	validator validation.Validator
	opts      Options
}

// NewController creates a controller.
func NewController(proposer core.Proposer, validator validation.Validator, optFns ...func(o *Options)) *Controller {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Controller{proposer: proposer, validator: validator, opts: opts}
}

// Options returns the effective options.
func (c *Controller) Options() Options { return c.opts }

// MaxCalls is the hard bound on proposer calls per step: F + R + 1.
func (c *Controller) MaxCalls() int {
	return c.opts.FormatRepairAttempts + c.opts.MaxRetries + 1
}

// Run executes the retry loop. An error is returned only for context
// cancellation or a broken call bound; every other failure mode is a Status.
func (c *Controller) Run(ctx context.Context, dctx core.DecisionContext) (*Result, error) {
	var (
		res          = &Result{}
		budget       = NewCallBudget(c.MaxCalls())
		basePrompt   = dctx.Prompt
		prompt       = dctx.Prompt
		tier         = TierInitial
		prevBlocking core.BlockingRuleSet
		logger       = logging.ForAgent(c.opts.Logger, dctx.AgentID, dctx.StepID)
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := budget.Take(); err != nil {
			return nil, err
		}

		prop, parseErr := c.attempt(ctx, prompt, dctx, res)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if parseErr != nil {
			res.FormatFailures++
			res.History = append(res.History, core.Attempt{
				Index: len(res.History), Tier: tier, ParseErr: parseErr.Error(), Timestamp: time.Now(),
			})

			logger.Warn("Proposer output unusable", "format_failures", res.FormatFailures, "error", parseErr.Error())

			if res.FormatFailures > c.opts.FormatRepairAttempts {
				res.Status = StatusFormatExhausted
				res.Diagnostics = c.diagnostics(res, false)

				return res, nil
			}

			tier = TierFormatRepair
			prompt = formatRepairPrompt(basePrompt, parseErr)

			logRetry(logger, tier, res.FormatFailures, nil)

			continue
		}

		verdicts := c.validator.Validate(ctx, prop, dctx)
		res.Proposal = prop
		res.Verdicts = verdicts
		res.History = append(res.History, core.Attempt{
			Index: len(res.History), Tier: tier, Proposal: prop, Verdicts: verdicts, Timestamp: time.Now(),
		})

		if core.AllValid(verdicts) {
			res.Status = StatusValidated
			return res, nil
		}

		blocking := core.NewBlockingRuleSet(verdicts)

		if res.GovernanceRetries > 0 && blocking.Equal(prevBlocking) && allDeterministic(verdicts) {
			logger.Info("Deterministic violations repeated, stopping early", "rule_ids", blocking.IDs())

			res.Status = StatusEarlyExit
			res.Diagnostics = c.diagnostics(res, true)

			return res, nil
		}

		if res.GovernanceRetries >= c.opts.MaxRetries {
			res.Status = StatusGovernanceExhausted
			res.Diagnostics = c.diagnostics(res, false)

			return res, nil
		}

		res.GovernanceRetries++
		prevBlocking = blocking

		logRetry(logger, TierGovernanceRetry, res.GovernanceRetries, blocking.IDs())

		reports := BuildReports(verdicts, c.opts.MaxReports)
		basePrompt = c.proposer.FormatRetryPrompt(dctx.Prompt, reports, c.opts.MaxReports)
		prompt = basePrompt
		tier = TierGovernanceRetry
	}
}

// attempt performs one proposer call. A returned error is a format failure:
// unusable output, missing reasoning or a failed call.
func (c *Controller) attempt(ctx context.Context, prompt string, dctx core.DecisionContext, res *Result) (*core.Proposal, error) {
	raw, stats, err := c.proposer.Invoke(ctx, prompt)
	res.Calls++
	res.Ledger.Add(stats)

	if err != nil {
		return nil, fmt.Errorf("proposer call failed: %w", err)
	}

	prop, err := c.proposer.Parse(raw, dctx)
	if err != nil {
		return nil, err
	}

	if prop == nil {
		return nil, &core.ParseError{Reason: "no proposal extracted", Raw: raw}
	}

	if missing := prop.MissingReasoning(c.opts.RequiredReasoning); len(missing) > 0 {
		return nil, &core.ParseError{
			Layer:  prop.ParseLayer,
			Reason: "missing required reasoning: " + strings.Join(missing, ", "),
			Raw:    raw,
		}
	}

	return prop, nil
}

func (c *Controller) diagnostics(res *Result, earlyExit bool) *core.Diagnostics {
	d := &core.Diagnostics{EarlyExit: earlyExit, RuleIDs: res.Blocking()}

	if res.Proposal != nil {
		d.FinalChoice = res.Proposal.SkillName
	}

	for _, v := range core.Blocking(res.Verdicts) {
		for k, val := range v.Metadata.Constructs {
			if d.Constructs == nil {
				d.Constructs = map[string]string{}
			}

			d.Constructs[k] = val
		}
	}

	return d
}

func logRetry(logger logging.Logger, tier string, attempt int, ruleIDs []string) {
	if bl, ok := logger.(*logging.BrokerLogger); ok {
		bl.LogRetry(tier, attempt, ruleIDs)
		return
	}

	logger.Info("Retrying proposal", "tier", tier, "attempt", attempt, "rule_ids", ruleIDs)
}

func allDeterministic(verdicts []core.Verdict) bool {
	for _, v := range core.Blocking(verdicts) {
		if !v.Metadata.Deterministic {
			return false
		}
	}

	return true
}
