package broker

import (
	"slices"
	"time"

	"github.com/hupe1980/govmesh/arbiter"
	"github.com/hupe1980/govmesh/cache"
	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/retry"
)

// RuleIDCoordinationDenied tags approved choices the arbiter overrode.
const RuleIDCoordinationDenied = "coordination_denied"

// RuleIDConflictUnresolved tags approved choices the arbiter reached no
// decision for.
const RuleIDConflictUnresolved = "conflict_unresolved"

// TierCache marks history entries served from the decision cache.
const TierCache = "cache"

func (b *Broker) fromCache(dctx core.DecisionContext, hit *cache.Hit) *Decision {
	d := &Decision{
		Context:     dctx,
		Fingerprint: hit.Fingerprint,
		CacheHit:    true,
		Outcome:     core.OutcomeApproved,
		Proposal:    hit.Proposal,
		Verdicts:    hit.Verdicts,
		History: []core.Attempt{{
			Tier: TierCache, Proposal: hit.Proposal, Verdicts: hit.Verdicts, Timestamp: time.Now(),
		}},
	}

	d.Action = b.approvedAction(d)

	return d
}

// assemble maps a retry result onto the terminal outcome and its action.
func (b *Broker) assemble(dctx core.DecisionContext, res *retry.Result) *Decision {
	d := &Decision{
		Context:  dctx,
		Proposal: res.Proposal,
		Verdicts: res.Verdicts,
		History:  res.History,
		Retry:    res,
	}

	switch {
	case res.Status == retry.StatusValidated:
		d.Outcome = core.OutcomeApproved
		if res.GovernanceRetries > 0 {
			d.Outcome = core.OutcomeRetrySuccess
		}

		d.Action = b.approvedAction(d)

		return d
	case res.Proposal == nil:
		b.abort(d)
		return d
	case b.deps.Skills.Exists(res.Proposal.SkillName):
		d.Outcome = core.OutcomeRejected
	case b.opts.FallbackOnUnknown:
		d.Outcome = core.OutcomeRejectedFallback
	default:
		b.abort(d)
		return d
	}

	b.logger.Info("Proposal rejected, dispatching fallback",
		"agent_id", dctx.AgentID, "step_id", dctx.StepID, "outcome", d.Outcome.String(),
		"status", res.Status.String(), "choice", res.Proposal.SkillName, "rule_ids", res.Blocking())

	d.Action = b.fallbackAction(d)

	return d
}

func (b *Broker) approvedAction(d *Decision) core.ApprovedAction {
	return core.ApprovedAction{
		AgentID:          d.AgentID(),
		StepID:           d.Context.StepID,
		SkillName:        d.Proposal.SkillName,
		ApprovalStatus:   d.Outcome,
		Verdicts:         d.Verdicts,
		ExecutionMapping: b.deps.Skills.ExecutionMapping(d.Proposal.SkillName),
		Parameters:       actionParameters(d.Proposal),
	}
}

// fallbackAction points at the registry's default skill. A missing default is
// recorded on the decision and the action is dispatched anyway.
func (b *Broker) fallbackAction(d *Decision) core.ApprovedAction {
	fallback := b.deps.Skills.DefaultSkill()

	switch {
	case fallback == "":
		d.ConfigErr = core.NewConfigurationError("broker", "no fallback skill configured")
	case !b.deps.Skills.Exists(fallback):
		d.ConfigErr = core.NewConfigurationError("broker", "fallback skill %q is not registered", fallback)
	}

	if d.ConfigErr != nil {
		b.logger.Error("Fallback skill unavailable", "agent_id", d.AgentID(), "error", d.ConfigErr.Error())
	}

	return core.ApprovedAction{
		AgentID:          d.AgentID(),
		StepID:           d.Context.StepID,
		SkillName:        fallback,
		ApprovalStatus:   d.Outcome,
		Verdicts:         d.Verdicts,
		ExecutionMapping: b.deps.Skills.ExecutionMapping(fallback),
	}
}

func (b *Broker) abort(d *Decision) {
	d.Outcome = core.OutcomeAborted
	d.Action = core.ApprovedAction{
		AgentID:        d.AgentID(),
		StepID:         d.Context.StepID,
		ApprovalStatus: core.OutcomeAborted,
		Verdicts:       d.Verdicts,
		NoOp:           true,
	}

	b.logger.Warn("Step aborted, dispatching no-op", "agent_id", d.AgentID(), "step_id", d.Context.StepID)
}

// deny applies an arbiter denial to an approved decision. Unresolved
// proposals are denied too, under their own rule id.
func (b *Broker) deny(d *Decision, res arbiter.Resolution) {
	ruleID, reason := RuleIDCoordinationDenied, res.Reason

	switch {
	case res.Unresolved:
		ruleID, reason = RuleIDConflictUnresolved, "arbitration reached no decision"
	case reason == "":
		reason = "denied by coordination"
	}

	d.Verdicts = append(slices.Clone(d.Verdicts), core.Fail(ruleID, false, reason))
	d.Outcome = core.OutcomeRejected
	d.Action = b.fallbackAction(d)
}
