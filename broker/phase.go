package broker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/govmesh/arbiter"
	"github.com/hupe1980/govmesh/audit"
	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
	"golang.org/x/sync/errgroup"
)

// Phase is one batch of agent-steps closed by a single arbitration.
type Phase struct {
	ID     int
	Agents []string
	// Env overrides environment keys for every agent in this phase.
	Env map[string]any
	// Shared is handed to the arbitration strategy.
	Shared map[string]any
}

// AgentFailure records an agent excluded from a phase.
type AgentFailure struct {
	AgentID string
	Err     error
}

// PhaseResult is everything a phase produced.
type PhaseResult struct {
	Phase int
	// Decisions and Records are in input order and skip failed agents.
	Decisions []*Decision
	Records   []core.TraceRecord
	Failures  []AgentFailure
	// Report is nil when no arbiter is configured.
	Report   *arbiter.PhaseReport
	Duration time.Duration
}

// Record returns the trace of an agent.
func (r *PhaseResult) Record(agentID string) (core.TraceRecord, bool) {
	for _, rec := range r.Records {
		if rec.AgentID == agentID {
			return rec, true
		}
	}

	return core.TraceRecord{}, false
}

// PhaseRecorder is implemented by audit sinks that also count phases.
type PhaseRecorder interface {
	RecordPhase(ctx context.Context, p audit.PhaseStats)
}

var _ PhaseRecorder = (*audit.Collector)(nil)

// RunPhase decides every agent on the worker pool, waits for all of them,
// arbitrates and commits. Repeated agent ids are recorded as failures and run
// once. It returns an error only when ctx is done.
func (b *Broker) RunPhase(ctx context.Context, phase Phase) (*PhaseResult, error) {
	start := time.Now()

	var (
		mu       sync.Mutex
		failures []AgentFailure
	)

	fail := func(agentID string, err error) {
		b.logger.Error("Agent step failed", "phase", phase.ID, "agent_id", agentID, "error", err.Error())

		mu.Lock()
		failures = append(failures, AgentFailure{AgentID: agentID, Err: err})
		mu.Unlock()
	}

	agents := make([]string, 0, len(phase.Agents))
	seen := make(map[string]struct{}, len(phase.Agents))

	for _, agentID := range phase.Agents {
		if _, dup := seen[agentID]; dup {
			fail(agentID, core.NewConfigurationError("broker", "agent %q listed more than once in phase %d", agentID, phase.ID))
			continue
		}

		seen[agentID] = struct{}{}
		agents = append(agents, agentID)
	}

	decisions := make([]*Decision, len(agents))

	var g errgroup.Group
	g.SetLimit(b.opts.Workers)

	for i, agentID := range agents {
		g.Go(func() error {
			d, err := b.decideSafely(ctx, agentID, phase)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				fail(agentID, err)

				return nil
			}

			decisions[i] = d

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &PhaseResult{Phase: phase.ID}

	for _, d := range decisions {
		if d != nil {
			result.Decisions = append(result.Decisions, d)
		}
	}

	if b.opts.Arbiter != nil {
		report, err := b.arbitrate(ctx, phase, result.Decisions)
		if err != nil {
			return nil, err
		}

		result.Report = report
	}

	for _, d := range result.Decisions {
		rec, err := b.commitSafely(ctx, d)
		if err != nil {
			fail(d.AgentID(), err)
			continue
		}

		result.Records = append(result.Records, rec)
	}

	result.Failures = failures
	result.Duration = time.Since(start)

	b.recordPhase(ctx, phase, result)

	return result, nil
}

func (b *Broker) decideSafely(ctx context.Context, agentID string, phase Phase) (d *Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in agent %s: %v\n%s", agentID, r, debug.Stack())
		}
	}()

	dctx, err := b.deps.Builder.Build(ctx, agentID, phase.ID, phase.Env)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	return b.Decide(ctx, dctx)
}

func (b *Broker) commitSafely(ctx context.Context, d *Decision) (rec core.TraceRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic committing agent %s: %v", d.AgentID(), r)
		}
	}()

	return b.Commit(ctx, d), nil
}

// arbitrate submits the approved decisions and applies denials.
func (b *Broker) arbitrate(ctx context.Context, phase Phase, decisions []*Decision) (*arbiter.PhaseReport, error) {
	byAgent := make(map[string]*Decision, len(decisions))

	for _, d := range decisions {
		if !d.Outcome.Approved() {
			continue
		}

		byAgent[d.AgentID()] = d

		b.opts.Arbiter.Submit(arbiter.ActionProposal{
			AgentID:   d.AgentID(),
			AgentType: d.Context.AgentType,
			StepID:    d.Context.StepID,
			SkillName: d.Action.SkillName,
			Proposal:  d.Proposal,
			Outcome:   d.Outcome,
		})
	}

	report, err := b.opts.Arbiter.Resolve(ctx, phase.ID, phase.Shared)
	if err != nil {
		return nil, err
	}

	for _, res := range report.Resolutions {
		d, ok := byAgent[res.AgentID]
		if !ok {
			continue
		}

		d.Resolution = &res

		switch {
		case res.Unresolved:
			b.logger.Warn("Arbiter left approved action unresolved, denying", "phase", phase.ID,
				"agent_id", res.AgentID, "skill", d.Action.SkillName)
			b.deny(d, res)
		case !res.Approved:
			b.logger.Info("Arbiter denied approved action", "phase", phase.ID, "agent_id", res.AgentID,
				"skill", d.Action.SkillName, "reason", res.Reason)
			b.deny(d, res)
		}
	}

	for _, f := range report.Findings {
		b.logger.Warn("Cross-agent finding", "phase", phase.ID, "check", f.Check, "severity", f.Severity,
			"message", f.Message, "agent_ids", f.AgentIDs)
	}

	return report, nil
}

func (b *Broker) recordPhase(ctx context.Context, phase Phase, result *PhaseResult) {
	stats := audit.PhaseStats{
		Phase:    phase.ID,
		Agents:   len(phase.Agents),
		Failures: len(result.Failures),
		Duration: result.Duration,
	}

	if r := result.Report; r != nil {
		stats.Resolutions = len(r.Resolutions)
		stats.Denied = len(r.Denied())
		stats.Unresolved = len(r.Unresolved)
		stats.Findings = len(r.Findings)
	}

	if pr, ok := b.opts.Audit.(PhaseRecorder); ok {
		pr.RecordPhase(ctx, stats)
	}

	if bl, ok := b.logger.(*logging.BrokerLogger); ok {
		bl.LogPhase(phase.ID, stats.Agents, stats.Failures, result.Duration)
		return
	}

	b.logger.Info("Phase completed", "phase", phase.ID, "agent_count", stats.Agents,
		"failure_count", stats.Failures, "duration", result.Duration)
}
