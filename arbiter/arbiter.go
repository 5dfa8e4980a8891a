package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
)

// Options configures an Arbiter.
type Options struct {
	Strategy   Strategy
	Statements StatementGenerator
	// Bus receives every resolution; nil disables broadcasting.
	Bus Bus
	// Artifacts persists round bundles; nil disables persistence.
	Artifacts  core.ArtifactStore
	Validators []CrossAgentValidator
	Logger     logging.Logger
}

// Arbiter batches proposals per phase and resolves them together.
// Submit and SubmitArtifact are safe for concurrent use.
type Arbiter struct {
	mu        sync.Mutex
	pending   []ActionProposal
	artifacts []Artifact
	opts      Options
}

// New creates an arbiter; the default strategy is Passthrough.
func New(optFns ...func(o *Options)) *Arbiter {
	opts := Options{
		Strategy:   Passthrough{},
		Statements: TemplateStatements{},
		Logger:     logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Arbiter{opts: opts}
}

// Strategy returns the configured strategy name.
func (a *Arbiter) Strategy() string { return a.opts.Strategy.Name() }

// Submit adds a proposal to the open phase.
func (a *Arbiter) Submit(p ActionProposal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, p)
}

// SubmitArtifact adds a typed artifact to the open round bundle.
func (a *Arbiter) SubmitArtifact(art Artifact) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.artifacts = append(a.artifacts, art)
}

// Pending returns the number of proposals awaiting resolution.
func (a *Arbiter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.pending)
}

// Resolve closes the phase: it resolves the batch, generates statements,
// persists the round bundle, runs cross-agent checks and broadcasts every
// resolution. It returns an error only when the context is done; every other
// failure is recorded in the report.
func (a *Arbiter) Resolve(ctx context.Context, phase int, shared map[string]any) (*PhaseReport, error) {
	a.mu.Lock()
	batch := a.pending
	artifacts := a.artifacts
	a.pending, a.artifacts = nil, nil
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(batch, func(i, j int) bool { return batch[i].AgentID < batch[j].AgentID })

	report := &PhaseReport{Phase: phase, Strategy: a.opts.Strategy.Name()}

	decisions, conflicts, err := a.opts.Strategy.Resolve(ctx, batch, shared)
	if err != nil {
		a.opts.Logger.Error("Arbitration strategy failed", "phase", phase, "strategy", report.Strategy, "error", err.Error())
		report.Errors = append(report.Errors, err.Error())
		decisions = nil
	}

	report.Conflicts = conflicts

	byAgent := make(map[string]Decision, len(decisions))
	for _, d := range decisions {
		byAgent[d.AgentID] = d
	}

	now := time.Now()

	for _, p := range batch {
		res := Resolution{
			ID:        core.NewID(),
			Phase:     phase,
			AgentID:   p.AgentID,
			Original:  p,
			Timestamp: now,
		}

		if d, ok := byAgent[p.AgentID]; ok {
			res.Approved = d.Approved
			res.Reason = d.Reason
		} else {
			uerr := fmt.Errorf("%w: no decision for agent %s", core.ErrConflictUnresolved, p.AgentID)
			a.opts.Logger.Warn("Unresolved proposal", "phase", phase, "agent_id", p.AgentID)

			res.Unresolved = true
			res.Reason = "conflict unresolved"
			report.Unresolved = append(report.Unresolved, p.AgentID)
			report.Errors = append(report.Errors, uerr.Error())
		}

		statement, err := a.opts.Statements.Statement(res)
		if err != nil {
			a.opts.Logger.Warn("Statement generation failed", "agent_id", p.AgentID, "error", err.Error())
		}

		res.EventStatement = statement
		report.Resolutions = append(report.Resolutions, res)
	}

	bundle := &Bundle{Round: phase, Artifacts: artifacts, Resolutions: report.Resolutions, CreatedAt: now}

	if a.opts.Artifacts != nil {
		if err := SaveBundle(a.opts.Artifacts, bundle); err != nil {
			a.opts.Logger.Warn("Failed to persist round bundle", "phase", phase, "error", err.Error())
			report.Errors = append(report.Errors, err.Error())
		}
	}

	for _, v := range a.opts.Validators {
		report.Findings = append(report.Findings, v.Check(bundle)...)
	}

	a.broadcast(ctx, report)

	return report, nil
}

func (a *Arbiter) broadcast(ctx context.Context, report *PhaseReport) {
	if a.opts.Bus == nil {
		return
	}

	for _, res := range report.Resolutions {
		payload, err := json.Marshal(res)
		if err != nil {
			continue
		}

		msg := Message{
			ID:        core.NewID(),
			Topic:     ResolutionTopic,
			Sender:    "arbiter",
			Type:      "resolution",
			Payload:   payload,
			Timestamp: res.Timestamp,
		}

		if err := a.opts.Bus.Publish(ctx, msg); err != nil {
			a.opts.Logger.Warn("Broadcast failed", "agent_id", res.AgentID, "error", err.Error())
		}
	}
}
