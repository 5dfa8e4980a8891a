package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/hupe1980/govmesh/audit"
	"github.com/hupe1980/govmesh/broker"
	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
	"go.opentelemetry.io/otel/metric"
)

// Population lists the agents taking part in a step.
type Population interface {
	AgentIDs() []string
}

// Hooks are optional callbacks around each phase. A BeforePhase error stops
// the run; the other hooks cannot fail.
type Hooks struct {
	BeforePhase  func(ctx context.Context, step int, agents []string) error
	AfterPhase   func(ctx context.Context, result *broker.PhaseResult)
	OnAgentError func(ctx context.Context, step int, agentID string, err error)
}

// Options configures an Engine.
type Options struct {
	// ShuffleAgents randomises agent order per step using Seed.
	ShuffleAgents bool
	Seed          int64
	Hooks         Hooks
	// Sink receives every trace of a run through the run's collector.
	Sink core.AuditSink
	// Meter backs the collector's instruments; defaults to the global provider.
	Meter  metric.Meter
	Logger logging.Logger
}

// RunReport is what a run produced.
type RunReport struct {
	RunID   string
	Phases  []*broker.PhaseResult
	Summary audit.Summary
}

// Engine runs steps of a governed simulation.
type Engine struct {
	broker *broker.Broker
	world  World
	shared SharedStater
	agents Population
	opts   Options
	logger logging.Logger

	mu         sync.RWMutex
	activeRuns map[string]context.CancelFunc
}

// New creates an engine.
func New(b *broker.Broker, world World, agents Population, optFns ...func(o *Options)) *Engine {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := &Engine{
		broker:     b,
		world:      world,
		agents:     agents,
		opts:       opts,
		logger:     logging.OrNoOp(opts.Logger),
		activeRuns: make(map[string]context.CancelFunc),
	}

	if s, ok := world.(SharedStater); ok {
		e.shared = s
	}

	return e
}

// Run executes steps 1..steps. The report is returned even when the run
// stops early; its summary covers what ran.
func (e *Engine) Run(ctx context.Context, steps int) (*RunReport, error) {
	runID := core.NewID()

	collector, err := audit.NewCollector(runID, func(o *audit.CollectorOptions) {
		o.Sink = e.opts.Sink
		o.Meter = e.opts.Meter
		o.Logger = e.logger
	})
	if err != nil {
		return nil, fmt.Errorf("create audit collector: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.activeRuns[runID] = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.activeRuns, runID)
		e.mu.Unlock()
	}()

	report := &RunReport{RunID: runID}
	runErr := e.run(ctx, runID, steps, e.broker.WithAudit(collector), report)

	summary, err := collector.Flush(context.WithoutCancel(ctx))
	if err != nil {
		e.logger.Warn("Audit flush failed", "run_id", runID, "error", err.Error())
	}

	report.Summary = summary

	return report, runErr
}

func (e *Engine) run(ctx context.Context, runID string, steps int, b *broker.Broker, report *RunReport) error {
	var rng *rand.Rand
	if e.opts.ShuffleAgents {
		seed := uint64(e.opts.Seed)
		rng = rand.New(rand.NewPCG(seed, seed))
	}

	for step := 1; step <= steps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.world.AdvanceStep(ctx, step); err != nil {
			return fmt.Errorf("advance world to step %d: %w", step, err)
		}

		agents := slices.Clone(e.agents.AgentIDs())
		if rng != nil {
			rng.Shuffle(len(agents), func(i, j int) { agents[i], agents[j] = agents[j], agents[i] })
		}

		if h := e.opts.Hooks.BeforePhase; h != nil {
			if err := h(ctx, step, agents); err != nil {
				return fmt.Errorf("before phase %d: %w", step, err)
			}
		}

		phase := broker.Phase{ID: step, Agents: agents}
		if e.shared != nil {
			phase.Shared = e.shared.SharedState(step)
		}

		result, err := b.RunPhase(ctx, phase)
		if err != nil {
			return err
		}

		report.Phases = append(report.Phases, result)

		if h := e.opts.Hooks.OnAgentError; h != nil {
			for _, f := range result.Failures {
				h(ctx, step, f.AgentID, f.Err)
			}
		}

		if h := e.opts.Hooks.AfterPhase; h != nil {
			h(ctx, result)
		}

		e.logger.Debug("Step finished", "run_id", runID, "step", step, "agents", len(agents),
			"failures", len(result.Failures))
	}

	return nil
}

// ErrUnknownRun is returned by Cancel for runs that are not active.
var ErrUnknownRun = errors.New("unknown run")

// Cancel stops an active run.
func (e *Engine) Cancel(runID string) error {
	e.mu.RLock()
	cancel, ok := e.activeRuns[runID]
	e.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}

	cancel()

	return nil
}

// ActiveRuns returns the ids of runs in progress.
func (e *Engine) ActiveRuns() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.activeRuns))
	for id := range e.activeRuns {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}
