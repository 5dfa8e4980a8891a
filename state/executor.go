package state

import (
	"context"
	"fmt"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
)

// Handler computes the state changes of one execution mapping. It receives
// snapshots and must not retain them.
type Handler func(ctx context.Context, action core.ApprovedAction, agent Agent, env map[string]any) (map[string]any, error)

// Executor applies approved actions to an InMemoryStore through handlers
// keyed by execution mapping. Every call is appended to the agent's log.
type Executor struct {
	store    *InMemoryStore
	handlers map[string]Handler
	logger   logging.Logger
}

var _ core.Executor = (*Executor)(nil)

// NewExecutor creates an executor over store.
func NewExecutor(store *InMemoryStore, logger logging.Logger) *Executor {
	return &Executor{store: store, handlers: make(map[string]Handler), logger: logging.OrNoOp(logger)}
}

// Handle registers the handler for an execution mapping.
func (e *Executor) Handle(mapping string, h Handler) *Executor {
	e.handlers[mapping] = h
	return e
}

// Execute implements core.Executor. No-op actions and mappings without a
// handler leave state untouched and report success=false.
func (e *Executor) Execute(ctx context.Context, action core.ApprovedAction) (core.ExecutionResult, error) {
	ev := Event{StepID: action.StepID, Skill: action.SkillName, Outcome: action.ApprovalStatus, NoOp: action.NoOp}

	result := e.run(ctx, action)

	ev.Success = result.Success
	ev.Changes = result.StateChanges
	ev.ErrorText = result.Error

	if err := e.store.AppendEvent(action.AgentID, ev); err != nil {
		return result, err
	}

	return result, nil
}

func (e *Executor) run(ctx context.Context, action core.ApprovedAction) core.ExecutionResult {
	if action.NoOp {
		return core.ExecutionResult{Error: "no-op action"}
	}

	mapping := action.ExecutionMapping
	if mapping == "" {
		mapping = action.SkillName
	}

	h, ok := e.handlers[mapping]
	if !ok {
		e.logger.Warn("No handler for execution mapping", "agent_id", action.AgentID, "mapping", mapping)
		return core.ExecutionResult{Error: fmt.Sprintf("no handler for %q", mapping)}
	}

	agent, err := e.store.Agent(action.AgentID)
	if err != nil {
		return core.ExecutionResult{Error: err.Error()}
	}

	changes, err := h(ctx, action, agent, e.store.Environment())
	if err != nil {
		return core.ExecutionResult{Error: err.Error()}
	}

	if err := e.store.ApplyDelta(action.AgentID, changes); err != nil {
		return core.ExecutionResult{Error: err.Error()}
	}

	return core.ExecutionResult{
		Success:       true,
		StateChanges:  changes,
		ActionContext: map[string]any{"mapping": mapping},
	}
}
