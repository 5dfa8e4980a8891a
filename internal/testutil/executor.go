package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/govmesh/core"
)

// RecordingExecutor records every dispatched action.
type RecordingExecutor struct {
	mu      sync.Mutex
	actions []core.ApprovedAction
	// Fail makes every execution report failure.
	Fail bool
}

// Execute implements core.Executor.
func (e *RecordingExecutor) Execute(_ context.Context, a core.ApprovedAction) (core.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.actions = append(e.actions, a)

	if e.Fail || a.NoOp {
		return core.ExecutionResult{Success: false, ActionContext: map[string]any{"skill": a.SkillName}}, nil
	}

	return core.ExecutionResult{
		Success:       true,
		StateChanges:  map[string]any{"last_skill": a.SkillName},
		ActionContext: map[string]any{"skill": a.SkillName},
	}, nil
}

// Actions returns a copy of the recorded actions.
func (e *RecordingExecutor) Actions() []core.ApprovedAction {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]core.ApprovedAction(nil), e.actions...)
}

// CountFor returns how many actions were executed for an agent at a step.
func (e *RecordingExecutor) CountFor(agentID string, stepID int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0

	for _, a := range e.actions {
		if a.AgentID == agentID && a.StepID == stepID {
			n++
		}
	}

	return n
}
