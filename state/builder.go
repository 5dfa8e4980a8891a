package state

import (
	"context"
	"fmt"
	"maps"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/internal/util"
)

// DefaultPromptTemplate renders a plain decision prompt.
const DefaultPromptTemplate = `You are {{.agent_id}}, a {{.agent_type}}. This is step {{.step}}.
Your situation:
{{range $k, $v := .state}}- {{$k}}: {{$v}}
{{end}}Environment:
{{range $k, $v := .environment}}- {{$k}}: {{$v}}
{{end}}{{if .memories}}What you recently observed:
{{range .memories}}- {{.}}
{{end}}{{end}}{{if .history}}Your recent decisions:
{{range .history}}- step {{.StepID}}: {{.Skill}} ({{.Outcome}})
{{end}}{{end}}{{if .skills}}Choose one skill from: {{join ", " .skills}}.
{{end}}Reply with JSON: {"decision": "<skill>", "magnitude_pct": <number>, "reasoning": {"rationale": "<why>"}}`

// RecentMemory is the slice of a memory store the builder reads.
type RecentMemory interface {
	Recent(agentID string, n int) []string
}

// ContextBuilder snapshots agent state and environment into a decision
// context. Memories and history only reach the prompt, so they never change
// the fingerprint of a situation.
type ContextBuilder struct {
	Store *InMemoryStore
	// Memory supplies recent event statements; optional.
	Memory RecentMemory
	// MemoryWindow and HistoryWindow bound what the prompt shows; default 5.
	MemoryWindow  int
	HistoryWindow int
	// Template overrides DefaultPromptTemplate.
	Template string
	// Skills lists the choices offered in the prompt.
	Skills []string
}

var _ core.ContextBuilder = (*ContextBuilder)(nil)

// Build implements core.ContextBuilder. Keys in env override the stored
// environment for this step only.
func (b *ContextBuilder) Build(ctx context.Context, agentID string, stepID int, env map[string]any) (core.DecisionContext, error) {
	if err := ctx.Err(); err != nil {
		return core.DecisionContext{}, err
	}

	agent, err := b.Store.Agent(agentID)
	if err != nil {
		return core.DecisionContext{}, err
	}

	environment := b.Store.Environment()
	if environment == nil {
		environment = map[string]any{}
	}

	maps.Copy(environment, env)

	dctx := core.DecisionContext{
		AgentID:     agentID,
		AgentType:   agent.Type,
		StepID:      stepID,
		AgentState:  agent.State,
		Environment: environment,
	}

	prompt, err := b.render(dctx)
	if err != nil {
		return core.DecisionContext{}, fmt.Errorf("render prompt for %s: %w", agentID, err)
	}

	dctx.Prompt = prompt

	return dctx, nil
}

func (b *ContextBuilder) render(dctx core.DecisionContext) (string, error) {
	tmpl := b.Template
	if tmpl == "" {
		tmpl = DefaultPromptTemplate
	}

	memWindow, histWindow := window(b.MemoryWindow), window(b.HistoryWindow)

	data := map[string]any{
		"agent_id":    dctx.AgentID,
		"agent_type":  dctx.AgentType,
		"step":        dctx.StepID,
		"state":       dctx.AgentState,
		"environment": dctx.Environment,
		"history":     b.Store.History(dctx.AgentID, histWindow),
		"skills":      b.Skills,
	}

	if b.Memory != nil {
		data["memories"] = b.Memory.Recent(dctx.AgentID, memWindow)
	}

	return util.RenderTemplate(tmpl, data)
}

func window(n int) int {
	if n <= 0 {
		return 5
	}

	return n
}
