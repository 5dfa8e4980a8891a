package arbiter

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/hupe1980/govmesh/core"
	"github.com/hupe1980/govmesh/logging"
)

// MemoryRelay subscribes to resolution broadcasts and writes each event
// statement into the memory of every recipient agent, so the next step's
// context includes outcomes the agent did not cause.
type MemoryRelay struct {
	store  core.MemoryStore
	agents func() []string
	logger logging.Logger
}

// NewMemoryRelay creates a relay. agents lists the current population and is
// consulted for broadcasts without an explicit recipient scope.
func NewMemoryRelay(store core.MemoryStore, agents func() []string, logger logging.Logger) *MemoryRelay {
	return &MemoryRelay{store: store, agents: agents, logger: logging.OrNoOp(logger)}
}

// Attach subscribes the relay to the resolution topic.
func (r *MemoryRelay) Attach(bus Bus) (func() error, error) {
	return bus.Subscribe(ResolutionTopic, r.Handle)
}

// Handle implements Handler.
func (r *MemoryRelay) Handle(_ context.Context, msg Message) {
	var res Resolution
	if err := json.Unmarshal(msg.Payload, &res); err != nil {
		r.logger.Warn("Ignoring undecodable resolution", "message_id", msg.ID, "error", err.Error())
		return
	}

	if res.EventStatement == "" {
		return
	}

	recipients := msg.Recipients
	if len(recipients) == 0 && r.agents != nil {
		recipients = r.agents()
	}

	meta := map[string]any{
		"type":         "event_statement",
		"phase":        res.Phase,
		"source_agent": res.AgentID,
		"approved":     res.Approved,
		"message_id":   msg.ID,
	}

	for _, id := range slices.Compact(slices.Sorted(slices.Values(recipients))) {
		if err := r.store.Store(id, res.EventStatement, meta); err != nil {
			r.logger.Warn("Failed to store event statement", "agent_id", id, "error", err.Error())
		}
	}
}
