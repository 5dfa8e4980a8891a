package state

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/govmesh/core"
)

// ErrUnknownAgent is returned for agents that were never added.
var ErrUnknownAgent = errors.New("unknown agent")

// Event is one entry of an agent's action log.
type Event struct {
	StepID    int            `json:"step_id"`
	Skill     string         `json:"skill"`
	Outcome   core.Outcome   `json:"outcome"`
	Success   bool           `json:"success"`
	Changes   map[string]any `json:"changes,omitempty"`
	NoOp      bool           `json:"no_op,omitempty"`
	ErrorText string         `json:"error,omitempty"`
}

// Agent is a snapshot of one agent.
type Agent struct {
	ID    string
	Type  string
	State map[string]any
}

type agentRecord struct {
	agentType string
	state     map[string]any
	events    []Event
}

// InMemoryStore keeps agents and the environment in process maps. It is safe
// for concurrent use.
type InMemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*agentRecord
	env    map[string]any
}

// NewInMemoryStore creates an empty world with the given environment.
func NewInMemoryStore(env map[string]any) *InMemoryStore {
	return &InMemoryStore{agents: make(map[string]*agentRecord), env: maps.Clone(env)}
}

// AddAgent registers an agent, replacing any previous record with the same id.
func (s *InMemoryStore) AddAgent(id, agentType string, initial map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := maps.Clone(initial)
	if st == nil {
		st = map[string]any{}
	}

	s.agents[id] = &agentRecord{agentType: agentType, state: st}
}

// Agent returns a snapshot of the agent.
func (s *InMemoryStore) Agent(id string) (Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.agents[id]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}

	return Agent{ID: id, Type: rec.agentType, State: maps.Clone(rec.state)}, nil
}

// AgentIDs returns every agent id in sorted order.
func (s *InMemoryStore) AgentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.agents))
}

// ApplyDelta merges delta into the agent's state.
func (s *InMemoryStore) ApplyDelta(id string, delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}

	maps.Copy(rec.state, delta)

	return nil
}

// Environment returns a snapshot of the shared environment.
func (s *InMemoryStore) Environment() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.env)
}

// UpdateEnvironment merges delta into the shared environment.
func (s *InMemoryStore) UpdateEnvironment(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.env == nil {
		s.env = map[string]any{}
	}

	maps.Copy(s.env, delta)
}

// AppendEvent adds an entry to the agent's action log.
func (s *InMemoryStore) AppendEvent(id string, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}

	rec.events = append(rec.events, ev)

	return nil
}

// History returns the agent's last n events, oldest first; n <= 0 returns all.
func (s *InMemoryStore) History(id string, n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.agents[id]
	if !ok {
		return nil
	}

	events := rec.events
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}

	return slices.Clone(events)
}
