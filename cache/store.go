package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/govmesh/core"
)

// Entry is one cached decision.
type Entry struct {
	Fingerprint string         `json:"fingerprint"`
	AgentType   string         `json:"agent_type"`
	Proposal    *core.Proposal `json:"proposal"`
	Outcome     core.Outcome   `json:"outcome"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Store persists cache entries by fingerprint.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*Entry, bool, error)
	Put(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, fingerprint string) error
	// DeleteIf removes the entry only while it is still the one written at
	// createdAt, and reports whether it did.
	DeleteIf(ctx context.Context, fingerprint string, createdAt time.Time) (bool, error)
	Len(ctx context.Context) (int, error)
}

// InMemoryStore is a map-backed Store. It is safe for concurrent use.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*Entry)}
}

// Get implements Store.
func (s *InMemoryStore) Get(_ context.Context, fingerprint string) (*Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[fingerprint]
	if !ok {
		return nil, false, nil
	}

	cp := *e
	cp.Proposal = e.Proposal.Clone()

	return &cp, true, nil
}

// Put implements Store.
func (s *InMemoryStore) Put(_ context.Context, e *Entry) error {
	cp := *e
	cp.Proposal = e.Proposal.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[e.Fingerprint] = &cp

	return nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, fingerprint)

	return nil
}

// DeleteIf implements Store.
func (s *InMemoryStore) DeleteIf(_ context.Context, fingerprint string, createdAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fingerprint]
	if !ok || !e.CreatedAt.Equal(createdAt) {
		return false, nil
	}

	delete(s.entries, fingerprint)

	return true, nil
}

// Len implements Store.
func (s *InMemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries), nil
}
