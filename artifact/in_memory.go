package artifact

import (
	"slices"
	"sync"

	"github.com/hupe1980/govmesh/core"
)

// InMemoryStore keeps artifacts in a nested map guarded by an RWMutex. Data
// is copied on save and retrieval so callers cannot mutate stored buffers.
//
// Layout: scope -> artifactID -> raw bytes
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string][]byte
}

var _ core.ArtifactStore = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[string]map[string][]byte)}
}

// Save stores (or overwrites) the artifact bytes for the given scope and id.
func (a *InMemoryStore) Save(scope, artifactID string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.artifacts[scope]; !exists {
		a.artifacts[scope] = make(map[string][]byte)
	}

	a.artifacts[scope][artifactID] = slices.Clone(data)

	return nil
}

// Get returns a copy of the stored artifact bytes or ErrNotFound.
func (a *InMemoryStore) Get(scope, artifactID string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	data, ok := a.artifacts[scope][artifactID]
	if !ok {
		return nil, ErrNotFound
	}

	return slices.Clone(data), nil
}

// List returns the sorted artifact ids stored for the scope.
func (a *InMemoryStore) List(scope string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.artifacts[scope]))
	for id := range a.artifacts[scope] {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids, nil
}

// Scopes returns the sorted scopes holding at least one artifact.
func (a *InMemoryStore) Scopes() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var scopes []string

	for s, m := range a.artifacts {
		if len(m) > 0 {
			scopes = append(scopes, s)
		}
	}

	slices.Sort(scopes)

	return scopes
}

// Delete removes the artifact if present or returns ErrNotFound.
func (a *InMemoryStore) Delete(scope, artifactID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.artifacts[scope]
	if !ok {
		return ErrNotFound
	}

	if _, ok := m[artifactID]; !ok {
		return ErrNotFound
	}

	delete(m, artifactID)

	return nil
}
