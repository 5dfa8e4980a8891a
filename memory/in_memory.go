package memory

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/govmesh/core"
)

// ErrNotFound is returned when a memory id does not exist for an agent.
var ErrNotFound = errors.New("memory not found")

// Item is one stored memory.
type Item struct {
	ID        string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
	seq       int
}

// Options configures an InMemoryStore.
type Options struct {
	// Capacity bounds stored items per agent; the oldest are evicted first.
	// Zero means unbounded.
	Capacity int
}

// InMemoryStore is a process-local core.MemoryStore keyed by agent id. It
// keeps a key/value scratchpad (Get / Put) and an append-only episodic log
// (Store / Search / Recent) per agent.
//
// Search scores items by the share of query terms they contain
// (case-insensitive), breaking ties by recency.
type InMemoryStore struct {
	mu       sync.RWMutex
	kv       map[string]map[string]any
	items    map[string][]Item
	seq      map[string]int
	capacity int
}

var _ core.MemoryStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &InMemoryStore{
		kv:       make(map[string]map[string]any),
		items:    make(map[string][]Item),
		seq:      make(map[string]int),
		capacity: opts.Capacity,
	}
}

// Get returns a copy of the agent's key/value memory.
func (m *InMemoryStore) Get(agentID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]any, len(m.kv[agentID]))
	maps.Copy(out, m.kv[agentID])

	return out, nil
}

// Put merges delta into the agent's key/value memory.
func (m *InMemoryStore) Put(agentID string, delta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.kv[agentID]; !ok {
		m.kv[agentID] = make(map[string]any, len(delta))
	}

	maps.Copy(m.kv[agentID], delta)

	return nil
}

// Store appends an item to the agent's episodic log.
func (m *InMemoryStore) Store(agentID string, content string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq[agentID]++
	seq := m.seq[agentID]

	m.items[agentID] = append(m.items[agentID], Item{
		ID:        fmt.Sprintf("mem_%d", seq),
		Content:   content,
		Metadata:  maps.Clone(metadata),
		CreatedAt: time.Now(),
		seq:       seq,
	})

	if m.capacity > 0 && len(m.items[agentID]) > m.capacity {
		m.items[agentID] = m.items[agentID][len(m.items[agentID])-m.capacity:]
	}

	return nil
}

// Search returns up to limit items matching query, best match first. An empty
// query returns the most recent items.
func (m *InMemoryStore) Search(agentID string, query string, limit int) ([]core.SearchResult, error) {
	m.mu.RLock()
	items := append([]Item(nil), m.items[agentID]...)
	m.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))

	type scored struct {
		item  Item
		score float64
	}

	var hits []scored

	for _, it := range items {
		score := 1.0

		if len(terms) > 0 {
			content := strings.ToLower(it.Content)
			matched := 0

			for _, t := range terms {
				if strings.Contains(content, t) {
					matched++
				}
			}

			if matched == 0 {
				continue
			}

			score = float64(matched) / float64(len(terms))
		}

		hits = append(hits, scored{item: it, score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}

		return hits[i].item.seq > hits[j].item.seq
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]core.SearchResult, len(hits))
	for i, h := range hits {
		out[i] = core.SearchResult{ID: h.item.ID, Content: h.item.Content, Score: h.score, Metadata: maps.Clone(h.item.Metadata)}
	}

	return out, nil
}

// Recent returns the contents of the agent's last n items, oldest first.
func (m *InMemoryStore) Recent(agentID string, n int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := m.items[agentID]
	if n > 0 && len(items) > n {
		items = items[len(items)-n:]
	}

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Content
	}

	return out
}

// Delete removes an item by id.
func (m *InMemoryStore) Delete(agentID string, memoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.items[agentID]
	for i, it := range items {
		if it.ID == memoryID {
			m.items[agentID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}

	return ErrNotFound
}
