package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/hupe1980/govmesh/core"
)

// Entry is one persisted trace.
type Entry struct {
	AgentType string           `json:"agent_type"`
	Record    core.TraceRecord `json:"record"`
	History   []core.Attempt   `json:"history,omitempty"`
}

// Flusher is implemented by sinks that buffer writes.
type Flusher interface {
	Flush() error
}

// MemorySink keeps every trace in memory.
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ core.AuditSink = (*MemorySink)(nil)

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// WriteTrace implements core.AuditSink.
func (s *MemorySink) WriteTrace(_ context.Context, agentType string, record core.TraceRecord, history []core.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, Entry{AgentType: agentType, Record: record, History: slices.Clone(history)})

	return nil
}

// Entries returns a copy of every trace in write order.
func (s *MemorySink) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.entries)
}

// ForAgent returns the traces of one agent in write order.
func (s *MemorySink) ForAgent(agentID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry

	for _, e := range s.entries {
		if e.Record.AgentID == agentID {
			out = append(out, e)
		}
	}

	return out
}

// JSONLSink appends one JSON object per trace to a writer.
type JSONLSink struct {
	mu     sync.Mutex
	w      io.Writer
	enc    *json.Encoder
	closer io.Closer
}

var (
	_ core.AuditSink = (*JSONLSink)(nil)
	_ Flusher        = (*JSONLSink)(nil)
)

// NewJSONLSink writes to w. The caller owns w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{w: w, enc: json.NewEncoder(w)}
}

// OpenJSONLSink appends to the file at path, creating it when missing.
func OpenJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %q: %w", path, err)
	}

	s := NewJSONLSink(f)
	s.closer = f

	return s, nil
}

// WriteTrace implements core.AuditSink.
func (s *JSONLSink) WriteTrace(_ context.Context, agentType string, record core.TraceRecord, history []core.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(Entry{AgentType: agentType, Record: record, History: history}); err != nil {
		return fmt.Errorf("write trace %s: %w", record.ID, err)
	}

	return nil
}

// Flush syncs the underlying file when there is one.
func (s *JSONLSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.w.(*os.File); ok {
		return f.Sync()
	}

	return nil
}

// Close closes a file opened by OpenJSONLSink.
func (s *JSONLSink) Close() error {
	if s.closer == nil {
		return nil
	}

	return s.closer.Close()
}

// ReadJSONL decodes every entry from r.
func ReadJSONL(r io.Reader) ([]Entry, error) {
	dec := json.NewDecoder(r)

	var out []Entry

	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return out, fmt.Errorf("decode trace %d: %w", len(out), err)
		}

		out = append(out, e)
	}

	return out, nil
}
