package arbiter

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

// ResolutionTopic is the topic resolutions are broadcast on.
const ResolutionTopic = "govmesh.resolutions"

// Message is a broadcast envelope.
type Message struct {
	ID     string `json:"id"`
	Topic  string `json:"topic"`
	Sender string `json:"sender"`
	Type   string `json:"type"`
	// Recipients limits delivery scope; empty means every agent.
	Recipients []string        `json:"recipients,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Handler consumes delivered messages.
type Handler func(ctx context.Context, msg Message)

// Bus is a publish/subscribe channel for resolutions.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(topic string, h Handler) (unsubscribe func() error, err error)
	Close() error
}

// InMemoryBus delivers messages synchronously, in subscription order.
type InMemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool
}

type subscription struct {
	h Handler
}

// NewInMemoryBus creates an in-process bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]*subscription)}
}

// Publish implements Bus.
func (b *InMemoryBus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}

	subs := slices.Clone(b.subs[msg.Topic])
	b.mu.RUnlock()

	for _, s := range subs {
		s.h(ctx, msg)
	}

	return nil
}

// Subscribe implements Bus.
func (b *InMemoryBus) Subscribe(topic string, h Handler) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	s := &subscription{h: h}
	b.subs[topic] = append(b.subs[topic], s)

	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.subs[topic] = slices.DeleteFunc(b.subs[topic], func(x *subscription) bool { return x == s })

		return nil
	}, nil
}

// Close implements Bus.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subs = map[string][]*subscription{}

	return nil
}
