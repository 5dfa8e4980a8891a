package arbiter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/govmesh/logging"
	"github.com/nats-io/nats.go"
)

// NATSBus broadcasts resolutions over NATS subjects so observers in other
// processes can follow a run.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
	logger logging.Logger
	owned  bool
}

// NATSOptions configures a NATSBus.
type NATSOptions struct {
	// SubjectPrefix is prepended to topics ("<prefix>.<topic>").
	SubjectPrefix string
	Logger        logging.Logger
}

// NewNATSBus wraps an existing connection. The caller keeps ownership.
func NewNATSBus(nc *nats.Conn, optFns ...func(o *NATSOptions)) *NATSBus {
	opts := NATSOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &NATSBus{nc: nc, prefix: opts.SubjectPrefix, logger: logging.OrNoOp(opts.Logger)}
}

// DialNATS connects to url and returns a bus owning the connection.
func DialNATS(url string, optFns ...func(o *NATSOptions)) (*NATSBus, error) {
	nc, err := nats.Connect(url, nats.Name("govmesh-arbiter"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := NewNATSBus(nc, optFns...)
	b.owned = true

	return b, nil
}

func (b *NATSBus) subject(topic string) string {
	if b.prefix == "" {
		return topic
	}

	return b.prefix + "." + topic
}

// Publish implements Bus.
func (b *NATSBus) Publish(_ context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := b.nc.Publish(b.subject(msg.Topic), data); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	return nil
}

// Subscribe implements Bus. Handlers run on the NATS delivery goroutine.
func (b *NATSBus) Subscribe(topic string, h Handler) (func() error, error) {
	sub, err := b.nc.Subscribe(b.subject(topic), func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			b.logger.Warn("Dropping malformed broadcast", "subject", m.Subject, "error", err.Error())
			return
		}

		h(context.Background(), msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return sub.Unsubscribe, nil
}

// Flush waits until the server has processed all published messages.
func (b *NATSBus) Flush() error { return b.nc.Flush() }

// Close drains an owned connection; borrowed connections are left open.
func (b *NATSBus) Close() error {
	if !b.owned {
		return nil
	}

	return b.nc.Drain()
}
