package websocket

import (
	"context"
	"fmt"

	"tunechat/internal/models"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const natsSubjectPrefix = "chat.room."

// NATSFanout publishes room events on core NATS subjects, one per room,
// and relays everything under chat.room.* to the local registry.
type NATSFanout struct {
	nc       *nats.Conn
	sub      *nats.Subscription
	registry *Registry
	logger   *zap.Logger
}

func NewNATSFanout(nc *nats.Conn, registry *Registry, logger *zap.Logger) (*NATSFanout, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &NATSFanout{
		nc:       nc,
		registry: registry,
		logger:   logger.Named("nats-fanout"),
	}

	sub, err := nc.Subscribe(natsSubjectPrefix+"*", func(m *nats.Msg) {
		relay(f.registry, f.logger, m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	// Make sure the server has the interest registered before we publish.
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	f.sub = sub
	return f, nil
}

func (f *NATSFanout) Publish(_ context.Context, room models.RoomKey, ev models.Event) error {
	data, err := encodeEnvelope(room, ev)
	if err != nil {
		return err
	}
	if err := f.nc.Publish(natsSubjectPrefix+room.String(), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close drains the subscription. The connection is owned by the caller.
func (f *NATSFanout) Close() error {
	return f.sub.Drain()
}
