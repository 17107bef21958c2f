package websocket

import (
	"context"
	"fmt"

	"tunechat/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannelPrefix = "chat:"

// RedisFanout publishes room events on Redis pub/sub. Every process
// pattern-subscribes to all rooms and delivers to its own registry, so the
// publisher's own sessions get the event through the same round trip.
type RedisFanout struct {
	client   redis.UniversalClient
	pubsub   *redis.PubSub
	registry *Registry
	logger   *zap.Logger
	done     chan struct{}
}

func NewRedisFanout(ctx context.Context, client redis.UniversalClient, registry *Registry, logger *zap.Logger) (*RedisFanout, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pubsub := client.PSubscribe(ctx, redisChannelPrefix+"*")
	// Wait for the subscription to be confirmed before publishing anything.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis psubscribe: %w", err)
	}

	f := &RedisFanout{
		client:   client,
		pubsub:   pubsub,
		registry: registry,
		logger:   logger.Named("redis-fanout"),
		done:     make(chan struct{}),
	}
	go f.run(pubsub.Channel())
	return f, nil
}

func (f *RedisFanout) run(ch <-chan *redis.Message) {
	defer close(f.done)
	for msg := range ch {
		relay(f.registry, f.logger, []byte(msg.Payload))
	}
}

func (f *RedisFanout) Publish(ctx context.Context, room models.RoomKey, ev models.Event) error {
	data, err := encodeEnvelope(room, ev)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, redisChannelPrefix+room.String(), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close stops the subscription. The client is owned by the caller.
func (f *RedisFanout) Close() error {
	err := f.pubsub.Close()
	<-f.done
	return err
}
