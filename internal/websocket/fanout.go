package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tunechat/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrBadEnvelope = errors.New("bad fan-out envelope")

// Fanout delivers an event to every session registered under a room,
// possibly across processes.
type Fanout interface {
	Publish(ctx context.Context, room models.RoomKey, ev models.Event) error
	Close() error
}

// LocalFanout delivers within this process only.
type LocalFanout struct {
	registry *Registry
}

func NewLocalFanout(registry *Registry) *LocalFanout {
	return &LocalFanout{registry: registry}
}

func (f *LocalFanout) Publish(_ context.Context, room models.RoomKey, ev models.Event) error {
	f.registry.Publish(room, ev)
	return nil
}

func (f *LocalFanout) Close() error { return nil }

// envelope is the wire form of a room event on a message bus.
type envelope struct {
	Room      string    `json:"room"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Sender    uuid.UUID `json:"sender"`
	Recipient uuid.UUID `json:"recipient"`
}

func encodeEnvelope(room models.RoomKey, ev models.Event) ([]byte, error) {
	if room == "" {
		return nil, fmt.Errorf("%w: empty room", ErrBadEnvelope)
	}
	return json.Marshal(envelope{
		Room:      room.String(),
		Kind:      ev.Kind.String(),
		Message:   ev.Message,
		Sender:    ev.Sender,
		Recipient: ev.Recipient,
	})
}

func decodeEnvelope(data []byte) (models.RoomKey, models.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", models.Event{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Room == "" {
		return "", models.Event{}, fmt.Errorf("%w: empty room", ErrBadEnvelope)
	}
	kind, err := models.ParseEventKind(env.Kind)
	if err != nil {
		return "", models.Event{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return models.RoomKey(env.Room), models.Event{
		Kind:      kind,
		Message:   env.Message,
		Sender:    env.Sender,
		Recipient: env.Recipient,
	}, nil
}

// relay hands an envelope received from a bus to the local registry.
// Undecodable envelopes are dropped.
func relay(registry *Registry, logger *zap.Logger, data []byte) {
	room, ev, err := decodeEnvelope(data)
	if err != nil {
		logger.Warn("dropping fan-out envelope", zap.Error(err))
		return
	}
	registry.Publish(room, ev)
}
