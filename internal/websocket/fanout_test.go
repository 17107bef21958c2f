package websocket

import (
	"context"
	"os"
	"testing"
	"time"

	"tunechat/internal/models"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	req := require.New(t)
	sender, recipient := uuid.New(), uuid.New()
	room := models.NewRoomKey(sender, recipient)
	ev := models.ChatEvent("hi there", sender, recipient)

	data, err := encodeEnvelope(room, ev)
	req.NoError(err)

	gotRoom, gotEvent, err := decodeEnvelope(data)
	req.NoError(err)
	req.Equal(room, gotRoom)
	req.Equal(ev, gotEvent)
}

func TestEnvelope_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{`},
		{"missing room", `{"kind":"chat_message","message":"x"}`},
		{"unknown kind", `{"room":"chat_a_b","kind":"shout"}`},
		{"bad sender", `{"room":"chat_a_b","kind":"chat_message","sender":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeEnvelope([]byte(tt.data))
			require.ErrorIs(t, err, ErrBadEnvelope)
		})
	}
}

func TestEnvelope_Encode_Empty_Room(t *testing.T) {
	_, err := encodeEnvelope("", models.PongEvent())
	require.ErrorIs(t, err, ErrBadEnvelope)
}

func TestRelay_Drops_Bad_Envelope(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(zaptest.NewLogger(t), nil)
	member := newFakeMember()
	registry.Join("chat_a_b", member)

	relay(registry, zaptest.NewLogger(t), []byte(`{"room":"chat_a_b","kind":"bogus"}`))
	req.Empty(member.received())

	relay(registry, zaptest.NewLogger(t), []byte(`{"room":"chat_a_b","kind":"chat_message","message":"ok"}`))
	req.Len(member.received(), 1)
	req.Equal("ok", member.received()[0].Message)
}

func TestLocalFanout_Publish(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(zaptest.NewLogger(t), nil)
	fanout := NewLocalFanout(registry)
	defer fanout.Close()

	room := roomFor(t)
	a, b := newFakeMember(), newFakeMember()
	registry.Join(room, a)
	registry.Join(room, b)

	ev := models.ChatEvent("local", uuid.New(), uuid.New())
	req.NoError(fanout.Publish(context.Background(), room, ev))
	req.Equal([]models.Event{ev}, a.received())
	req.Equal([]models.Event{ev}, b.received())
}

func TestRedisFanout_Publish(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	req := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	registry := NewRegistry(zaptest.NewLogger(t), nil)
	fanout, err := NewRedisFanout(ctx, client, registry, zaptest.NewLogger(t))
	req.NoError(err)
	defer fanout.Close()

	room := roomFor(t)
	member := newFakeMember()
	registry.Join(room, member)

	ev := models.ChatEvent("over redis", uuid.New(), uuid.New())
	req.NoError(fanout.Publish(ctx, room, ev))
	req.Eventually(func() bool { return len(member.received()) == 1 }, 3*time.Second, 20*time.Millisecond)
	req.Equal(ev, member.received()[0])
}

func TestNATSFanout_Publish(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	req := require.New(t)

	nc, err := nats.Connect(url)
	req.NoError(err)
	defer nc.Close()

	registry := NewRegistry(zaptest.NewLogger(t), nil)
	fanout, err := NewNATSFanout(nc, registry, zaptest.NewLogger(t))
	req.NoError(err)
	defer fanout.Close()

	room := roomFor(t)
	member := newFakeMember()
	registry.Join(room, member)

	ev := models.ChatEvent("over nats", uuid.New(), uuid.New())
	req.NoError(fanout.Publish(context.Background(), room, ev))
	req.Eventually(func() bool { return len(member.received()) == 1 }, 3*time.Second, 20*time.Millisecond)
	req.Equal(ev, member.received()[0])
}
