package websocket

import (
	"sync"

	"tunechat/internal/models"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Member is anything that can sit in a room and receive events.
type Member interface {
	ID() string
	Deliver(ev models.Event) error
}

// disconnecter is implemented by members that own a connection.
type disconnecter interface {
	Disconnect(code int, reason string)
}

// Registry maps room keys to the members currently connected to them. It
// is the rendezvous point for the two sides of a conversation: both
// connections register under the same symmetric key.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[models.RoomKey]map[Member]struct{}
	logger  *zap.Logger
	metrics *Metrics
}

func NewRegistry(logger *zap.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:   make(map[models.RoomKey]map[Member]struct{}),
		logger:  logger,
		metrics: metrics,
	}
}

// Join adds m to room. It reports whether m was not already there.
func (r *Registry) Join(room models.RoomKey, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[Member]struct{})
		r.rooms[room] = members
	}
	if _, exists := members[m]; exists {
		return false
	}
	members[m] = struct{}{}
	return true
}

// Leave removes m from room and prunes the room once empty. Leaving a room
// you are not in is a no-op.
func (r *Registry) Leave(room models.RoomKey, m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[m]; !exists {
		return false
	}
	delete(members, m)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	return true
}

// Members returns a snapshot of the members of room.
func (r *Registry) Members(room models.RoomKey) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.rooms[room])
}

func (r *Registry) Count(room models.RoomKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Publish delivers ev to every member of room at the time of the call and
// returns how many accepted it. Deliveries run outside the lock; a failing
// member is logged and skipped.
func (r *Registry) Publish(room models.RoomKey, ev models.Event) int {
	delivered := 0
	for _, m := range r.Members(room) {
		if err := m.Deliver(ev); err != nil {
			r.metrics.recordDelivery("dropped")
			r.logger.Warn("fan-out delivery failed",
				zap.String("room", room.String()),
				zap.String("member", m.ID()),
				zap.Stringer("kind", ev.Kind),
				zap.Error(err))
			continue
		}
		r.metrics.recordDelivery("delivered")
		delivered++
	}
	return delivered
}

// CloseAll disconnects every member with a going-away close frame and
// returns how many were closed. Members leave their rooms as they close.
func (r *Registry) CloseAll(reason string) int {
	r.mu.RLock()
	var members []Member
	for _, room := range r.rooms {
		members = append(members, lo.Keys(room)...)
	}
	r.mu.RUnlock()

	closed := 0
	for _, m := range lo.Uniq(members) {
		if d, ok := m.(disconnecter); ok {
			d.Disconnect(websocket.CloseGoingAway, reason)
			closed++
		}
	}
	return closed
}
