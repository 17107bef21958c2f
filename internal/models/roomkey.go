package models

import (
	"fmt"

	"github.com/google/uuid"
)

// RoomKey identifies the conversation between two users.
type RoomKey string

// OrderedPair returns a and b in canonical ascending order.
func OrderedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if b.String() < a.String() {
		return b, a
	}
	return a, b
}

// NewRoomKey derives the room key for a pair. NewRoomKey(a, b) == NewRoomKey(b, a).
func NewRoomKey(a, b uuid.UUID) RoomKey {
	lo, hi := OrderedPair(a, b)
	return RoomKey(fmt.Sprintf("chat_%s_%s", lo, hi))
}

func (k RoomKey) String() string {
	return string(k)
}
