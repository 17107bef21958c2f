package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one persisted message of a two-party conversation.
// User1 and User2 are always stored in ascending order so a conversation
// between A and B is the same rows whoever sent them.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	User1     uuid.UUID `json:"user1"`
	User2     uuid.UUID `json:"user2"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PostMessageRequest struct {
	Message string `json:"message" validate:"required,max=4096"`
}
