//go:generate go run go.uber.org/mock/mockgen -source=interfaces.go -destination=../mocks/mock_database.go -package=mocks

package database

import (
	"context"
	"errors"

	"tunechat/internal/models"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("record not found")

type UserRepository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// MessageRepository is the durable conversation store. Implementations
// store the participant pair in canonical order.
type MessageRepository interface {
	AppendMessage(ctx context.Context, userA, userB uuid.UUID, body string) (*models.ChatMessage, error)
	ListConversation(ctx context.Context, userA, userB uuid.UUID) ([]*models.ChatMessage, error)
	ListPartners(ctx context.Context, userID uuid.UUID) ([]*models.Partner, error)
}

type Database interface {
	UserRepository
	MessageRepository
	Ping(ctx context.Context) error
	Close() error
}
