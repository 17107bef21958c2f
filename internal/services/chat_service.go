package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tunechat/internal/database"
	"tunechat/internal/models"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	ErrPeerNotFound = errors.New("user not found")
	ErrEmptyMessage = errors.New("message may not be blank")
)

type ChatService struct {
	db database.Database
}

func NewChatService(db database.Database) *ChatService {
	return &ChatService{db: db}
}

// ResolvePeer confirms the other participant of a conversation exists.
func (s *ChatService) ResolvePeer(ctx context.Context, peerID uuid.UUID) (*models.User, error) {
	peer, err := s.db.GetUserByID(ctx, peerID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrPeerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load peer: %w", err)
	}
	return peer, nil
}

// SaveMessage persists a message sent from sender to recipient. The store
// records the pair in canonical order whoever the sender is.
func (s *ChatService) SaveMessage(ctx context.Context, sender, recipient uuid.UUID, body string) (*models.ChatMessage, error) {
	msg, err := s.db.AppendMessage(ctx, sender, recipient, body)
	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

// PostMessage is the request/response path for sending: the peer must
// exist and the body may not be blank.
func (s *ChatService) PostMessage(ctx context.Context, sender, peerID uuid.UUID, body string) (*models.ChatMessage, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := s.ResolvePeer(ctx, peerID); err != nil {
		return nil, err
	}
	return s.SaveMessage(ctx, sender, peerID, strings.TrimSpace(body))
}

// History returns the conversation between userID and peerID, oldest first.
func (s *ChatService) History(ctx context.Context, userID, peerID uuid.UUID) ([]*models.ChatMessage, error) {
	if _, err := s.ResolvePeer(ctx, peerID); err != nil {
		return nil, err
	}
	return s.db.ListConversation(ctx, userID, peerID)
}

// Partners lists everyone userID has exchanged messages with.
func (s *ChatService) Partners(ctx context.Context, userID uuid.UUID) ([]*models.Partner, error) {
	partners, err := s.db.ListPartners(ctx, userID)
	if err != nil {
		return nil, err
	}

	partners = lo.Filter(partners, func(p *models.Partner, _ int) bool {
		return p != nil && p.ID != userID
	})
	return lo.UniqBy(partners, func(p *models.Partner) uuid.UUID { return p.ID }), nil
}
