package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"tunechat/internal/auth"
	"tunechat/internal/models"
	"tunechat/internal/services"
	"tunechat/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PeerParam is the route parameter naming the other side of a conversation.
const PeerParam = "other_user_id"

type ChatHandlers struct {
	chatService *services.ChatService
	verifier    auth.Verifier
	validate    *validator.Validate
}

func NewChatHandlers(chatService *services.ChatService, verifier auth.Verifier) *ChatHandlers {
	return &ChatHandlers{
		chatService: chatService,
		verifier:    verifier,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ListChats returns everyone the caller has exchanged messages with.
func (h *ChatHandlers) ListChats(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	partners, err := h.chatService.Partners(r.Context(), user.ID)
	if err != nil {
		logger.Error("List chats error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if partners == nil {
		partners = []*models.Partner{}
	}
	writeJSON(w, http.StatusOK, partners)
}

// ListMessages returns the conversation with the peer, oldest first.
func (h *ChatHandlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	peerID, ok := peerFromPath(w, r)
	if !ok {
		return
	}

	messages, err := h.chatService.History(r.Context(), user.ID, peerID)
	if errors.Is(err, services.ErrPeerNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		logger.Error("List messages error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if messages == nil {
		messages = []*models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// PostMessage stores a message to the peer without going through a live
// connection.
func (h *ChatHandlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	peerID, ok := peerFromPath(w, r)
	if !ok {
		return
	}

	var req models.PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.chatService.PostMessage(r.Context(), user.ID, peerID, req.Message)
	switch {
	case errors.Is(err, services.ErrPeerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, services.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logger.Error("Post message error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandlers) authenticate(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	token, err := auth.ExtractToken(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication credentials were not provided")
		return nil, false
	}

	user, err := h.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		logger.With(zap.Error(err)).Debug("rest authentication failed")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return user, true
}

func peerFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	peerID, err := uuid.Parse(chi.URLParam(r, PeerParam))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}
	return peerID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Encode response error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
