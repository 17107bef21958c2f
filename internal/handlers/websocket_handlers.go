package handlers

import (
	"errors"
	"net/http"

	"tunechat/internal/auth"
	"tunechat/internal/services"
	ws "tunechat/internal/websocket"
	"tunechat/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type WebSocketHandlers struct {
	verifier    auth.Verifier
	chatService *services.ChatService
	deps        ws.Deps
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(verifier auth.Verifier, chatService *services.ChatService, deps ws.Deps) *WebSocketHandlers {
	if deps.Store == nil {
		deps.Store = chatService
	}
	if deps.Logger == nil {
		deps.Logger = logger.L()
	}

	origins := deps.Config.Origins()
	return &WebSocketHandlers{
		verifier:    verifier,
		chatService: chatService,
		deps:        deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || lo.Contains(origins, "*") || lo.Contains(origins, origin)
			},
		},
	}
}

// HandleChat upgrades the request and walks the connection through
// authentication and room join before handing it to the session pumps.
func (h *WebSocketHandlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	peerID, err := uuid.Parse(chi.URLParam(r, PeerParam))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.deps.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	session := ws.NewSession(conn, h.deps)
	log := h.deps.Logger.With(zap.String("session_id", session.ID()), zap.String("peer_id", peerID.String()))

	token, err := auth.ExtractToken(r)
	if err != nil {
		h.reject(session, ws.CloseAuthRequired, "Authentication required", "missing_token")
		log.Info("connection rejected: no credentials")
		return
	}

	user, err := h.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		reason := rejectionReason(err)
		h.reject(session, ws.CloseAuthFailed, "Authentication failed", reason)
		log.Info("connection rejected: authentication failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	if err := session.Authenticate(user); err != nil {
		log.Error("authenticate session", zap.Error(err))
		session.Close()
		return
	}

	peer, err := h.chatService.ResolvePeer(r.Context(), peerID)
	if errors.Is(err, services.ErrPeerNotFound) {
		h.reject(session, ws.CloseAuthFailed, "User not found", "peer_not_found")
		log.Info("connection rejected: peer does not exist")
		return
	}
	if err != nil {
		h.reject(session, websocket.CloseInternalServerErr, "Internal error", "peer_lookup_failed")
		log.Error("resolve peer", zap.Error(err))
		return
	}

	if err := session.Join(peer); err != nil {
		log.Warn("join room", zap.Error(err))
		session.Close()
		return
	}

	session.Run()
}

func (h *WebSocketHandlers) reject(session *ws.Session, code int, text, reason string) {
	h.deps.Metrics.RecordRejection(reason)
	session.Reject(code, text)
}

// rejectionReason tells a bad token apart from a good token whose user
// cannot chat. Both close the same way.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return "missing_token"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, auth.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, auth.ErrUserInactive):
		return "user_inactive"
	default:
		return "verify_error"
	}
}
