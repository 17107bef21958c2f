package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"tunechat/internal/auth"
	"tunechat/internal/models"
	"tunechat/pkg/logger"

	"github.com/go-playground/validator/v10"
)

type AuthHandlers struct {
	authService *auth.Service
	validate    *validator.Validate
}

func NewAuthHandlers(authService *auth.Service) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, err := h.authService.Login(r.Context(), &req)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUserInactive):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	case err != nil:
		logger.Error("Login error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, response)
}
