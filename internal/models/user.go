package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Image        string    `json:"image,omitempty"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Partner is the public view of a user someone has chatted with.
type Partner struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Image    string    `json:"image,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	User   User   `json:"user"`
	Access string `json:"access"`
}
