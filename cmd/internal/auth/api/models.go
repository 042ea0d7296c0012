package authapi

import "time"

type anonymousLoginRequest struct {
	Username string `json:"username"`
	// Color is accepted for wire compatibility; it only matters once the
	// client authenticates on the socket.
	Color string `json:"color"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// Provider is the OAuth integration point; currently unused.
	Provider string `json:"provider"`
}

type refreshRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	Token       string    `json:"token"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Email       *string   `json:"email"`
	IsAnonymous bool      `json:"is_anonymous"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type refreshResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type verifyResponse struct {
	Valid       bool      `json:"valid"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Email       *string   `json:"email"`
	IsAnonymous bool      `json:"is_anonymous"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type meResponse struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Email       *string   `json:"email"`
	IsAnonymous bool      `json:"is_anonymous"`
	ExpiresAt   time.Time `json:"expires_at"`
}
