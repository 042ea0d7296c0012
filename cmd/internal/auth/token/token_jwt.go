// Package token issues, verifies, and refreshes the bearer tokens accepted
// by the WebSocket gateway and the auth REST endpoints.
//
// Tokens are HMAC-signed JWTs with a flat, wire-stable claim set. The
// package is pure: no I/O, no shared state beyond configuration.
package token

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the identity carried by a verified token.
type Principal struct {
	UserID    string
	Username  string
	Email     string
	Anonymous bool
	ExpiresAt time.Time
}

// Claims is the JWT claim set. The flat names are part of the wire contract.
type Claims struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	IsAnonymous bool   `json:"is_anonymous"`
	jwt.RegisteredClaims
}

// Manager issues, verifies, and refreshes bearer tokens.
type Manager struct {
	cfg    Config
	method jwt.SigningMethod

	// now is injectable for expiry tests.
	now func() time.Time
}

// NewManager validates the configuration and constructs a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrConfig
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 24 * time.Hour
	}

	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, ErrConfig
	}

	return &Manager{cfg: cfg, method: method, now: time.Now}, nil
}

// Lifetime returns the configured token lifetime.
func (m *Manager) Lifetime() time.Duration { return m.cfg.Lifetime }

// Issue mints a token for the identity with the configured lifetime.
func (m *Manager) Issue(userID, username, email string, anonymous bool) (string, time.Time, error) {
	now := m.now().UTC()
	expiresAt := now.Add(m.cfg.Lifetime)

	claims := Claims{
		UserID:      userID,
		Username:    username,
		Email:       email,
		IsAnonymous: anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token and returns its principal. Every
// failure mode collapses to ErrInvalidToken; callers never distinguish a
// bad signature from an expired claim.
func (m *Manager) Verify(raw string) (Principal, error) {
	if strings.TrimSpace(raw) == "" {
		return Principal{}, ErrInvalidToken
	}

	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.cfg.Secret), nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil || !tok.Valid {
		return Principal{}, ErrInvalidToken
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Principal{
		UserID:    claims.UserID,
		Username:  claims.Username,
		Email:     claims.Email,
		Anonymous: claims.IsAnonymous,
		ExpiresAt: expiresAt,
	}, nil
}

// Refresh verifies a token and issues a fresh one carrying the same
// identity. Expired tokens are rejected; there is no sliding grace.
func (m *Manager) Refresh(raw string) (string, time.Time, error) {
	p, err := m.Verify(raw)
	if err != nil {
		return "", time.Time{}, err
	}
	return m.Issue(p.UserID, p.Username, p.Email, p.Anonymous)
}
