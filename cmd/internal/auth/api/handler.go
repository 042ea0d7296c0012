// Package authapi implements the REST auth surface under /api/v1/auth:
// anonymous and email login, token refresh, verification, and the
// token-introspection endpoint behind "me".
package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"trivector/cmd/identity"
	"trivector/cmd/internal/auth/token"
)

// Handler wires the token-issuing REST endpoints to the identity registry.
//
// Every endpoint speaks JSON and returns `{error: {code, message}}` on
// failure. Anonymous and email logins both end in a signed bearer token that
// the WebSocket gateway accepts.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	tokens   *token.Manager
	registry *identity.Registry
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, tokens *token.Manager, registry *identity.Registry, cfg Config) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if tokens == nil {
		return nil, errors.New("auth: nil token manager")
	}
	if registry == nil {
		registry = identity.NewRegistry()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	return &Handler{
		log:      log,
		cfg:      cfg,
		tokens:   tokens,
		registry: registry,
	}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/v1/auth/anonymous", h.handleAnonymous)
	mux.HandleFunc("POST /api/v1/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /api/v1/auth/verify", h.handleVerify)
	mux.HandleFunc("GET /api/v1/auth/me", h.handleMe)
}

// ---- handlers ----

// handleAnonymous mints a throwaway identity: no credentials, fresh user id
// per call. The body is optional.
func (h *Handler) handleAnonymous(w http.ResponseWriter, r *http.Request) {
	var req anonymousLoginRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
	}

	userID := identity.NewAnonymousID()
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = "User " + userID[len(userID)-6:]
	}

	signed, expiresAt, err := h.tokens.Issue(userID, username, "", true)
	if err != nil {
		h.log.Error("auth.anonymous.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.anonymous.ok", "user_id", userID, "username", username)

	writeJSON(w, http.StatusOK, loginResponse{
		Token:       signed,
		UserID:      userID,
		Username:    username,
		Email:       nil,
		IsAnonymous: true,
		ExpiresAt:   expiresAt,
	})
}

// handleLogin resolves a stable identity for an email via the registry and
// issues a token for it. Password is optional; see identity.Authenticate for
// the binding rules.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "email_required", "Email required")
		return
	}

	acct, err := h.registry.Authenticate(email, strings.TrimSpace(req.Password))
	if err != nil {
		switch {
		case identity.IsInvalidCredentials(err):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		case identity.IsPasswordPolicy(err):
			writeError(w, http.StatusBadRequest, "invalid_password", "password does not meet the configured policy")
		default:
			h.log.Error("auth.login.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	signed, expiresAt, err := h.tokens.Issue(acct.UserID, acct.Username, acct.Email, false)
	if err != nil {
		h.log.Error("auth.login.issue.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("auth.login.ok", "user_id", acct.UserID, "username", acct.Username)

	email = acct.Email
	writeJSON(w, http.StatusOK, loginResponse{
		Token:       signed,
		UserID:      acct.UserID,
		Username:    acct.Username,
		Email:       &email,
		IsAnonymous: false,
		ExpiresAt:   expiresAt,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	raw := strings.TrimSpace(req.Token)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	signed, expiresAt, err := h.tokens.Refresh(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
		return
	}

	h.log.Info("auth.refresh.ok")

	writeJSON(w, http.StatusOK, refreshResponse{
		Token:     signed,
		ExpiresAt: expiresAt,
	})
}

// handleVerify reports whether a token is currently valid. The token travels
// as a query parameter so no-body GET-style checks work from any client.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	p, err := h.tokens.Verify(strings.TrimSpace(r.URL.Query().Get("token")))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Valid:       true,
		UserID:      p.UserID,
		Username:    p.Username,
		Email:       principalEmail(p),
		IsAnonymous: p.Anonymous,
		ExpiresAt:   p.ExpiresAt,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := h.tokens.Verify(queryOrBearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired token")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		UserID:      p.UserID,
		Username:    p.Username,
		Email:       principalEmail(p),
		IsAnonymous: p.Anonymous,
		ExpiresAt:   p.ExpiresAt,
	})
}
