package authapi

import (
	"net/http"
	"strings"

	"trivector/cmd/internal/auth/token"
)

// bearerToken extracts a token from the Authorization header.
func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// queryOrBearerToken prefers the token query parameter (the source wire
// shape) and falls back to the Authorization header.
func queryOrBearerToken(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	return bearerToken(r)
}

// principalEmail returns the principal's email as a nullable JSON field.
// Anonymous users carry no email and serialize as null, matching the wire
// contract.
func principalEmail(p token.Principal) *string {
	if p.Email == "" {
		return nil
	}
	email := p.Email
	return &email
}
