package token

import "errors"

var (
	// ErrInvalidToken is returned when a token fails parsing, signature
	// verification, or expiry validation. Callers treat all three the same.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrConfig is returned for invalid token configuration.
	ErrConfig = errors.New("invalid token config")
)
