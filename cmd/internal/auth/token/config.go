package token

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSecret is the development placeholder. Startup logs a warning when
// it is still in use; it is deliberately not a fatal condition.
const DefaultSecret = "dev-secret-key-change-in-production"

// Config defines the runtime configuration for the token subsystem.
type Config struct {
	// Secret is the HMAC key for signing and verification.
	Secret string

	// Algorithm selects the HMAC variant: HS256 (default), HS384, HS512.
	Algorithm string

	// Lifetime is how long issued tokens stay valid.
	Lifetime time.Duration
}

// DefaultConfig returns the development defaults (24h HS256 tokens).
func DefaultConfig() Config {
	return Config{
		Secret:    DefaultSecret,
		Algorithm: "HS256",
		Lifetime:  24 * time.Hour,
	}
}

// LoadConfigFromEnv loads token configuration from environment variables.
//
// Optional:
//   - JWT_SECRET
//   - JWT_ALGORITHM (HS256, HS384, HS512)
//   - JWT_EXPIRATION (hours, positive integer)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("JWT_SECRET")); v != "" {
		cfg.Secret = v
	}

	if v := strings.TrimSpace(os.Getenv("JWT_ALGORITHM")); v != "" {
		cfg.Algorithm = v
	}
	switch cfg.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return Config{}, ErrConfig
	}

	if v := strings.TrimSpace(os.Getenv("JWT_EXPIRATION")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.Lifetime = time.Duration(n) * time.Hour
	}

	return cfg, nil
}

// UsingDefaultSecret reports whether the placeholder secret is still active.
func (c Config) UsingDefaultSecret() bool { return c.Secret == DefaultSecret }
