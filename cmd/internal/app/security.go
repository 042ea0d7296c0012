package app

import (
	"trivector/cmd/internal/auth/token"
)

// securityWarnings inspects the effective configuration for insecure
// settings worth flagging at startup. None are fatal: dev setups run on
// defaults on purpose, so the server warns and keeps going.
func securityWarnings(cfg Config, tokCfg token.Config) []string {
	var warns []string

	if tokCfg.UsingDefaultSecret() {
		warns = append(warns, "JWT_SECRET is the development placeholder; tokens are forgeable")
	}

	if cfg.Env == "production" {
		if cfg.RedisURL == "" && cfg.DatabaseURL == "" && !cfg.MemoryStore {
			warns = append(warns, "no persistence backend configured; sessions will not survive restarts")
		}
		if EnvBool("TRIVECTOR_WS_DEV_INSECURE", false) {
			warns = append(warns, "TRIVECTOR_WS_DEV_INSECURE is on in production; WebSocket TLS verification is disabled")
		}
	}

	return warns
}
