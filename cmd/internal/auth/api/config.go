package authapi

import (
	"os"
	"strconv"
	"strings"
)

// Config controls auth API behavior.
type Config struct {
	MaxBodyBytes int64
}

// LoadConfigFromEnv reads the auth knobs from the environment. Unset or
// unusable values keep their defaults; NewHandler clamps the rest.
func LoadConfigFromEnv() Config {
	return Config{
		MaxBodyBytes: envInt64("TRIVECTOR_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
	}
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
		return n
	}
	return def
}
