package app

import (
	"fmt"
	"time"
)

// Config holds the server runtime configuration.
//
// The deployment contract keeps a handful of unprefixed variables (ENV, PORT,
// FRONTEND_URL, REDIS_URL, DATABASE_URL, JWT_*); everything tuning-shaped is
// namespaced under TRIVECTOR_.
type Config struct {
	Env         string // "development" or "production"
	HTTPAddr    string // listen address, derived from PORT unless overridden
	FrontendURL string

	LogLevel  string // debug|info|warn|error
	LogFormat string // json|pretty

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	// Persistence. Redis wins over Postgres when both are set; with neither,
	// MemoryStore opts into process-local persistence, otherwise history and
	// rehydration are disabled.
	RedisURL    string
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	MemoryStore bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	MetricsEnabled bool

	// ReadinessRequireStore makes /readyz fail when persistence is disabled.
	// Off by default: the server is fully functional without a store.
	ReadinessRequireStore bool
}

// LoadConfig reads configuration from the environment.
func LoadConfig() Config {
	port := EnvInt("PORT", 8000)
	frontend := EnvString("FRONTEND_URL", "http://localhost:3000")

	return Config{
		Env:         EnvString("ENV", "development"),
		HTTPAddr:    EnvString("TRIVECTOR_HTTP_ADDR", fmt.Sprintf("0.0.0.0:%d", port)),
		FrontendURL: frontend,

		LogLevel:  EnvString("TRIVECTOR_LOG_LEVEL", "info"),
		LogFormat: EnvString("TRIVECTOR_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("TRIVECTOR_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TRIVECTOR_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TRIVECTOR_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TRIVECTOR_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("TRIVECTOR_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("TRIVECTOR_SHUTDOWN_TIMEOUT", 10*time.Second),

		RedisURL:    EnvString("REDIS_URL", ""),
		DatabaseURL: EnvString("DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TRIVECTOR_DB_MAX_CONNS", 8),
		DBMinConns:  EnvInt32("TRIVECTOR_DB_MIN_CONNS", 0),
		MemoryStore: EnvBool("TRIVECTOR_MEMORY_STORE", false),

		CORSAllowedOrigins:   corsAllowlist(frontend, EnvCSV("TRIVECTOR_CORS_EXTRA_ORIGINS")),
		CORSAllowCredentials: EnvBool("TRIVECTOR_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("TRIVECTOR_CORS_MAX_AGE_SECONDS", 600),

		MetricsEnabled: EnvBool("TRIVECTOR_METRICS_ENABLED", true),

		ReadinessRequireStore: EnvBool("TRIVECTOR_READINESS_REQUIRE_STORE", false),
	}
}

// corsAllowlist is the browser origin allowlist: the configured frontend,
// the hosted product origins, and the usual local dev ports. Extra entries
// come from TRIVECTOR_CORS_EXTRA_ORIGINS and may use a trailing :* to allow
// any port on a host, e.g. "http://127.0.0.1:*".
func corsAllowlist(frontend string, extra []string) []string {
	origins := []string{
		frontend,
		"https://trivector.ai",
		"https://www.trivector.ai",
		"http://localhost:3000",
		"http://localhost:3001",
	}
	origins = append(origins, extra...)

	seen := make(map[string]struct{}, len(origins))
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "" {
			continue
		}
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}
