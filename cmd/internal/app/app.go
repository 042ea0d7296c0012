// Package app wires the trivector server runtime: config, logging, HTTP
// routes, and the realtime collaboration gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"trivector/cmd/identity"
	authapi "trivector/cmd/internal/auth/api"
	"trivector/cmd/internal/auth/token"
	"trivector/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App owns the HTTP server wiring and the realtime dependencies.
type App struct {
	cfg Config
	log Logger

	store  realtime.SessionStore
	dbPool *pgxpool.Pool

	tokens *token.Manager
	hub    *realtime.Hub
	ws     *realtime.WSGateway
	rest   *realtime.SessionAPI
	auth   *authapi.Handler
}

// New constructs a fully wired App from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	tokCfg, err := token.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewManager(tokCfg)
	if err != nil {
		return nil, err
	}

	for _, w := range securityWarnings(cfg, tokCfg) {
		log.Warn("security.config", "warning", w)
	}

	store, dbPool := newSessionStore(context.Background(), cfg, log)

	var metrics *realtime.Metrics
	if cfg.MetricsEnabled {
		metrics = realtime.NewMetrics(nil)
	}

	hub := realtime.NewHub(log, store, metrics)
	ws := realtime.NewWSGateway(log, hub, tokens, metrics, cfg.CORSAllowedOrigins)
	rest := realtime.NewSessionAPI(log, hub)

	auth, err := authapi.NewHandler(log, tokens, identity.NewRegistry(), authapi.LoadConfigFromEnv())
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:    cfg,
		log:    log,
		store:  store,
		dbPool: dbPool,
		tokens: tokens,
		hub:    hub,
		ws:     ws,
		rest:   rest,
		auth:   auth,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error. On the way out it drains the HTTP server, closes all
// live sessions so final snapshots persist, and then releases the store.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	a.registerRoutes(mux)

	handler := WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: orDefault(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       orDefault(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      orDefault(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       orDefault(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    orDefault(a.cfg.MaxHeaderBytes, 1<<20),
	}

	baseURL := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"env", a.cfg.Env,
		"base_url", baseURL,
		"ws_url", wsBaseURL(baseURL)+"/api/v1/session/connect/{session_id}",
		"store_enabled", a.store.Enabled(),
		"metrics_enabled", a.cfg.MetricsEnabled,
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_canceled")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), orDefault(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		a.log.Error("server.shutdown.fail", "err", shutdownErr)
	}

	// WebSocket connections are hijacked and survive srv.Shutdown; closing
	// the hub disconnects them and flushes final session snapshots.
	a.hub.Shutdown(shutdownCtx)

	if err := a.store.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return shutdownErr
}

// orDefault substitutes def for unset (non-positive) config values.
func orDefault[T int | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// newSessionStore picks the persistence backend: Redis when REDIS_URL is
// set, else Postgres when DATABASE_URL is set, else the process-local store
// when MemoryStore is on, else disabled persistence. An unreachable backend
// degrades to disabled persistence with a warning; it never stops startup.
func newSessionStore(ctx context.Context, cfg Config, log Logger) (realtime.SessionStore, *pgxpool.Pool) {
	if cfg.RedisURL != "" {
		st, err := realtime.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("store.redis.unavailable", "err", err)
			return realtime.NewNopStore(), nil
		}
		log.Info("store.redis.enabled")
		return st, nil
	}

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			log.Warn("store.postgres.unavailable", "err", err)
			return realtime.NewNopStore(), nil
		}
		st, err := realtime.NewPostgresStore(pool)
		if err == nil {
			err = st.EnsureSchema(ctx)
		}
		if err != nil {
			pool.Close()
			log.Warn("store.postgres.unavailable", "err", err)
			return realtime.NewNopStore(), nil
		}
		log.Info("store.postgres.enabled")
		return st, pool
	}

	if cfg.MemoryStore {
		log.Info("store.memory.enabled")
		return realtime.NewInMemoryStore(), nil
	}

	log.Info("store.disabled")
	return realtime.NewNopStore(), nil
}
