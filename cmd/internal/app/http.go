package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	serviceName    = "trivector-collab"
	serviceVersion = "1.0.0"
)

// registerRoutes mounts the full HTTP surface: service info, health and
// readiness, optional Prometheus metrics, the auth and session REST APIs,
// and the WebSocket entrypoint.
func (a *App) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", a.handleRoot)
	mux.HandleFunc("GET /health", a.handleHealth)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", a.handleReadiness)

	if a.cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	a.auth.Register(mux)
	a.rest.Register(mux)

	mux.HandleFunc("GET /api/v1/session/connect/{session_id}", a.ws.HandleWS)
}

// handleRoot serves the service discovery payload.
func (a *App) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":   "Trivector.ai Collaboration API",
		"version":   serviceVersion,
		"websocket": "/api/v1/session/connect/{session_id}",
		"health":    "/health",
	})
}

// handleHealth reports liveness plus the live session and connection counts.
func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"service":           serviceName,
		"version":           serviceVersion,
		"active_sessions":   a.hub.SessionCount(),
		"total_connections": a.hub.ConnectionCount(),
	})
}

// storePinger is implemented by backends that can be probed for readiness.
type storePinger interface {
	Ping(ctx context.Context) error
}

func (a *App) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireStore && !a.store.Enabled() {
		http.Error(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	if a.dbPool != nil {
		if err := PingDB(r.Context(), a.dbPool, 2*time.Second); err != nil {
			a.log.Info("readyz.store.not_ready", "backend", "postgres", "err", err)
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
	} else if p, ok := a.store.(storePinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			a.log.Info("readyz.store.not_ready", "backend", "redis", "err", err)
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// runtimeBaseURL renders a clickable base URL for startup logs. Bind-all
// hosts map to 127.0.0.1 so the printed URL actually works.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL converts an http(s) base URL into the matching ws(s) URL.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
