package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"trivector/cmd/internal/auth/token"
	v1 "trivector/shared/contracts/realtime/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	// Presence color defaults when the auth frame carries none.
	anonymousColor     = "#8b5cf6"
	authenticatedColor = "#06b6d4"

	authRejectedMessage = "Invalid or missing authentication token"
)

// TokenVerifier authenticates bearer tokens presented in auth frames.
type TokenVerifier interface {
	Verify(raw string) (token.Principal, error)
}

// WSGateway is the WebSocket entrypoint. It upgrades connections on
// /api/v1/session/connect/{session_id}, runs the per-connection state
// machine (awaiting-auth, then authenticated), and routes frames to the Hub.
//
// Protocol errors are deliberately quiet: malformed or out-of-place frames
// are ignored and the connection stays up. The only frames a client receives
// about its own mistakes are auth:failed and conflict:detected.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	verifier TokenVerifier
	metrics  *Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Allowlist expanded to the host[:port] patterns websocket.Accept checks.
	originPatterns []string

	writeTimeout  time.Duration
	sendQueueSize int

	keepAliveEvery   time.Duration
	keepAliveTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway. allowedOrigins is shared with the HTTP
// CORS layer so the two policies agree; empty means browser clients are only
// accepted same-host.
func NewWSGateway(log *slog.Logger, hub *Hub, verifier TokenVerifier, metrics *Metrics, allowedOrigins []string) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log, nil, metrics)
	}

	g := &WSGateway{log: log, hub: hub, verifier: verifier, metrics: metrics}

	// Skips Accept's origin verification entirely; local tooling only.
	g.devInsecure = envBoolWS("TRIVECTOR_WS_DEV_INSECURE", false)

	// Non-browser clients (CLIs, smoke tools) send no Origin header; they are
	// admitted unless the deployment opts into strict origin presence.
	g.originRequired = envBoolWS("TRIVECTOR_WS_ORIGIN_REQUIRED", false)
	g.allowedOrigins = allowedOrigins
	g.originPatterns = wsOriginPatterns(allowedOrigins)

	g.writeTimeout = envDurationWS("TRIVECTOR_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)

	g.sendQueueSize = envIntWS("TRIVECTOR_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.keepAliveEvery = envDurationWS("TRIVECTOR_WS_KEEPALIVE_INTERVAL", keepAliveInterval)
	g.keepAliveTimeout = envDurationWS("TRIVECTOR_WS_KEEPALIVE_TIMEOUT", keepAliveTimeout)

	g.rateEvents = envIntWS("TRIVECTOR_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("TRIVECTOR_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and runs the
// connection loop until either side closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusNotFound)
		return
	}

	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	connID := NewConnID(time.Now().UTC())
	client := NewClient(connID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// shutdown tears the transport down. Session membership is owned by the
	// read loop and released after it exits, so writer and pinger never touch
	// the session themselves.
	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writePump(ctx, conn, client, shutdown)
	}()

	keepAliveDone := make(chan struct{})
	go func() {
		defer close(keepAliveDone)
		g.keepAlive(ctx, conn, client, shutdown)
	}()

	// Read-loop state. Owned by this goroutine only.
	var (
		joined *Session
		self   v1.User
	)

readLoop:
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				// Malformed frames are ignored; the connection stays up.
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.log.Info("ws.rate.limit", "conn_id", connID, "session_id", sessionID)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.ValidateInbound(); err != nil {
			// Unknown or missing type: ignored, no teardown.
			continue readLoop
		}
		g.metrics.RecordFrame(env.Type)

		if joined == nil {
			// Awaiting auth: every frame except auth is dropped. A rejected
			// token keeps the connection open so the client can retry; the
			// rate limiter bounds that loop.
			if env.Type != v1.TypeAuth {
				continue readLoop
			}
			joined, self = g.onAuth(ctx, client, sessionID, env)
			continue readLoop
		}

		switch env.Type {
		case v1.TypeAuth:
			// Already authenticated; re-auth on a live connection is ignored.

		case v1.TypeParamUpdate:
			g.onParamUpdate(ctx, client, joined, env)

		case v1.TypeConflictResolved:
			g.onConflictResolved(client, joined, env)

		case v1.TypeSessionResync:
			g.onResync(ctx, client, joined, env)

		case v1.TypePing:
			g.enqueue(ctx, client, directEnvelope(v1.TypePong, v1.PongPayload{}))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")

	if joined != nil {
		joined.Leave(client)
		g.metrics.ConnectionClosed()
		g.log.Info("ws.disconnect", "conn_id", connID, "session_id", sessionID, "user_id", self.ID)
	}

	<-writerDone

	select {
	case <-keepAliveDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- frame handlers ----

// onAuth verifies the token, joins the session, and replies auth:success
// with the roster and current state. On rejection it replies auth:failed and
// leaves the connection in the awaiting-auth state.
func (g *WSGateway) onAuth(ctx context.Context, client *Client, sessionID string, env v1.Envelope) (*Session, v1.User) {
	var p v1.AuthPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.Token) == "" || g.verifier == nil {
		g.enqueue(ctx, client, directEnvelope(v1.TypeAuthFailed, v1.AuthFailedPayload{Error: authRejectedMessage}))
		return nil, v1.User{}
	}

	principal, err := g.verifier.Verify(p.Token)
	if err != nil {
		g.log.Info("ws.auth.reject", "conn_id", client.ConnID, "session_id", sessionID)
		g.enqueue(ctx, client, directEnvelope(v1.TypeAuthFailed, v1.AuthFailedPayload{Error: authRejectedMessage}))
		return nil, v1.User{}
	}

	color := strings.TrimSpace(p.Color)
	if color == "" {
		color = authenticatedColor
		if principal.Anonymous {
			color = anonymousColor
		}
	}
	user := v1.User{ID: principal.UserID, Name: principal.Username, Color: color}

	s, snap, err := g.hub.JoinSession(ctx, sessionID, client, user)
	if err != nil {
		g.log.Error("ws.join.fail", "conn_id", client.ConnID, "session_id", sessionID, "err", err)
		g.enqueue(ctx, client, directEnvelope(v1.TypeAuthFailed, v1.AuthFailedPayload{Error: authRejectedMessage}))
		return nil, v1.User{}
	}

	ok := g.enqueue(ctx, client, directEnvelope(v1.TypeAuthSuccess, v1.AuthSuccessPayload{
		SessionID:    sessionID,
		UserID:       user.ID,
		Users:        snap.Users,
		CurrentState: snap.State,
	}))
	if !ok {
		// Cannot deliver the snapshot the client must render from; give up
		// on this connection rather than leave it desynced.
		s.Leave(client)
		return nil, v1.User{}
	}

	g.metrics.ConnectionOpened()
	g.log.Info("ws.auth.ok",
		"conn_id", client.ConnID,
		"session_id", sessionID,
		"user_id", user.ID,
		"anonymous", principal.Anonymous,
	)
	return s, user
}

func (g *WSGateway) onParamUpdate(ctx context.Context, client *Client, s *Session, env v1.Envelope) {
	var p v1.ParamUpdatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return
	}

	res, err := s.Propose(client, map[string]float64(p))
	if err != nil {
		// Out-of-bounds or unknown parameter: the proposal was dropped
		// atomically and the proposer is not told. Rejections are visible in
		// logs and metrics, not on the wire.
		return
	}
	for _, c := range res.Conflicts {
		g.enqueue(ctx, client, directEnvelope(v1.TypeConflictDetected, c))
	}
}

func (g *WSGateway) onConflictResolved(client *Client, s *Session, env v1.Envelope) {
	var p v1.ConflictResolvedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.Param) == "" {
		return
	}
	_, _ = s.Resolve(client, p.Param, p.ResolvedValue)
}

func (g *WSGateway) onResync(ctx context.Context, client *Client, s *Session, env v1.Envelope) {
	var p v1.SessionResyncPayload
	_ = json.Unmarshal(env.Payload, &p)

	st, err := s.Resync(client, p.LastSeenSeq)
	if err != nil {
		return
	}
	g.enqueue(ctx, client, directEnvelope(v1.TypeSessionState, st))
}

// ---- connection pumps ----

// writePump drains the client's send queue onto the wire. It is the only
// goroutine that writes data frames, so envelope order on the socket matches
// queue order.
func (g *WSGateway) writePump(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			// The hub signalled this connection away (dead-peer sweep or
			// session close). Closing the conn unblocks the read loop.
			shutdown(websocket.StatusGoingAway, "session closed")
			return
		case env := <-client.Send:
			if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
				g.log.Info("ws.write.fail", "conn_id", client.ConnID, "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// keepAlive pings on an interval and tears the connection down when a pong
// does not arrive in time, so half-dead peers free their session slot.
func (g *WSGateway) keepAlive(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.keepAliveEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, g.keepAliveTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				g.log.Info("ws.ping.fail", "conn_id", client.ConnID, "err", err)
				shutdown(websocket.StatusGoingAway, "keep-alive timeout")
				return
			}
		}
	}
}

// enqueue offers env to the client's send queue without ever blocking the
// caller. A full queue drops the frame; slow consumers recover via resync.
func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case client.Send <- env:
		return true
	case <-ctx.Done():
	case <-client.Done():
	default:
		g.metrics.RecordDroppedSend()
	}
	return false
}

// ---- envelope IO ----

// readEnvelope blocks for the next frame and decodes it. Text and binary
// frames both carry JSON; control frames never surface from Read.
func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	}

	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return readErrBadJSON
	}
	// Unmarshal errors that cross goroutine or library boundaries can arrive
	// flattened to strings; match the two the decoder produces.
	msg := err.Error()
	if strings.Contains(msg, "unexpected end of JSON input") || strings.Contains(msg, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

// enforceOrigin applies the browser-origin allowlist before the upgrade.
// Requests without an Origin header come from non-browser clients and pass
// unless the deployment requires one.
func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	switch {
	case origin == "":
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	case len(g.allowedOrigins) == 0:
		return errors.New("origin not allowed (empty allowlist)")
	}

	host := originHost(origin)
	for _, entry := range g.allowedOrigins {
		switch entry = strings.TrimSpace(entry); {
		case entry == "":
		case entry == "*":
			return nil
		case entry == origin:
			return nil
		case host != "" && host == originHost(entry):
			// Entries match by host when scheme and port differ; this is what
			// admits any dev-server port on an allowlisted host.
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// originHost extracts the lowercase host (no port) from an origin value.
// Accepts full origins ("https://a.example:8443"), bare host[:port] entries,
// and the wildcard-port form ("http://127.0.0.1:*") shared with the CORS
// allowlist.
func originHost(s string) string {
	s = strings.TrimSuffix(strings.TrimSpace(s), ":*")
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.ToLower(s)
}

// wsOriginPatterns expands the allowlist into the patterns websocket.Accept
// checks. Accept matches each pattern against the origin's host[:port] with
// filepath.Match, so every allowlisted host contributes its bare form plus
// host:* for origins that spell out a port. Accept admits same-host upgrades
// on its own; these patterns cover the cross-origin case.
func wsOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, 2*len(allowed))
	for _, entry := range allowed {
		h := originHost(entry)
		switch h {
		case "":
		case "*":
			seen["*"] = struct{}{}
		default:
			seen[h] = struct{}{}
			seen[h+":*"] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

// The realtime package reads its own knobs so it stays importable without
// the app wiring. Same fallback rules as the app layer: unset, blank, or
// malformed values keep the default.

func wsEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func envBoolWS(key string, def bool) bool {
	if v, ok := wsEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envIntWS(key string, def int) int {
	if v, ok := wsEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDurationWS(key string, def time.Duration) time.Duration {
	if v, ok := wsEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
