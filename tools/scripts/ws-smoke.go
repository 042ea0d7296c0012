// Package main provides a CI-friendly smoke test for the trivector
// collaboration server.
//
// Steps covered:
//   - session minting over REST
//   - anonymous token minting over REST
//   - WebSocket connect + auth handshake with snapshot delivery
//   - presence fanout (session:joined)
//   - param:update -> param:broadcast to the other participant
//   - conflict detection inside the concurrency window
//   - conflict:resolved apply + fanout
//   - session:resync snapshot with derived beta
//   - live session info and persisted history over REST
//
// The conflict step assumes the second proposal lands inside the server's
// 500ms window, which holds for local and CI loopback runs.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "trivector/shared/contracts/realtime/v1"
)

const (
	maxReadBytes = 1 << 20 // 1MiB

	// Defaults minted by a fresh session; drift here means a contract break.
	wantDefaultMu    = 0.569
	wantDefaultOmega = 0.847
	wantDefaultKappa = 0.0207

	floatSlack = 1e-9
)

type smokeClient struct {
	name   string
	conn   *websocket.Conn
	userID string
	token  string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		base    = flag.String("base", "http://127.0.0.1:8000", "HTTP base URL of the server")
		origin  = flag.String("origin", "", "Origin header to send (empty = none, like a native client)")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout budget")
		verbose = flag.Bool("v", false, "chatty progress output")
	)
	flag.Parse()

	if err := checkHTTPURL(*base, "base"); err != nil {
		fatalf("invalid -base: %v", err)
	}
	if strings.TrimSpace(*origin) != "" {
		if err := checkHTTPURL(*origin, "origin"); err != nil {
			fatalf("invalid -origin: %v", err)
		}
	}

	root := context.Background()
	httpc := &http.Client{Timeout: *timeout}

	sessionID := mustCreateSession(httpc, *base)
	if *verbose {
		fmt.Printf("session minted: %s\n", sessionID)
	}

	a := mustConnect(root, httpc, "A", *base, sessionID, *origin, *timeout)
	defer closeWS(a.conn)

	snapA := a.mustAuth(root, sessionID, *timeout)
	assertDefaultState(a.name, snapA.CurrentState)
	if len(snapA.Users) != 1 || snapA.Users[0].ID != a.userID {
		fatalf("auth:success roster (%s): got=%+v want=[self]", a.name, snapA.Users)
	}

	b := mustConnect(root, httpc, "B", *base, sessionID, *origin, *timeout)
	defer closeWS(b.conn)

	snapB := b.mustAuth(root, sessionID, *timeout)
	if len(snapB.Users) != 2 {
		fatalf("auth:success roster (%s): got=%d users, want 2", b.name, len(snapB.Users))
	}

	// A sees B arrive; presence frames are tagged with the current seq.
	joined := a.mustRead(root, v1.TypeSessionJoined, *timeout)
	var jp v1.SessionJoinedPayload
	mustUnmarshal(a.name, joined, &jp)
	if jp.User.ID != b.userID {
		fatalf("session:joined (%s): got user=%q want=%q", a.name, jp.User.ID, b.userID)
	}
	if joined.Seq == nil || *joined.Seq != 0 {
		fatalf("session:joined (%s): seq=%v, want tagged with 0", a.name, joined.Seq)
	}

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	// Accepted update fans out to B only; the proposer renders locally.
	a.mustWrite(root, v1.TypeParamUpdate, v1.ParamUpdatePayload{"mu": 0.62}, *timeout)

	bcast := b.mustRead(root, v1.TypeParamBroadcast, *timeout)
	var bp v1.ParamBroadcastPayload
	mustUnmarshal(b.name, bcast, &bp)
	if bcast.Seq == nil || *bcast.Seq != 1 {
		fatalf("param:broadcast (%s): seq=%v want=1", b.name, bcast.Seq)
	}
	if bcast.Timestamp == nil || bcast.Timestamp.IsZero() {
		fatalf("param:broadcast (%s): missing timestamp", b.name)
	}
	if bp.UserID != a.userID || !near(bp.Params["mu"], 0.62) {
		fatalf("param:broadcast (%s): got=%+v want mu=0.62 from %s", b.name, bp, a.userID)
	}
	a.mustStayQuiet(root, 300*time.Millisecond)

	// B proposes a different mu right away: inside the window, against A's
	// fresh stamp, beyond tolerance. The whole proposal must bounce back as
	// conflict:detected to B alone.
	b.mustWrite(root, v1.TypeParamUpdate, v1.ParamUpdatePayload{"mu": 0.585}, *timeout)

	conflict := b.mustRead(root, v1.TypeConflictDetected, *timeout)
	var cp v1.ConflictDetectedPayload
	mustUnmarshal(b.name, conflict, &cp)
	if cp.Param != "mu" {
		fatalf("conflict:detected (%s): param=%q want=mu", b.name, cp.Param)
	}
	if !near(cp.YourValue, 0.585) || !near(cp.TheirValue, 0.62) {
		fatalf("conflict:detected (%s): yours=%v theirs=%v want 0.585/0.62", b.name, cp.YourValue, cp.TheirValue)
	}
	if cp.TheirUserID != a.userID {
		fatalf("conflict:detected (%s): theirUserId=%q want=%q", b.name, cp.TheirUserID, a.userID)
	}
	a.mustStayQuiet(root, 300*time.Millisecond)

	// B resolves: applied without a conflict check, fanned out to A.
	b.mustWrite(root, v1.TypeConflictResolved, v1.ConflictResolvedPayload{
		Param:         "mu",
		ResolvedValue: 0.585,
		Strategy:      "local",
	}, *timeout)

	resolved := a.mustRead(root, v1.TypeParamBroadcast, *timeout)
	var rp v1.ParamBroadcastPayload
	mustUnmarshal(a.name, resolved, &rp)
	if resolved.Seq == nil || *resolved.Seq != 2 {
		fatalf("resolve broadcast (%s): seq=%v want=2", a.name, resolved.Seq)
	}
	if rp.UserID != b.userID || !near(rp.Params["mu"], 0.585) {
		fatalf("resolve broadcast (%s): got=%+v want mu=0.585 from %s", a.name, rp, b.userID)
	}

	// Resync returns the full snapshot to the requester only.
	a.mustWrite(root, v1.TypeSessionResync, v1.SessionResyncPayload{LastSeenSeq: 2}, *timeout)

	state := a.mustRead(root, v1.TypeSessionState, *timeout)
	var sp v1.SessionStatePayload
	mustUnmarshal(a.name, state, &sp)
	if sp.Seq != 2 || !near(sp.Params.Mu, 0.585) {
		fatalf("session:state (%s): seq=%d mu=%v, want seq=2 mu=0.585", a.name, sp.Seq, sp.Params.Mu)
	}
	if wantBeta := 1 - sp.Params.Mu - sp.Params.Kappa*10.8; !near(sp.Params.Beta, wantBeta) {
		fatalf("session:state (%s): beta=%v want derived %v", a.name, sp.Params.Beta, wantBeta)
	}
	b.mustStayQuiet(root, 300*time.Millisecond)

	mustSessionInfo(httpc, *base, sessionID, 2, 2)
	mustHistory(httpc, *base, sessionID, a.userID, b.userID, *verbose)

	fmt.Printf("OK: session=%s A=%s B=%s seq=2 mu=0.585\n", sessionID, a.userID, b.userID)
}

// ---- REST steps ----

func mustCreateSession(httpc *http.Client, base string) string {
	var res struct {
		SessionID string `json:"session_id"`
		JoinURL   string `json:"join_url"`
	}
	status := mustPostJSON(httpc, base+"/api/v1/sessions", map[string]string{"name": "ws-smoke"}, &res)
	if status != http.StatusOK {
		fatalf("create session: status=%d", status)
	}
	if strings.TrimSpace(res.SessionID) == "" {
		fatalf("create session: missing session_id")
	}
	if !strings.Contains(res.JoinURL, res.SessionID) {
		fatalf("create session: join_url %q does not embed id %q", res.JoinURL, res.SessionID)
	}
	return res.SessionID
}

func mustMintToken(httpc *http.Client, base, name string) (token, userID string) {
	var res struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	status := mustPostJSON(httpc, base+"/api/v1/auth/anonymous", map[string]string{"username": name}, &res)
	if status != http.StatusOK {
		fatalf("mint token for %s: status=%d", name, status)
	}
	if strings.TrimSpace(res.Token) == "" || strings.TrimSpace(res.UserID) == "" {
		fatalf("mint token for %s: incomplete response", name)
	}
	return res.Token, res.UserID
}

func mustSessionInfo(httpc *http.Client, base, sessionID string, wantUsers int, wantSeq int64) {
	var res struct {
		SessionID  string `json:"session_id"`
		UserCount  int    `json:"user_count"`
		CurrentSeq int64  `json:"current_seq"`
	}
	status := mustGetJSON(httpc, base+"/api/v1/sessions/"+sessionID, &res)
	if status != http.StatusOK {
		fatalf("get session: status=%d", status)
	}
	if res.UserCount != wantUsers || res.CurrentSeq != wantSeq {
		fatalf("get session: users=%d seq=%d, want users=%d seq=%d", res.UserCount, res.CurrentSeq, wantUsers, wantSeq)
	}
}

func mustHistory(httpc *http.Client, base, sessionID, userA, userB string, verbose bool) {
	var res struct {
		Events []struct {
			Seq    int64              `json:"seq"`
			UserID string             `json:"user_id"`
			Params map[string]float64 `json:"params"`
		} `json:"events"`
		TotalCount int `json:"total_count"`
	}
	status := mustGetJSON(httpc, base+"/api/v1/history/"+sessionID, &res)
	if status == http.StatusServiceUnavailable {
		// Store-less deployments answer 503; nothing to verify server-side.
		if verbose {
			fmt.Println("history skipped: storage not configured")
		}
		return
	}
	if status != http.StatusOK {
		fatalf("get history: status=%d", status)
	}
	if res.TotalCount != 2 || len(res.Events) != 2 {
		fatalf("get history: total=%d events=%d, want 2", res.TotalCount, len(res.Events))
	}
	if res.Events[0].Seq != 1 || res.Events[0].UserID != userA {
		fatalf("get history: event[0]=%+v, want seq=1 from %s", res.Events[0], userA)
	}
	if res.Events[1].Seq != 2 || res.Events[1].UserID != userB || !near(res.Events[1].Params["mu"], 0.585) {
		fatalf("get history: event[1]=%+v, want seq=2 mu=0.585 from %s", res.Events[1], userB)
	}
}

func mustPostJSON(httpc *http.Client, url string, in, out any) int {
	body, err := json.Marshal(in)
	if err != nil {
		fatalf("marshal request: %v", err)
	}
	res, err := httpc.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		fatalf("POST %s: %v", url, err)
	}
	return decodeResponse(url, res, out)
}

func mustGetJSON(httpc *http.Client, url string, out any) int {
	res, err := httpc.Get(url)
	if err != nil {
		fatalf("GET %s: %v", url, err)
	}
	return decodeResponse(url, res, out)
}

func decodeResponse(url string, res *http.Response, out any) int {
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, maxReadBytes))
	if err != nil {
		fatalf("read %s: %v", url, err)
	}
	if res.StatusCode == http.StatusOK && out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			fatalf("decode %s: %v (body=%s)", url, err, data)
		}
	}
	return res.StatusCode
}

// ---- WebSocket steps ----

func mustConnect(parent context.Context, httpc *http.Client, name, base, sessionID, origin string, stepTimeout time.Duration) *smokeClient {
	tok, userID := mustMintToken(httpc, base, "Smoke "+name)

	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if strings.TrimSpace(origin) != "" {
		opts.HTTPHeader.Set("Origin", origin)
	}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, deriveWSURL(base)+"/api/v1/session/connect/"+sessionID, opts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("dial %s: %v", name, err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		conn:   conn,
		userID: userID,
		token:  tok,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	go c.readLoop()
	return c
}

// readLoop pumps frames into inbox until the connection drops. A full inbox
// means the step sequencing is wrong, not the server.
func (c *smokeClient) readLoop() {
	defer close(c.inbox)

	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.reportErr(err)
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.reportErr(fmt.Errorf("frame not an envelope: %w", err))
			return
		}
		select {
		case c.inbox <- env:
		default:
			c.reportErr(errors.New("inbox full"))
			return
		}
	}
}

func (c *smokeClient) reportErr(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// mustAuth performs the in-band handshake and returns the delivered snapshot.
func (c *smokeClient) mustAuth(parent context.Context, sessionID string, stepTimeout time.Duration) v1.AuthSuccessPayload {
	c.mustWrite(parent, v1.TypeAuth, v1.AuthPayload{Token: c.token}, stepTimeout)

	env := c.mustRead(parent, v1.TypeAuthSuccess, stepTimeout)

	var p v1.AuthSuccessPayload
	mustUnmarshal(c.name, env, &p)
	if p.SessionID != sessionID {
		fatalf("auth:success (%s): sessionId=%q want=%q", c.name, p.SessionID, sessionID)
	}
	if p.UserID != c.userID {
		fatalf("auth:success (%s): userId=%q want=%q", c.name, p.UserID, c.userID)
	}
	return p
}

func (c *smokeClient) mustWrite(parent context.Context, typ string, payload any, stepTimeout time.Duration) {
	raw, err := json.Marshal(payload)
	if err != nil {
		fatalf("marshal %s payload: %v", typ, err)
	}
	frame, err := json.Marshal(v1.Envelope{Type: typ, Payload: raw})
	if err != nil {
		fatalf("marshal %s envelope: %v", typ, err)
	}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		fatalf("write %s (%s): %v", typ, c.name, err)
	}
}

// mustRead returns the next envelope of the wanted type. auth:failed is
// always fatal; anything else unexpected is fatal too, so protocol drift
// surfaces as a loud smoke failure instead of a hang.
func (c *smokeClient) mustRead(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		var env v1.Envelope
		select {
		case <-ctx.Done():
			fatalf("no %q within %s (%s)", wantType, stepTimeout, c.name)
		case err := <-c.errCh:
			fatalf("read failed waiting for %q (%s): %v", wantType, c.name, err)
		case got, ok := <-c.inbox:
			if !ok {
				fatalf("socket closed waiting for %q (%s)", wantType, c.name)
			}
			env = got
		}

		switch env.Type {
		case wantType:
			return env
		case v1.TypePong:
			// keepalive noise between steps
		case v1.TypeAuthFailed:
			var p v1.AuthFailedPayload
			_ = json.Unmarshal(env.Payload, &p)
			fatalf("auth rejected (%s): %s", c.name, p.Error)
		default:
			fatalf("got %q while waiting for %q (%s)", env.Type, wantType, c.name)
		}
	}
}

// mustStayQuiet asserts no envelope arrives within the wait. Proposers must
// not hear their own accepted updates, and rejected proposals fan out to
// nobody.
func (c *smokeClient) mustStayQuiet(parent context.Context, wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-parent.Done():
	case err := <-c.errCh:
		fatalf("read failed while expecting quiet (%s): %v", c.name, err)
	case env, ok := <-c.inbox:
		if !ok {
			fatalf("socket closed while expecting quiet (%s)", c.name)
		}
		fatalf("unexpected %q while expecting quiet (%s)", env.Type, c.name)
	}
}

// ---- plumbing ----

// checkHTTPURL validates the scheme and host of -base and -origin values.
func checkHTTPURL(raw, what string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be http or https, got %q", what, u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return fmt.Errorf("%s missing host", what)
	}
	return nil
}

func deriveWSURL(base string) string {
	if after, ok := strings.CutPrefix(base, "https://"); ok {
		return "wss://" + after
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}

func assertDefaultState(name string, st v1.SessionStatePayload) {
	if st.Seq != 0 {
		fatalf("fresh session (%s): seq=%d want=0", name, st.Seq)
	}
	if !near(st.Params.Mu, wantDefaultMu) || !near(st.Params.Omega, wantDefaultOmega) || !near(st.Params.Kappa, wantDefaultKappa) {
		fatalf("fresh session (%s): params=%+v, want defaults", name, st.Params)
	}
	if wantBeta := 1 - wantDefaultMu - wantDefaultKappa*10.8; !near(st.Params.Beta, wantBeta) {
		fatalf("fresh session (%s): beta=%v want derived %v", name, st.Params.Beta, wantBeta)
	}
}

func mustUnmarshal(name string, env v1.Envelope, out any) {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		fatalf("unmarshal %s payload (%s): %v", env.Type, name, err)
	}
}

func near(got, want float64) bool {
	return math.Abs(got-want) <= floatSlack
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "smoke done")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
