package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	v1 "trivector/shared/contracts/realtime/v1"
)

const storeDisabledDetail = "History not available (storage not configured)"

// SessionAPI is the REST surface over live sessions and persisted history.
// Responses use the admin wire shapes clients already depend on, including
// `{"detail": ...}` errors.
type SessionAPI struct {
	log   *slog.Logger
	hub   *Hub
	store SessionStore
}

// NewSessionAPI constructs the REST surface sharing the hub's store.
func NewSessionAPI(log *slog.Logger, hub *Hub) *SessionAPI {
	return &SessionAPI{log: log, hub: hub, store: hub.Store()}
}

// Register mounts every route. The literal /history/active route must be
// registered alongside the {session_id} wildcards: ServeMux prefers the
// literal, so "active" is never read as a session id.
func (a *SessionAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", a.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions", a.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{session_id}", a.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{session_id}", a.handleDeleteSession)

	mux.HandleFunc("GET /api/v1/history/active", a.handleActiveSessions)
	mux.HandleFunc("GET /api/v1/history/{session_id}", a.handleHistory)
	mux.HandleFunc("GET /api/v1/history/{session_id}/full", a.handleFullHistory)
	mux.HandleFunc("GET /api/v1/history/{session_id}/metadata", a.handleMetadata)
	mux.HandleFunc("DELETE /api/v1/history/{session_id}", a.handleDeleteHistory)
}

// ---- wire shapes ----

type createSessionRequest struct {
	Name string `json:"name,omitempty"`
}

type createSessionResponse struct {
	SessionID string    `json:"session_id"`
	JoinURL   string    `json:"join_url"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionInfo describes one live session.
type SessionInfo struct {
	SessionID  string      `json:"session_id"`
	UserCount  int         `json:"user_count"`
	CurrentSeq int64       `json:"current_seq"`
	State      v1.ParamSet `json:"state"`
}

// HistoryResponse is a page of persisted events.
type HistoryResponse struct {
	SessionID  string         `json:"session_id"`
	Events     []HistoryEvent `json:"events"`
	TotalCount int            `json:"total_count"`
}

// SessionMetadataResponse is the persisted overview of one session.
type SessionMetadataResponse struct {
	SessionID    string         `json:"session_id"`
	State        persistedState `json:"state"`
	Users        []v1.User      `json:"users"`
	UserCount    int            `json:"user_count"`
	HistoryCount int64          `json:"history_count"`
	Seq          int64          `json:"seq"`
}

// persistedState mirrors the stored snapshot layout, seq and timestamp
// included.
type persistedState struct {
	Mu        float64   `json:"mu"`
	Omega     float64   `json:"omega"`
	Kappa     float64   `json:"kappa"`
	Beta      float64   `json:"beta"`
	Seq       int64     `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

type deletedResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// ---- session handlers ----

func (a *SessionAPI) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	// The body is optional; a session name is accepted but not yet stored.
	var req createSessionRequest
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req)

	id := NewCollabSessionID()
	a.log.Info("rest.session.create", "session_id", id, "name", req.Name)

	a.writeJSON(w, http.StatusOK, createSessionResponse{
		SessionID: id,
		JoinURL:   "/trilogic?session=" + id,
		CreatedAt: time.Now().UTC(),
	})
}

func (a *SessionAPI) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	live := a.hub.LiveSessions()

	out := make([]SessionInfo, 0, len(live))
	for _, s := range live {
		st := s.StateForQuery()
		out = append(out, SessionInfo{
			SessionID:  s.ID(),
			UserCount:  s.ConnCount(),
			CurrentSeq: st.Seq,
			State:      st.Params,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })

	a.writeJSON(w, http.StatusOK, out)
}

func (a *SessionAPI) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	s, ok := a.hub.Get(id)
	if !ok {
		a.writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}

	st := s.StateForQuery()
	a.writeJSON(w, http.StatusOK, SessionInfo{
		SessionID:  id,
		UserCount:  s.ConnCount(),
		CurrentSeq: st.Seq,
		State:      st.Params,
	})
}

// handleDeleteSession disconnects every participant of a live session and
// removes its persisted footprint.
func (a *SessionAPI) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	ctx := r.Context()

	live := a.hub.DeleteSession(ctx, id)

	persisted := false
	if a.store.Enabled() {
		if _, err := a.store.LoadState(ctx, id); err == nil {
			persisted = true
		}
	}

	if !live && !persisted {
		a.writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}

	if err := a.store.DeleteState(ctx, id); err != nil {
		a.log.Warn("rest.session.delete_state.fail", "session_id", id, "err", err)
	}

	a.log.Info("rest.session.delete", "session_id", id, "was_live", live)
	a.writeJSON(w, http.StatusOK, deletedResponse{Status: "deleted", SessionID: id})
}

// ---- history handlers ----

func (a *SessionAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !a.store.Enabled() {
		a.writeDetail(w, http.StatusServiceUnavailable, storeDisabledDetail)
		return
	}

	startSeq, ok := a.seqQueryParam(w, r, "start_seq", 0)
	if !ok {
		return
	}
	endSeq, ok := a.seqQueryParam(w, r, "end_seq", -1)
	if !ok {
		return
	}

	a.writeHistoryRange(w, r, r.PathValue("session_id"), startSeq, endSeq)
}

func (a *SessionAPI) handleFullHistory(w http.ResponseWriter, r *http.Request) {
	if !a.store.Enabled() {
		a.writeDetail(w, http.StatusServiceUnavailable, storeDisabledDetail)
		return
	}
	a.writeHistoryRange(w, r, r.PathValue("session_id"), 0, -1)
}

func (a *SessionAPI) writeHistoryRange(w http.ResponseWriter, r *http.Request, sessionID string, startSeq, endSeq int64) {
	events, err := a.store.RangeHistory(r.Context(), sessionID, startSeq, endSeq)
	if err != nil {
		// Store failures degrade to an empty page; they are an operator
		// problem, not a client one.
		a.log.Warn("rest.history.fail", "session_id", sessionID, "err", err)
		events = nil
	}
	if events == nil {
		events = []HistoryEvent{}
	}

	a.writeJSON(w, http.StatusOK, HistoryResponse{
		SessionID:  sessionID,
		Events:     events,
		TotalCount: len(events),
	})
}

func (a *SessionAPI) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if !a.store.Enabled() {
		a.writeDetail(w, http.StatusServiceUnavailable, storeDisabledDetail)
		return
	}

	id := r.PathValue("session_id")
	ctx := r.Context()

	snap, err := a.store.LoadState(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			a.writeDetail(w, http.StatusNotFound, "Session not found")
			return
		}
		a.log.Warn("rest.metadata.fail", "session_id", id, "err", err)
		a.writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}

	users, err := a.store.ListUsers(ctx, id)
	if err != nil {
		a.log.Warn("rest.metadata.users.fail", "session_id", id, "err", err)
	}
	if users == nil {
		users = []v1.User{}
	}

	count, err := a.store.HistoryCount(ctx, id)
	if err != nil {
		a.log.Warn("rest.metadata.history.fail", "session_id", id, "err", err)
	}

	a.writeJSON(w, http.StatusOK, SessionMetadataResponse{
		SessionID: id,
		State: persistedState{
			Mu:        snap.Params.Mu,
			Omega:     snap.Params.Omega,
			Kappa:     snap.Params.Kappa,
			Beta:      snap.Params.Beta,
			Seq:       snap.Seq,
			UpdatedAt: snap.UpdatedAt,
		},
		Users:        users,
		UserCount:    len(users),
		HistoryCount: count,
		Seq:          snap.Seq,
	})
}

func (a *SessionAPI) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	if !a.store.Enabled() {
		a.writeDetail(w, http.StatusServiceUnavailable, storeDisabledDetail)
		return
	}

	ids, err := a.store.ListActiveSessions(r.Context())
	if err != nil {
		a.log.Warn("rest.history.active.fail", "err", err)
	}
	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)

	a.writeJSON(w, http.StatusOK, ids)
}

func (a *SessionAPI) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if !a.store.Enabled() {
		a.writeDetail(w, http.StatusServiceUnavailable, storeDisabledDetail)
		return
	}

	id := r.PathValue("session_id")
	if err := a.store.DeleteState(r.Context(), id); err != nil {
		a.log.Warn("rest.history.delete.fail", "session_id", id, "err", err)
	}

	a.log.Info("rest.history.delete", "session_id", id)
	a.writeJSON(w, http.StatusOK, deletedResponse{Status: "deleted", SessionID: id})
}

// ---- helpers ----

func (a *SessionAPI) seqQueryParam(w http.ResponseWriter, r *http.Request, name string, def int64) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		a.writeDetail(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

func (a *SessionAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn("rest.write.fail", "err", err)
	}
}

func (a *SessionAPI) writeDetail(w http.ResponseWriter, status int, detail string) {
	a.writeJSON(w, status, map[string]string{"detail": detail})
}
