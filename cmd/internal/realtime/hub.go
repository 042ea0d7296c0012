package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	v1 "trivector/shared/contracts/realtime/v1"
)

// Hub owns the live sessions and hands out stable handles. Sessions are
// created on demand, removed when their last participant leaves, and
// recreated (rehydrating from the store) when the id is joined again.
type Hub struct {
	log     *slog.Logger
	store   SessionStore
	metrics *Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub constructs a Hub. store may be nil for a purely in-memory hub;
// metrics may be nil to disable instrumentation.
func NewHub(log *slog.Logger, store SessionStore, metrics *Metrics) *Hub {
	if store == nil {
		store = NewNopStore()
	}
	return &Hub{
		log:      log,
		store:    store,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// Store exposes the persistence backend shared with the query surface.
func (h *Hub) Store() SessionStore { return h.store }

// GetOrCreate returns the live session for id, creating it when absent.
func (h *Hub) GetOrCreate(id string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sessions[id]; ok {
		return s
	}

	s := newSession(id, h.log, h.store, h.metrics, h.now, h.remove)
	h.sessions[id] = s
	h.metrics.SessionOpened()
	h.log.Info("session.created", "session_id", id)
	return s
}

// Get returns the live session for id, if any.
func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// JoinSession registers a connection with the session for id, creating it on
// demand. A join can race the teardown of an emptying instance; losing the
// race evicts the closed instance and retries against a fresh one.
func (h *Hub) JoinSession(ctx context.Context, sessionID string, client *Client, user v1.User) (*Session, JoinSnapshot, error) {
	for {
		s := h.GetOrCreate(sessionID)
		snap, err := s.Join(ctx, client, user)
		if errors.Is(err, ErrSessionClosed) {
			// The instance's own teardown removes it too; remove is
			// instance-compared, so evicting here just guarantees progress.
			h.remove(s)
			continue
		}
		if err != nil {
			return nil, JoinSnapshot{}, err
		}
		return s, snap, nil
	}
}

// remove drops a session from the registry. Instance-compared so a newly
// created session under the same id is never evicted by its predecessor's
// teardown.
func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.sessions[s.id]; ok && cur == s {
		delete(h.sessions, s.id)
		h.log.Info("session.destroyed", "session_id", s.id)
	}
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// ConnectionCount returns the number of live connections across sessions.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	live := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	total := 0
	for _, s := range live {
		total += s.ConnCount()
	}
	return total
}

// LiveSessions snapshots the current session handles.
func (h *Hub) LiveSessions() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// DeleteSession force-closes the live instance of id, if any, without
// persisting. Reports whether a live instance existed. Persisted state is
// the caller's concern.
func (h *Hub) DeleteSession(ctx context.Context, id string) bool {
	s, ok := h.Get(id)
	if !ok {
		return false
	}
	s.Close(ctx, false)
	return true
}

// Shutdown closes every live session, persisting final snapshots, and waits
// for their write-through backlogs to drain (bounded by ctx).
func (h *Hub) Shutdown(ctx context.Context) {
	for _, s := range h.LiveSessions() {
		s.Close(ctx, true)
	}
}
