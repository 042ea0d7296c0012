package realtime

import (
	"context"
	"sort"
	"sync"

	v1 "trivector/shared/contracts/realtime/v1"
)

// InMemoryStore is a dev/test fallback backend. It keeps the same history
// cap as the real backends but does not enforce TTLs.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memSession
}

type memSession struct {
	snap    *StateSnapshot
	history []HistoryEvent // ordered by seq
	users   map[string]v1.User
}

// NewInMemoryStore constructs an in-memory SessionStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*memSession)}
}

// Close is a no-op; nothing in-memory outlives the process.
func (s *InMemoryStore) Close() error { return nil }

// Enabled is true: the backend is real enough for the query surface.
func (s *InMemoryStore) Enabled() bool { return true }

func (s *InMemoryStore) session(id string) *memSession {
	m := s.sessions[id]
	if m == nil {
		m = &memSession{users: make(map[string]v1.User)}
		s.sessions[id] = m
	}
	return m
}

// SaveState overwrites the snapshot for a session.
func (s *InMemoryStore) SaveState(ctx context.Context, sessionID string, snap StateSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := snap
	s.session(sessionID).snap = &cp
	return nil
}

// LoadState returns the stored snapshot or ErrNoSnapshot.
func (s *InMemoryStore) LoadState(ctx context.Context, sessionID string) (StateSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return StateSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.sessions[sessionID]
	if m == nil || m.snap == nil {
		return StateSnapshot{}, ErrNoSnapshot
	}
	return *m.snap, nil
}

// DeleteState drops everything stored for a session.
func (s *InMemoryStore) DeleteState(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// AppendHistory appends an event and trims to the newest historyKeepCount.
func (s *InMemoryStore) AppendHistory(ctx context.Context, sessionID string, ev HistoryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.session(sessionID)
	m.history = append(m.history, ev)
	sort.Slice(m.history, func(i, j int) bool { return m.history[i].Seq < m.history[j].Seq })
	if len(m.history) > historyKeepCount {
		m.history = m.history[len(m.history)-historyKeepCount:]
	}
	return nil
}

// RangeHistory returns events in [startSeq, endSeq], seq ascending. A
// negative endSeq selects the tail.
func (s *InMemoryStore) RangeHistory(ctx context.Context, sessionID string, startSeq, endSeq int64) ([]HistoryEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.sessions[sessionID]
	if m == nil {
		return nil, nil
	}
	out := make([]HistoryEvent, 0, len(m.history))
	for _, ev := range m.history {
		if ev.Seq < startSeq {
			continue
		}
		if endSeq >= 0 && ev.Seq > endSeq {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// HistoryCount returns the number of retained events.
func (s *InMemoryStore) HistoryCount(ctx context.Context, sessionID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.sessions[sessionID]
	if m == nil {
		return 0, nil
	}
	return int64(len(m.history)), nil
}

// AddUser records presence for a participant.
func (s *InMemoryStore) AddUser(ctx context.Context, sessionID string, u v1.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(sessionID).users[u.ID] = u
	return nil
}

// RemoveUser drops presence for a participant.
func (s *InMemoryStore) RemoveUser(ctx context.Context, sessionID string, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.sessions[sessionID]; m != nil {
		delete(m.users, userID)
	}
	return nil
}

// ListUsers returns presence records ordered by user id.
func (s *InMemoryStore) ListUsers(ctx context.Context, sessionID string) ([]v1.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.sessions[sessionID]
	if m == nil {
		return nil, nil
	}
	out := make([]v1.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListActiveSessions returns ids that hold a snapshot, ordered for
// determinism.
func (s *InMemoryStore) ListActiveSessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sessions))
	for id, m := range s.sessions {
		if m.snap != nil {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

var _ SessionStore = (*InMemoryStore)(nil)
