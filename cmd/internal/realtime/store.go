package realtime

import (
	"context"
	"time"

	v1 "trivector/shared/contracts/realtime/v1"
)

// Retention knobs shared by every backend.
const (
	storeTTL         = 24 * time.Hour
	historyKeepCount = 1000
)

// StateSnapshot is the persisted form of one session's state.
type StateSnapshot struct {
	Params    v1.ParamSet
	Seq       int64
	UpdatedAt time.Time
}

// HistoryEvent is one accepted update in a session's ordered history. The
// JSON tags are the persisted and REST-visible layout.
type HistoryEvent struct {
	Seq       int64              `json:"seq"`
	UserID    string             `json:"user_id"`
	Params    map[string]float64 `json:"params"`
	Timestamp time.Time          `json:"timestamp"`
}

// SessionStore persists session snapshots, ordered history, and presence.
//
// Requirements:
//   - Best-effort: the hub treats every error as log-and-continue.
//   - History is ordered by seq and trimmed to the newest historyKeepCount.
//   - Every write refreshes the 24h idle TTL.
//   - LoadState returns ErrNoSnapshot when the session was never persisted.
type SessionStore interface {
	SaveState(ctx context.Context, sessionID string, snap StateSnapshot) error
	LoadState(ctx context.Context, sessionID string) (StateSnapshot, error)
	// DeleteState removes the snapshot, seq marker, presence, and history.
	DeleteState(ctx context.Context, sessionID string) error

	AppendHistory(ctx context.Context, sessionID string, ev HistoryEvent) error
	// RangeHistory returns events with startSeq <= seq <= endSeq, ordered by
	// seq ascending. A negative endSeq selects the unbounded tail.
	RangeHistory(ctx context.Context, sessionID string, startSeq, endSeq int64) ([]HistoryEvent, error)
	HistoryCount(ctx context.Context, sessionID string) (int64, error)

	AddUser(ctx context.Context, sessionID string, u v1.User) error
	RemoveUser(ctx context.Context, sessionID string, userID string) error
	ListUsers(ctx context.Context, sessionID string) ([]v1.User, error)

	// ListActiveSessions enumerates session ids that still hold a snapshot.
	ListActiveSessions(ctx context.Context) ([]string, error)

	// Enabled reports whether a real backend is configured. The query
	// surface answers 503 when it is not.
	Enabled() bool
	Close() error
}

// NopStore is the disabled backend used when no persistence is configured.
// Every write is a silent no-op and every read comes back empty, so sessions
// run purely in memory.
type NopStore struct{}

// NewNopStore constructs the disabled backend.
func NewNopStore() *NopStore { return &NopStore{} }

func (*NopStore) SaveState(context.Context, string, StateSnapshot) error { return nil }

func (*NopStore) LoadState(context.Context, string) (StateSnapshot, error) {
	return StateSnapshot{}, ErrNoSnapshot
}

func (*NopStore) DeleteState(context.Context, string) error { return nil }

func (*NopStore) AppendHistory(context.Context, string, HistoryEvent) error { return nil }

func (*NopStore) RangeHistory(context.Context, string, int64, int64) ([]HistoryEvent, error) {
	return nil, nil
}

func (*NopStore) HistoryCount(context.Context, string) (int64, error) { return 0, nil }

func (*NopStore) AddUser(context.Context, string, v1.User) error { return nil }

func (*NopStore) RemoveUser(context.Context, string, string) error { return nil }

func (*NopStore) ListUsers(context.Context, string) ([]v1.User, error) { return nil, nil }

func (*NopStore) ListActiveSessions(context.Context) ([]string, error) { return nil, nil }

func (*NopStore) Enabled() bool { return false }

func (*NopStore) Close() error { return nil }

var _ SessionStore = (*NopStore)(nil)
