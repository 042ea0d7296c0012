package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	v1 "trivector/shared/contracts/realtime/v1"
)

const redisKeyPrefix = "session:"

// storedState is the JSON layout of the session:<id>:state key.
type storedState struct {
	Mu        float64   `json:"mu"`
	Omega     float64   `json:"omega"`
	Kappa     float64   `json:"kappa"`
	Beta      float64   `json:"beta"`
	Seq       int64     `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisStore persists sessions in Redis.
//
// Layout per session id S: string session:S:state (storedState JSON), scalar
// session:S:seq, hash session:S:users (user id -> user JSON), sorted set
// session:S:history scored by seq. Every write refreshes the 24h TTL.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore parses a redis:// URL and verifies the backend with a ping.
func NewRedisStore(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client. Useful for tests.
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func stateKey(id string) string   { return redisKeyPrefix + id + ":state" }
func seqKey(id string) string     { return redisKeyPrefix + id + ":seq" }
func usersKey(id string) string   { return redisKeyPrefix + id + ":users" }
func historyKey(id string) string { return redisKeyPrefix + id + ":history" }

// SaveState overwrites the snapshot and seq marker for a session.
func (s *RedisStore) SaveState(ctx context.Context, sessionID string, snap StateSnapshot) error {
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(storedState{
		Mu:        snap.Params.Mu,
		Omega:     snap.Params.Omega,
		Kappa:     snap.Params.Kappa,
		Beta:      snap.Params.Beta,
		Seq:       snap.Seq,
		UpdatedAt: updatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, stateKey(sessionID), b, storeTTL)
	pipe.Set(ctx, seqKey(sessionID), strconv.FormatInt(snap.Seq, 10), storeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// LoadState returns the stored snapshot or ErrNoSnapshot.
func (s *RedisStore) LoadState(ctx context.Context, sessionID string) (StateSnapshot, error) {
	raw, err := s.client.Get(ctx, stateKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return StateSnapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return StateSnapshot{}, fmt.Errorf("load state: %w", err)
	}

	var st storedState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return StateSnapshot{}, fmt.Errorf("decode state: %w", err)
	}
	return StateSnapshot{
		Params:    v1.ParamSet{Mu: st.Mu, Omega: st.Omega, Kappa: st.Kappa, Beta: st.Beta},
		Seq:       st.Seq,
		UpdatedAt: st.UpdatedAt,
	}, nil
}

// DeleteState removes the snapshot, seq marker, presence, and history.
func (s *RedisStore) DeleteState(ctx context.Context, sessionID string) error {
	err := s.client.Del(ctx,
		stateKey(sessionID),
		seqKey(sessionID),
		usersKey(sessionID),
		historyKey(sessionID),
	).Err()
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// AppendHistory adds one event, trims to the newest historyKeepCount, and
// refreshes the TTL.
func (s *RedisStore) AppendHistory(ctx context.Context, sessionID string, ev HistoryEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := historyKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(ev.Seq), Member: b})
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-historyKeepCount-1))
	pipe.Expire(ctx, key, storeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// RangeHistory returns events in [startSeq, endSeq], seq ascending. A
// negative endSeq selects the unbounded tail.
func (s *RedisStore) RangeHistory(ctx context.Context, sessionID string, startSeq, endSeq int64) ([]HistoryEvent, error) {
	max := "+inf"
	if endSeq >= 0 {
		max = strconv.FormatInt(endSeq, 10)
	}
	raw, err := s.client.ZRangeByScore(ctx, historyKey(sessionID), &redis.ZRangeBy{
		Min: strconv.FormatInt(startSeq, 10),
		Max: max,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range history: %w", err)
	}

	events := make([]HistoryEvent, 0, len(raw))
	for _, m := range raw {
		var ev HistoryEvent
		if err := json.Unmarshal([]byte(m), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// HistoryCount returns the number of retained events.
func (s *RedisStore) HistoryCount(ctx context.Context, sessionID string) (int64, error) {
	n, err := s.client.ZCard(ctx, historyKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("history count: %w", err)
	}
	return n, nil
}

// AddUser records presence for a participant.
func (s *RedisStore) AddUser(ctx context.Context, sessionID string, u v1.User) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	key := usersKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, u.ID, b)
	pipe.Expire(ctx, key, storeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	return nil
}

// RemoveUser drops presence for a participant.
func (s *RedisStore) RemoveUser(ctx context.Context, sessionID string, userID string) error {
	if err := s.client.HDel(ctx, usersKey(sessionID), userID).Err(); err != nil {
		return fmt.Errorf("remove user: %w", err)
	}
	return nil
}

// ListUsers returns presence records ordered by user id.
func (s *RedisStore) ListUsers(ctx context.Context, sessionID string) ([]v1.User, error) {
	raw, err := s.client.HGetAll(ctx, usersKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]v1.User, 0, len(raw))
	for _, m := range raw {
		var u v1.User
		if err := json.Unmarshal([]byte(m), &u); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListActiveSessions scans for snapshot keys and extracts the session ids.
func (s *RedisStore) ListActiveSessions(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*:state", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := strings.TrimSuffix(strings.TrimPrefix(key, redisKeyPrefix), ":state")
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Enabled is true for a configured Redis backend.
func (s *RedisStore) Enabled() bool { return true }

// Ping checks the backend connection. Readiness probes call this.
func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

var _ SessionStore = (*RedisStore)(nil)
