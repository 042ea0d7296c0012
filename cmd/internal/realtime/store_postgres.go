// Package realtime contains the collaboration hub, its WebSocket gateway,
// and the session persistence backends.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	v1 "trivector/shared/contracts/realtime/v1"
)

// PostgresStore is a SessionStore backed by PostgreSQL, selected when
// DATABASE_URL is configured and no Redis URL is.
//
// The pgx pool belongs to the caller and outlives the store, so Close is a
// no-op here.
//
// TTL model: every row carries expires_at, refreshed on each write; reads
// filter expired rows, mirroring the Redis idle TTL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "collab").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		switch {
		case schema == "":
			return errors.New("realtime: empty schema")
		case !pgSchemaRE.MatchString(schema):
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed SessionStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("realtime: nil pool")
	}

	st := &PostgresStore{pool: pool, schema: "collab"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// EnsureSchema creates the schema and tables if they do not exist yet. Runs
// once at bootstrap so the server works against an empty database.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	snapshots := relName(s.schema, "session_snapshots")
	events := relName(s.schema, "session_events")
	users := relName(s.schema, "session_users")

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + snapshots + ` (
			session_id text PRIMARY KEY,
			mu double precision NOT NULL,
			omega double precision NOT NULL,
			kappa double precision NOT NULL,
			beta double precision NOT NULL,
			seq bigint NOT NULL,
			updated_at timestamptz NOT NULL,
			expires_at timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + events + ` (
			session_id text NOT NULL,
			seq bigint NOT NULL,
			user_id text NOT NULL,
			params jsonb NOT NULL,
			ts timestamptz NOT NULL,
			expires_at timestamptz NOT NULL,
			PRIMARY KEY (session_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + users + ` (
			session_id text NOT NULL,
			user_id text NOT NULL,
			user_data jsonb NOT NULL,
			expires_at timestamptz NOT NULL,
			PRIMARY KEY (session_id, user_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close is a no-op; see the ownership note on PostgresStore.
func (s *PostgresStore) Close() error { return nil }

// Enabled is true for a configured Postgres backend.
func (s *PostgresStore) Enabled() bool { return true }

// SaveState upserts the snapshot row and refreshes its TTL.
func (s *PostgresStore) SaveState(ctx context.Context, sessionID string, snap StateSnapshot) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}
	if sessionID == "" {
		return errors.New("missing session_id")
	}

	now := time.Now().UTC()
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	snapshots := relName(s.schema, "session_snapshots")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+snapshots+` (session_id, mu, omega, kappa, beta, seq, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (session_id) DO UPDATE
		    SET mu = EXCLUDED.mu,
		        omega = EXCLUDED.omega,
		        kappa = EXCLUDED.kappa,
		        beta = EXCLUDED.beta,
		        seq = EXCLUDED.seq,
		        updated_at = EXCLUDED.updated_at,
		        expires_at = EXCLUDED.expires_at`,
		sessionID, snap.Params.Mu, snap.Params.Omega, snap.Params.Kappa, snap.Params.Beta,
		snap.Seq, updatedAt, now.Add(storeTTL),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// LoadState returns the live snapshot or ErrNoSnapshot.
func (s *PostgresStore) LoadState(ctx context.Context, sessionID string) (StateSnapshot, error) {
	if s == nil || s.pool == nil {
		return StateSnapshot{}, errors.New("realtime: nil store")
	}

	snapshots := relName(s.schema, "session_snapshots")
	var snap StateSnapshot
	err := s.pool.QueryRow(ctx,
		`SELECT mu, omega, kappa, beta, seq, updated_at
		   FROM `+snapshots+`
		  WHERE session_id = $1 AND expires_at > $2`,
		sessionID, time.Now().UTC(),
	).Scan(&snap.Params.Mu, &snap.Params.Omega, &snap.Params.Kappa, &snap.Params.Beta,
		&snap.Seq, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StateSnapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return StateSnapshot{}, fmt.Errorf("load state: %w", err)
	}
	return snap, nil
}

// DeleteState removes the snapshot, events, and presence in one transaction.
func (s *PostgresStore) DeleteState(ctx context.Context, sessionID string) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{"session_events", "session_users", "session_snapshots"} {
		if _, err := tx.Exec(ctx,
			`DELETE FROM `+relName(s.schema, table)+` WHERE session_id = $1`,
			sessionID,
		); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendHistory inserts one event and trims the session to the newest
// historyKeepCount rows.
func (s *PostgresStore) AppendHistory(ctx context.Context, sessionID string, ev HistoryEvent) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}

	events := relName(s.schema, "session_events")
	now := time.Now().UTC()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+events+` (session_id, seq, user_id, params, ts, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id, seq) DO NOTHING`,
		sessionID, ev.Seq, ev.UserID, ev.Params, ev.Timestamp, now.Add(storeTTL),
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM `+events+`
		  WHERE session_id = $1
		    AND seq < COALESCE((
		        SELECT MIN(seq) FROM (
		            SELECT seq FROM `+events+`
		             WHERE session_id = $1
		             ORDER BY seq DESC
		             LIMIT $2
		        ) keep
		    ), 0)`,
		sessionID, historyKeepCount,
	); err != nil {
		return fmt.Errorf("trim events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RangeHistory returns events in [startSeq, endSeq], seq ascending. A
// negative endSeq selects the unbounded tail.
func (s *PostgresStore) RangeHistory(ctx context.Context, sessionID string, startSeq, endSeq int64) ([]HistoryEvent, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}

	events := relName(s.schema, "session_events")
	now := time.Now().UTC()

	var (
		rows pgx.Rows
		err  error
	)
	if endSeq < 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT seq, user_id, params, ts
			   FROM `+events+`
			  WHERE session_id = $1 AND seq >= $2 AND expires_at > $3
			  ORDER BY seq ASC`,
			sessionID, startSeq, now,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT seq, user_id, params, ts
			   FROM `+events+`
			  WHERE session_id = $1 AND seq >= $2 AND seq <= $3 AND expires_at > $4
			  ORDER BY seq ASC`,
			sessionID, startSeq, endSeq, now,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("range history: %w", err)
	}
	defer rows.Close()

	out := make([]HistoryEvent, 0, 64)
	for rows.Next() {
		var ev HistoryEvent
		if err := rows.Scan(&ev.Seq, &ev.UserID, &ev.Params, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("range history: %w", err)
	}
	return out, nil
}

// HistoryCount returns the number of retained events.
func (s *PostgresStore) HistoryCount(ctx context.Context, sessionID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("realtime: nil store")
	}

	events := relName(s.schema, "session_events")
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+events+` WHERE session_id = $1 AND expires_at > $2`,
		sessionID, time.Now().UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("history count: %w", err)
	}
	return n, nil
}

// AddUser upserts presence for a participant.
func (s *PostgresStore) AddUser(ctx context.Context, sessionID string, u v1.User) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}

	users := relName(s.schema, "session_users")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` (session_id, user_id, user_data, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id, user_id) DO UPDATE
		    SET user_data = EXCLUDED.user_data,
		        expires_at = EXCLUDED.expires_at`,
		sessionID, u.ID, u, time.Now().UTC().Add(storeTTL),
	)
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	return nil
}

// RemoveUser drops presence for a participant.
func (s *PostgresStore) RemoveUser(ctx context.Context, sessionID string, userID string) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}

	users := relName(s.schema, "session_users")
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM `+users+` WHERE session_id = $1 AND user_id = $2`,
		sessionID, userID,
	); err != nil {
		return fmt.Errorf("remove user: %w", err)
	}
	return nil
}

// ListUsers returns presence records ordered by user id.
func (s *PostgresStore) ListUsers(ctx context.Context, sessionID string) ([]v1.User, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}

	users := relName(s.schema, "session_users")
	rows, err := s.pool.Query(ctx,
		`SELECT user_data FROM `+users+`
		  WHERE session_id = $1 AND expires_at > $2
		  ORDER BY user_id ASC`,
		sessionID, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]v1.User, 0, 8)
	for rows.Next() {
		var u v1.User
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

// ListActiveSessions returns ids holding a live snapshot.
func (s *PostgresStore) ListActiveSessions(ctx context.Context) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}

	snapshots := relName(s.schema, "session_snapshots")
	rows, err := s.pool.Query(ctx,
		`SELECT session_id FROM `+snapshots+`
		  WHERE expires_at > $1
		  ORDER BY session_id ASC`,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// pgSchemaRE matches unquoted PostgreSQL identifiers. WithSchema rejects
// anything else before a configured schema name can reach SQL text.
var pgSchemaRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// relName renders schema.table quoted for splicing into a statement.
func relName(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

var _ SessionStore = (*PostgresStore)(nil)
