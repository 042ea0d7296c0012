package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	v1 "trivector/shared/contracts/realtime/v1"
)

const (
	// persistTimeout bounds each detached store write.
	persistTimeout = 5 * time.Second

	// persistQueueSize bounds the per-session persistence backlog.
	persistQueueSize = 128
)

// paramStamp records who last changed a parameter and when. Conflict
// detection compares incoming proposals against these stamps.
type paramStamp struct {
	at       time.Time
	userID   string
	userName string
}

type persistJob struct {
	op string
	fn func(context.Context) error
}

// JoinSnapshot is what a fresh participant needs to render: the roster
// (including themselves) and the current state with its seq.
type JoinSnapshot struct {
	Users []v1.User
	State v1.SessionStatePayload
}

// ProposeResult reports the outcome of one partial proposal.
// Exactly one of the following holds: Applied (broadcast went out at Seq),
// Conflicts is non-empty (nothing applied), or both are zero (silent reject).
type ProposeResult struct {
	Applied   bool
	Seq       int64
	Conflicts []v1.ConflictDetectedPayload
}

// Session is the authoritative hub of one collaboration session: the
// parameter state, the monotonic seq, the live roster, and the per-parameter
// conflict stamps. One mutex covers all of it; every operation is a single
// critical section, which is what makes the seq ordering airtight.
//
// Persistence is write-through but best-effort: accepted updates are handed
// to a per-session worker goroutine so store latency never blocks the hot
// path, while writes still land in order.
type Session struct {
	id      string
	log     *slog.Logger
	store   SessionStore
	metrics *Metrics
	now     func() time.Time

	// onEmpty is invoked once, after the last participant leaves.
	onEmpty func(*Session)

	hydrateOnce sync.Once

	mu      sync.Mutex
	state   *SessionState
	seq     int64
	clients map[*Client]v1.User
	stamps  map[string]paramStamp
	closed  bool

	persistCh   chan persistJob
	persistStop chan struct{}
	persistDone chan struct{}
	stopOnce    sync.Once
}

func newSession(id string, log *slog.Logger, store SessionStore, metrics *Metrics, now func() time.Time, onEmpty func(*Session)) *Session {
	if store == nil {
		store = NewNopStore()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if onEmpty == nil {
		onEmpty = func(*Session) {}
	}

	s := &Session{
		id:          id,
		log:         log,
		store:       store,
		metrics:     metrics,
		now:         now,
		onEmpty:     onEmpty,
		state:       NewSessionState(),
		clients:     make(map[*Client]v1.User),
		stamps:      make(map[string]paramStamp),
		persistStop: make(chan struct{}),
		persistDone: make(chan struct{}),
	}

	if store.Enabled() {
		s.persistCh = make(chan persistJob, persistQueueSize)
		go s.persistLoop()
	} else {
		close(s.persistDone)
	}

	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Join registers a connection under the given identity, announces it to the
// other participants, and returns the snapshot the newcomer renders from.
// The first join rehydrates state and seq from the store, so a session id
// that was emptied (or a restarted server) resumes where it left off.
func (s *Session) Join(ctx context.Context, client *Client, user v1.User) (JoinSnapshot, error) {
	s.hydrateOnce.Do(func() {
		hctx, cancel := context.WithTimeout(ctx, persistTimeout)
		defer cancel()
		s.hydrate(hctx)
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return JoinSnapshot{}, ErrSessionClosed
	}

	s.clients[client] = user
	snap := JoinSnapshot{
		Users: s.rosterLocked(),
		State: v1.SessionStatePayload{Params: s.state.Snapshot(), Seq: s.seq},
	}

	// Presence frames carry the current seq without advancing it; only
	// state broadcasts move the session order forward.
	env := broadcastEnvelope(v1.TypeSessionJoined, v1.SessionJoinedPayload{User: user}, s.seq, s.now())
	s.fanoutLocked(env, client)
	s.mu.Unlock()

	s.enqueuePersist("add_user", func(ctx context.Context) error {
		return s.store.AddUser(ctx, s.id, user)
	})

	s.log.Info("session.member.join",
		"session_id", s.id,
		"user_id", user.ID,
		"conn_id", client.ConnID,
		"participants", len(snap.Users),
	)
	return snap, nil
}

// Leave removes a connection. The departed identity is announced unless the
// same user still holds another connection. The last leave tears the live
// session down: a final snapshot is persisted and onEmpty fires.
func (s *Session) Leave(client *Client) {
	s.mu.Lock()
	user, ok := s.clients[client]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)

	userGone := true
	for _, u := range s.clients {
		if u.ID == user.ID {
			userGone = false
			break
		}
	}

	empty := len(s.clients) == 0
	if empty {
		s.closed = true
	} else if userGone {
		env := broadcastEnvelope(v1.TypeSessionLeft, v1.SessionLeftPayload{UserID: user.ID}, s.seq, s.now())
		s.fanoutLocked(env, nil)
	}
	finalSnap := StateSnapshot{Params: s.state.Snapshot(), Seq: s.seq, UpdatedAt: s.now()}
	s.mu.Unlock()

	client.Close()

	if userGone {
		s.enqueuePersist("remove_user", func(ctx context.Context) error {
			return s.store.RemoveUser(ctx, s.id, user.ID)
		})
	}

	s.log.Info("session.member.leave",
		"session_id", s.id,
		"user_id", user.ID,
		"conn_id", client.ConnID,
	)

	if empty {
		// The snapshot outlives the live session under its TTL, so a later
		// join (or another server) resumes from here.
		s.enqueuePersist("save_state", func(ctx context.Context) error {
			return s.store.SaveState(ctx, s.id, finalSnap)
		})
		s.stopPersist()
		s.metrics.SessionClosed()
		s.log.Info("session.empty", "session_id", s.id, "seq", finalSnap.Seq)
		s.onEmpty(s)
	}
}

// Propose applies a partial update on behalf of a participant. The proposal
// is checked against the conflict stamps first: any parameter changed by a
// different user within the conflict window, to a meaningfully different
// value, turns the whole proposal into conflict descriptors for the proposer
// and nothing is applied. A clean proposal is validated, applied atomically,
// stamped, broadcast to the other participants, and persisted.
func (s *Session) Propose(client *Client, params map[string]float64) (ProposeResult, error) {
	s.mu.Lock()
	user, ok := s.clients[client]
	if !ok {
		s.mu.Unlock()
		return ProposeResult{}, ErrNotParticipant
	}

	now := s.now()
	conflicts := s.detectConflictsLocked(user.ID, params, now)
	if len(conflicts) > 0 {
		s.mu.Unlock()
		s.metrics.RecordConflicts(len(conflicts))
		s.log.Info("session.conflict",
			"session_id", s.id,
			"user_id", user.ID,
			"conflicts", len(conflicts),
		)
		return ProposeResult{Conflicts: conflicts}, nil
	}

	seq, err := s.applyLocked(client, user, params, now)
	s.mu.Unlock()
	if err != nil {
		s.metrics.RecordRejectedUpdate()
		s.log.Debug("session.param.reject", "session_id", s.id, "user_id", user.ID, "err", err)
		return ProposeResult{}, err
	}
	return ProposeResult{Applied: true, Seq: seq}, nil
}

// Resolve applies a client-chosen value after a conflict. Bounds still hold,
// but the conflict window is deliberately not consulted: the user has already
// seen both values and picked one.
func (s *Session) Resolve(client *Client, param string, value float64) (ProposeResult, error) {
	s.mu.Lock()
	user, ok := s.clients[client]
	if !ok {
		s.mu.Unlock()
		return ProposeResult{}, ErrNotParticipant
	}

	seq, err := s.applyLocked(client, user, map[string]float64{param: value}, s.now())
	s.mu.Unlock()
	if err != nil {
		s.metrics.RecordRejectedUpdate()
		s.log.Debug("session.resolve.reject", "session_id", s.id, "user_id", user.ID, "err", err)
		return ProposeResult{}, err
	}

	s.log.Info("session.conflict.resolved",
		"session_id", s.id,
		"user_id", user.ID,
		"param", param,
		"seq", seq,
	)
	return ProposeResult{Applied: true, Seq: seq}, nil
}

// Resync returns the full current state for a reconnecting participant.
// lastSeenSeq is diagnostic only; the reply always carries the full state.
func (s *Session) Resync(client *Client, lastSeenSeq int64) (v1.SessionStatePayload, error) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return v1.SessionStatePayload{}, ErrNotParticipant
	}
	out := v1.SessionStatePayload{Params: s.state.Snapshot(), Seq: s.seq}
	s.mu.Unlock()

	s.log.Info("session.resync",
		"session_id", s.id,
		"last_seen_seq", lastSeenSeq,
		"seq", out.Seq,
	)
	return out, nil
}

// StateForQuery returns the live state without membership checks. Used by
// the read-only query surface.
func (s *Session) StateForQuery() v1.SessionStatePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return v1.SessionStatePayload{Params: s.state.Snapshot(), Seq: s.seq}
}

// Users returns the deduplicated roster sorted by user id.
func (s *Session) Users() []v1.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked()
}

// ConnCount returns the number of live connections.
func (s *Session) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close tears the session down without per-participant announcements: every
// connection is signalled to shut down and the live structures are marked
// closed. When persist is true the final state is saved first. Close waits
// for the persistence backlog to drain (bounded by ctx).
func (s *Session) Close(ctx context.Context, persist bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.awaitPersist(ctx)
		return
	}
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for cl := range s.clients {
		clients = append(clients, cl)
	}
	s.clients = make(map[*Client]v1.User)
	finalSnap := StateSnapshot{Params: s.state.Snapshot(), Seq: s.seq, UpdatedAt: s.now()}
	s.mu.Unlock()

	for _, cl := range clients {
		cl.Close()
	}

	if persist {
		s.enqueuePersist("save_state", func(ctx context.Context) error {
			return s.store.SaveState(ctx, s.id, finalSnap)
		})
	}
	s.stopPersist()
	s.metrics.SessionClosed()
	s.onEmpty(s)
	s.awaitPersist(ctx)
}

// ---- internals ----

// hydrate restores state and seq from the store. Runs once, before the first
// participant is registered. Missing snapshots mean a brand-new session;
// store failures degrade to defaults.
func (s *Session) hydrate(ctx context.Context) {
	snap, err := s.store.LoadState(ctx, s.id)
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			s.metrics.RecordStoreFailure("load_state")
			s.log.Warn("session.hydrate.fail", "session_id", s.id, "err", err)
		}
		return
	}

	s.mu.Lock()
	s.state.Hydrate(snap.Params)
	s.seq = snap.Seq
	s.mu.Unlock()

	s.log.Info("session.hydrated", "session_id", s.id, "seq", snap.Seq)
}

// detectConflictsLocked scans a proposal against the stamps. Parameters are
// visited in sorted order so descriptor order is stable.
func (s *Session) detectConflictsLocked(proposerID string, params map[string]float64, now time.Time) []v1.ConflictDetectedPayload {
	if len(params) == 0 {
		return nil
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []v1.ConflictDetectedPayload
	for _, name := range names {
		stamp, ok := s.stamps[name]
		if !ok || stamp.userID == proposerID {
			continue
		}
		if now.Sub(stamp.at) >= conflictWindow {
			continue
		}
		current := s.state.get(name)
		if diff := current - params[name]; diff <= conflictTolerance && diff >= -conflictTolerance {
			continue
		}
		out = append(out, v1.ConflictDetectedPayload{
			Param:         name,
			YourValue:     params[name],
			TheirValue:    current,
			TheirUserID:   stamp.userID,
			TheirUserName: stamp.userName,
		})
	}
	return out
}

// applyLocked validates and applies a proposal, advances seq, stamps the
// touched parameters, broadcasts to everyone but the proposing connection,
// and queues the write-through. Validation failure applies nothing.
func (s *Session) applyLocked(client *Client, user v1.User, params map[string]float64, now time.Time) (int64, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}

	changed, err := s.state.Apply(params)
	if err != nil {
		return 0, err
	}

	s.seq++
	seq := s.seq
	for name := range params {
		s.stamps[name] = paramStamp{at: now, userID: user.ID, userName: user.Name}
	}

	env := broadcastEnvelope(v1.TypeParamBroadcast, v1.ParamBroadcastPayload{
		UserID: user.ID,
		Params: params,
	}, seq, now)
	s.fanoutLocked(env, client)

	snap := StateSnapshot{Params: s.state.Snapshot(), Seq: seq, UpdatedAt: now}
	ev := HistoryEvent{Seq: seq, UserID: user.ID, Params: params, Timestamp: now}

	s.log.Debug("session.param.apply",
		"session_id", s.id,
		"user_id", user.ID,
		"seq", seq,
		"changed", len(changed),
	)

	s.enqueuePersist("save_state", func(ctx context.Context) error {
		return s.store.SaveState(ctx, s.id, snap)
	})
	s.enqueuePersist("append_history", func(ctx context.Context) error {
		return s.store.AppendHistory(ctx, s.id, ev)
	})
	return seq, nil
}

// rosterLocked returns the roster deduplicated by user id, sorted for
// deterministic wire output.
func (s *Session) rosterLocked() []v1.User {
	byID := make(map[string]v1.User, len(s.clients))
	for _, u := range s.clients {
		byID[u.ID] = u
	}
	out := make([]v1.User, 0, len(byID))
	for _, u := range byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// fanoutLocked enqueues env to every client except exclude. A participant
// whose queue is full or already shutting down is signalled to close; its
// connection loop then runs the normal leave path.
func (s *Session) fanoutLocked(env v1.Envelope, exclude *Client) {
	s.metrics.RecordBroadcast(env.Type)

	var dead []*Client
	for cl := range s.clients {
		if cl == exclude {
			continue
		}
		select {
		case <-cl.Done():
			continue
		default:
		}
		select {
		case cl.Send <- env:
		default:
			dead = append(dead, cl)
		}
	}
	for _, cl := range dead {
		s.metrics.RecordDroppedSend()
		s.log.Warn("session.send.drop", "session_id", s.id, "conn_id", cl.ConnID)
		cl.Close()
	}
}

func (s *Session) enqueuePersist(op string, fn func(context.Context) error) {
	if s.persistCh == nil {
		return
	}
	select {
	case s.persistCh <- persistJob{op: op, fn: fn}:
	default:
		s.metrics.RecordStoreFailure(op)
		s.log.Warn("session.store.backlog", "op", op, "session_id", s.id)
	}
}

// persistLoop runs queued store writes in order. Ordering matters: a stale
// snapshot must never overwrite a newer one.
func (s *Session) persistLoop() {
	defer close(s.persistDone)

	run := func(job persistJob) {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := job.fn(ctx)
		cancel()
		if err != nil {
			s.metrics.RecordStoreFailure(job.op)
			s.log.Warn("session.store.fail", "op", job.op, "session_id", s.id, "err", err)
		}
	}

	for {
		select {
		case job := <-s.persistCh:
			run(job)
		case <-s.persistStop:
			for {
				select {
				case job := <-s.persistCh:
					run(job)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) stopPersist() {
	s.stopOnce.Do(func() { close(s.persistStop) })
}

func (s *Session) awaitPersist(ctx context.Context) {
	select {
	case <-s.persistDone:
	case <-ctx.Done():
	}
}
