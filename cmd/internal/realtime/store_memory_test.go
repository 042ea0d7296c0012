package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	v1 "trivector/shared/contracts/realtime/v1"
)

func TestInMemoryStoreSnapshotRoundtrip(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	if _, err := store.LoadState(ctx, "s1"); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("load on empty err=%v, want ErrNoSnapshot", err)
	}

	snap := StateSnapshot{
		Params:    v1.ParamSet{Mu: 0.60, Omega: 1.20, Kappa: 0.030, Beta: 0.076},
		Seq:       7,
		UpdatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.SaveState(ctx, "s1", snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.LoadState(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != snap {
		t.Fatalf("roundtrip=%+v want=%+v", got, snap)
	}

	// Overwrite wins.
	snap.Seq = 8
	snap.Params.Mu = 0.61
	if err := store.SaveState(ctx, "s1", snap); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, err = store.LoadState(ctx, "s1")
	if err != nil {
		t.Fatalf("load again: %v", err)
	}
	if got.Seq != 8 || got.Params.Mu != 0.61 {
		t.Fatalf("overwrite=%+v, want seq 8 mu 0.61", got)
	}
}

func TestInMemoryStoreHistoryRange(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for seq := int64(1); seq <= 5; seq++ {
		ev := HistoryEvent{Seq: seq, UserID: "user-a", Params: map[string]float64{ParamMu: 0.6}, Timestamp: at}
		if err := store.AppendHistory(ctx, "s1", ev); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	cases := []struct {
		name     string
		start    int64
		end      int64
		wantSeqs []int64
	}{
		{name: "full tail", start: 0, end: -1, wantSeqs: []int64{1, 2, 3, 4, 5}},
		{name: "closed range", start: 2, end: 4, wantSeqs: []int64{2, 3, 4}},
		{name: "open tail", start: 3, end: -1, wantSeqs: []int64{3, 4, 5}},
		{name: "single", start: 2, end: 2, wantSeqs: []int64{2}},
		{name: "beyond", start: 9, end: -1, wantSeqs: nil},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			events, err := store.RangeHistory(ctx, "s1", tc.start, tc.end)
			if err != nil {
				t.Fatalf("range: %v", err)
			}
			if len(events) != len(tc.wantSeqs) {
				t.Fatalf("got %d events, want %d (%+v)", len(events), len(tc.wantSeqs), events)
			}
			for i, seq := range tc.wantSeqs {
				if events[i].Seq != seq {
					t.Fatalf("events[%d].Seq=%d want=%d", i, events[i].Seq, seq)
				}
			}
		})
	}

	n, err := store.HistoryCount(ctx, "s1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Fatalf("count=%d want=5", n)
	}
}

func TestInMemoryStoreHistoryTrim(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	total := int64(historyKeepCount + 5)
	for seq := int64(1); seq <= total; seq++ {
		ev := HistoryEvent{Seq: seq, UserID: "user-a", Params: map[string]float64{ParamMu: 0.6}}
		if err := store.AppendHistory(ctx, "s1", ev); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	n, err := store.HistoryCount(ctx, "s1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != historyKeepCount {
		t.Fatalf("count=%d want=%d", n, historyKeepCount)
	}

	events, err := store.RangeHistory(ctx, "s1", 0, -1)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if events[0].Seq != 6 || events[len(events)-1].Seq != total {
		t.Fatalf("retained [%d..%d], want oldest trimmed to [6..%d]", events[0].Seq, events[len(events)-1].Seq, total)
	}
}

func TestInMemoryStorePresence(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.AddUser(ctx, "s1", userB); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := store.AddUser(ctx, "s1", userA); err != nil {
		t.Fatalf("add a: %v", err)
	}

	users, err := store.ListUsers(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 2 || users[0].ID != userA.ID || users[1].ID != userB.ID {
		t.Fatalf("users=%+v, want [a b] sorted by id", users)
	}

	if err := store.RemoveUser(ctx, "s1", userA.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	users, err = store.ListUsers(ctx, "s1")
	if err != nil {
		t.Fatalf("list after remove: %v", err)
	}
	if len(users) != 1 || users[0].ID != userB.ID {
		t.Fatalf("users=%+v, want just b", users)
	}
}

func TestInMemoryStoreActiveSessionsAndDelete(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx := context.Background()

	// Presence alone does not make a session active; only a snapshot does.
	if err := store.AddUser(ctx, "presence-only", userA); err != nil {
		t.Fatalf("add user: %v", err)
	}
	for _, id := range []string{"s2", "s1"} {
		if err := store.SaveState(ctx, id, StateSnapshot{Seq: 1}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	ids, err := store.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(ids) != 2 || ids[0] != "s1" || ids[1] != "s2" {
		t.Fatalf("active=%v, want [s1 s2] sorted", ids)
	}

	if err := store.DeleteState(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.LoadState(ctx, "s1"); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("load after delete err=%v, want ErrNoSnapshot", err)
	}
	ids, err = store.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("list active after delete: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s2" {
		t.Fatalf("active=%v, want [s2]", ids)
	}
}

func TestInMemoryStoreHonorsContext(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.SaveState(ctx, "s1", StateSnapshot{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("save err=%v, want context.Canceled", err)
	}
	if _, err := store.RangeHistory(ctx, "s1", 0, -1); !errors.Is(err, context.Canceled) {
		t.Fatalf("range err=%v, want context.Canceled", err)
	}
}
