package realtime

import (
	"testing"
	"time"
)

func TestRateLimiterAdmitsUpToLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !rl.Allow(at.Add(time.Duration(i) * time.Millisecond)) {
			t.Fatalf("event %d denied inside limit", i)
		}
	}
	if rl.Allow(at.Add(3 * time.Millisecond)) {
		t.Fatal("event over limit admitted")
	}
}

func TestRateLimiterSlidesWithTime(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if !rl.Allow(at) || !rl.Allow(at.Add(100*time.Millisecond)) {
		t.Fatal("initial events denied")
	}
	if rl.Allow(at.Add(200 * time.Millisecond)) {
		t.Fatal("third event inside window admitted")
	}

	// One second after the first event its slot leaves the window.
	if !rl.Allow(at.Add(1001 * time.Millisecond)) {
		t.Fatal("event denied after window slid past the oldest")
	}
	// The second original event still occupies the window.
	if rl.Allow(at.Add(1050 * time.Millisecond)) {
		t.Fatal("window admitted more than limit after partial slide")
	}
}

func TestRateLimiterDenialsDoNotExtendLockout(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Second)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if !rl.Allow(at) {
		t.Fatal("first event denied")
	}
	for i := 1; i <= 5; i++ {
		if rl.Allow(at.Add(time.Duration(i) * 100 * time.Millisecond)) {
			t.Fatalf("burst event %d admitted inside window", i)
		}
	}
	// Denied attempts left no trace; only the admitted event gates.
	if !rl.Allow(at.Add(time.Second)) {
		t.Fatal("event denied after the admitted one aged out")
	}
}

func TestRateLimiterDefaultsOnBadInputs(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < rateLimitEvents; i++ {
		if !rl.Allow(at.Add(time.Duration(i) * time.Millisecond)) {
			t.Fatalf("event %d denied inside default limit", i)
		}
	}
	if rl.Allow(at.Add(time.Duration(rateLimitEvents) * time.Millisecond)) {
		t.Fatal("event over default limit admitted")
	}
}
