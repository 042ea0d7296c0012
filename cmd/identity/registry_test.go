package identity

import (
	"errors"
	"strings"
	"testing"

	"trivector/cmd/security/password"
)

// newTestRegistry uses a light argon2id cost so the suite stays fast.
func newTestRegistry() *Registry {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	return &Registry{hasher: cfg, accounts: make(map[string]*account)}
}

func TestAuthenticate_StableUserIDPerEmail(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	first, err := r.Authenticate("ada@example.com", "")
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}
	second, err := r.Authenticate("ada@example.com", "")
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}

	if first.UserID != second.UserID {
		t.Fatalf("user id not stable: %q vs %q", first.UserID, second.UserID)
	}
	if !strings.HasPrefix(first.UserID, "user_") || len(first.UserID) != len("user_")+12 {
		t.Fatalf("unexpected user id shape: %q", first.UserID)
	}
	if first.Username != "ada" {
		t.Fatalf("username=%q want=%q", first.Username, "ada")
	}
}

func TestAuthenticate_EmailKeyIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	upper, err := r.Authenticate("Ada@Example.COM", "")
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}
	lower, err := r.Authenticate("ada@example.com", "")
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}

	if upper.UserID != lower.UserID {
		t.Fatalf("case variants resolved to different ids: %q vs %q", upper.UserID, lower.UserID)
	}
	// Username/email echo the raw input; only the registry key is normalized.
	if upper.Username != "Ada" || lower.Username != "ada" {
		t.Fatalf("usernames=%q/%q want Ada/ada", upper.Username, lower.Username)
	}
}

func TestAuthenticate_EmptyEmail(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	if _, err := r.Authenticate("   ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAuthenticate_PasswordLifecycle(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	// First login with a password binds it.
	bound, err := r.Authenticate("grace@example.com", "correct horse 1!")
	if err != nil {
		t.Fatalf("bind error: %v", err)
	}

	// Wrong password is rejected.
	if _, err := r.Authenticate("grace@example.com", "wrong password!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	// An empty password no longer opens a bound account.
	if _, err := r.Authenticate("grace@example.com", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty password, got %v", err)
	}

	// The right password still resolves to the same identity.
	again, err := r.Authenticate("grace@example.com", "correct horse 1!")
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if again.UserID != bound.UserID {
		t.Fatalf("user id changed across logins: %q vs %q", again.UserID, bound.UserID)
	}
}

func TestAuthenticate_LateBindClaimsOpenAccount(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	open, err := r.Authenticate("linus@example.com", "")
	if err != nil {
		t.Fatalf("open login error: %v", err)
	}

	claimed, err := r.Authenticate("linus@example.com", "first password!")
	if err != nil {
		t.Fatalf("claim error: %v", err)
	}
	if claimed.UserID != open.UserID {
		t.Fatalf("claim minted a new id: %q vs %q", claimed.UserID, open.UserID)
	}

	if _, err := r.Authenticate("linus@example.com", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials after claim, got %v", err)
	}
}

func TestAuthenticate_RejectedPasswordDoesNotReserveEmail(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()

	if _, err := r.Authenticate("kay@example.com", "pw"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	// The failed attempt left no record behind; a compliant retry binds.
	if _, err := r.Authenticate("kay@example.com", "long enough 99"); err != nil {
		t.Fatalf("retry error: %v", err)
	}
}

func TestNewAnonymousID(t *testing.T) {
	t.Parallel()

	a, b := NewAnonymousID(), NewAnonymousID()
	if !strings.HasPrefix(a, "anon_") || len(a) != len("anon_")+12 {
		t.Fatalf("unexpected anonymous id shape: %q", a)
	}
	if a == b {
		t.Fatalf("anonymous ids must be unique, got %q twice", a)
	}
}
