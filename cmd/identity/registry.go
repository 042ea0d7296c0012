package identity

import (
	"fmt"
	"strings"
	"sync"

	"trivector/cmd/security/password"

	"github.com/google/uuid"
)

// Account is the resolved identity returned by a successful Authenticate.
type Account struct {
	UserID   string
	Username string
	Email    string
}

// Registry maps normalized emails to stable user ids and optional password
// hashes. It backs the login endpoint: an email resolves to the same user id
// for the life of the process, so reconnecting clients keep their identity.
type Registry struct {
	hasher password.Config

	mu       sync.Mutex
	accounts map[string]*account
}

type account struct {
	userID       string
	passwordHash string
}

// NewRegistry builds an empty registry using the env-configured argon2id
// parameters (defaults when the environment is unset or malformed).
func NewRegistry() *Registry {
	cfg, err := password.FromEnv()
	if err != nil {
		cfg = password.DefaultConfig()
	}
	return &Registry{
		hasher:   cfg,
		accounts: make(map[string]*account),
	}
}

// Authenticate resolves the account for email, creating it on first contact.
//
// Password rules:
//   - empty password, no hash on record: plain email identity, allowed.
//   - empty password, hash on record: ErrInvalidCredentials.
//   - password given, no hash on record: hash and bind it (first-use claim).
//   - password given, hash on record: verify; mismatch is ErrInvalidCredentials.
//
// The account is committed only after the password rules pass, so a rejected
// first login does not reserve the email.
func (r *Registry) Authenticate(email, pw string) (Account, error) {
	email = strings.TrimSpace(email)
	key := NormalizeEmail(email)
	if key == "" {
		return Account{}, ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	acct, known := r.accounts[key]
	if !known {
		acct = &account{userID: newUserID()}
	}

	switch {
	case pw == "" && acct.passwordHash != "":
		return Account{}, ErrInvalidCredentials
	case pw != "" && acct.passwordHash == "":
		hash, err := r.hasher.Hash(pw)
		if err != nil {
			return Account{}, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		acct.passwordHash = hash
	case pw != "" && acct.passwordHash != "":
		ok, err := r.hasher.Verify(acct.passwordHash, pw)
		if err != nil || !ok {
			return Account{}, ErrInvalidCredentials
		}
	}

	r.accounts[key] = acct

	return Account{
		UserID:   acct.userID,
		Username: emailLocalPart(email),
		Email:    email,
	}, nil
}

// NewAnonymousID mints an anonymous-user id ("anon_" + 12 hex chars).
// Anonymous identities are never registered; every call is a fresh user.
func NewAnonymousID() string { return "anon_" + randomHex12() }

// newUserID mints a registered-user id ("user_" + 12 hex chars).
func newUserID() string { return "user_" + randomHex12() }

func randomHex12() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func emailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}
