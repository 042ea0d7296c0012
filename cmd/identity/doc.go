// Package identity provides the account registry behind the login endpoint.
//
// Accounts are keyed by normalized email and live in process memory: the
// first login for an email mints a stable user id, and an optional argon2id
// password binds the account on first use.
package identity
