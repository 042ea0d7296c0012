// Package password hashes and verifies login passwords with argon2id.
//
// Hashes are stored in the PHC string format. Each hash carries the cost it
// was minted with, so parameter upgrades never invalidate existing accounts
// and the strings interoperate with other argon2id implementations. Cost and
// length policy come from DefaultConfig or the TRIVECTOR_ARGON2_* and
// TRIVECTOR_PASSWORD_* environment variables.
//
// Stored hashes are treated as untrusted input: Verify re-validates their
// structure and refuses cost parameters far above the configured ceiling,
// so a tampered row cannot turn verification into a denial of service.
package password
