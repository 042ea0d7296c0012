package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Encoded hashes follow the PHC string format:
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt b64>$<key b64>
//
// Base64 is the raw (unpadded) standard alphabet, per the PHC spec.

// phcHash is one parsed or about-to-be-encoded hash string.
type phcHash struct {
	memoryKiB   uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// Hash derives an argon2id key from password under the configured cost and
// returns it PHC-encoded. The length policy runs first; rejected passwords
// are never hashed.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	h := phcHash{
		memoryKiB:   c.Params.MemoryKiB,
		iterations:  c.Params.Iterations,
		parallelism: c.Params.Parallelism,
		salt:        salt,
	}
	h.key = argon2.IDKey([]byte(password), salt,
		h.iterations, h.memoryKiB, h.parallelism, c.Params.KeyLength)

	return h.encode(), nil
}

// Verify reports whether password matches encodedHash. A match is
// (true, nil), a clean mismatch (false, nil). Malformed hashes and hashes
// whose cost exceeds roughly twice the configured ceiling return
// ErrInvalidHash: the string may come from a compromised store, and
// rederiving a key at attacker-chosen cost would be a self-inflicted DoS.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	if h.memoryKiB > c.Params.MemoryKiB*2 ||
		h.iterations > c.Params.Iterations*2 ||
		uint32(h.parallelism) > uint32(c.Params.Parallelism)*2 {
		return false, ErrInvalidHash
	}

	// Key length bounded by parsePHC, so the conversion cannot truncate.
	got := argon2.IDKey([]byte(password), h.salt,
		h.iterations, h.memoryKiB, h.parallelism, uint32(len(h.key)))

	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

func (h phcHash) encode() string {
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memoryKiB, h.iterations, h.parallelism,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

// parsePHC accepts exactly one shape: a current-version argon2id hash with
// all three cost fields and bounded salt/key sizes. Anything else is
// ErrInvalidHash, with no detail leaked about which check failed.
func parsePHC(encoded string) (phcHash, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" {
		return phcHash{}, ErrInvalidHash
	}
	if fields[1] != "argon2id" || fields[2] != "v="+strconv.Itoa(argon2.Version) {
		return phcHash{}, ErrInvalidHash
	}

	var h phcHash
	costs := strings.Split(fields[3], ",")
	if len(costs) != 3 {
		return phcHash{}, ErrInvalidHash
	}
	for _, kv := range costs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return phcHash{}, ErrInvalidHash
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return phcHash{}, ErrInvalidHash
		}
		switch k {
		case "m":
			h.memoryKiB = uint32(n)
		case "t":
			h.iterations = uint32(n)
		case "p":
			if n > 255 {
				return phcHash{}, ErrInvalidHash
			}
			h.parallelism = uint8(n)
		default:
			return phcHash{}, ErrInvalidHash
		}
	}
	if h.memoryKiB == 0 || h.iterations == 0 || h.parallelism == 0 {
		return phcHash{}, ErrInvalidHash
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		return phcHash{}, ErrInvalidHash
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil {
		return phcHash{}, ErrInvalidHash
	}
	if len(h.salt) < 8 || len(h.salt) > 64 || len(h.key) < 16 || len(h.key) > 128 {
		return phcHash{}, ErrInvalidHash
	}
	return h, nil
}
