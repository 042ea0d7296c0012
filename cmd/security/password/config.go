package password

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls the accepted password length range.
type Policy struct {
	MinLength int
	MaxLength int
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns a strong baseline for interactive logins.
// Values are intentionally conservative and can be overridden via env.
func DefaultConfig() Config {
	// CPU-aware parallelism avoids extreme settings on multi-core hosts while
	// keeping a safe baseline. Clamped to [1..4] so resource usage stays
	// predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024, // 64 MiB
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

// FromEnv loads config from environment variables on top of DefaultConfig.
// Unset variables keep their defaults; malformed or out-of-range values fail
// loudly rather than silently weakening the hash.
//
// Env surface:
//   - TRIVECTOR_PASSWORD_MIN_LEN
//   - TRIVECTOR_PASSWORD_MAX_LEN
//   - TRIVECTOR_ARGON2_MEMORY_KIB
//   - TRIVECTOR_ARGON2_ITERATIONS
//   - TRIVECTOR_ARGON2_PARALLELISM
//   - TRIVECTOR_ARGON2_SALT_LEN
//   - TRIVECTOR_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	lengths := []struct {
		key      string
		min, max int
		set      func(int)
	}{
		{"TRIVECTOR_PASSWORD_MIN_LEN", 1, 1024, func(n int) { cfg.Policy.MinLength = n }},
		{"TRIVECTOR_PASSWORD_MAX_LEN", 1, 4096, func(n int) { cfg.Policy.MaxLength = n }},
	}
	for _, lv := range lengths {
		raw, ok := os.LookupEnv(lv.key)
		if !ok {
			continue
		}
		n, err := parseBoundedInt(raw, lv.min, lv.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", lv.key, err)
		}
		lv.set(n)
	}

	costs := []struct {
		key      string
		min, max uint32
		set      func(uint32)
	}{
		{"TRIVECTOR_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(u uint32) { cfg.Params.MemoryKiB = u }},
		{"TRIVECTOR_ARGON2_ITERATIONS", 1, 20, func(u uint32) { cfg.Params.Iterations = u }},
		{"TRIVECTOR_ARGON2_PARALLELISM", 1, 64, func(u uint32) { cfg.Params.Parallelism = uint8(u) }},
		{"TRIVECTOR_ARGON2_SALT_LEN", 8, 64, func(u uint32) { cfg.Params.SaltLength = u }},
		{"TRIVECTOR_ARGON2_KEY_LEN", 16, 64, func(u uint32) { cfg.Params.KeyLength = u }},
	}
	for _, cv := range costs {
		raw, ok := os.LookupEnv(cv.key)
		if !ok {
			continue
		}
		u, err := parseBoundedUint32(raw, cv.min, cv.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", cv.key, err)
		}
		cv.set(u)
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

func parseBoundedInt(s string, minVal, maxVal int) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < int64(minVal) || n > int64(maxVal) {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return int(n), nil
}

func parseBoundedUint32(s string, minVal, maxVal uint32) (uint32, error) {
	u, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	if u < uint64(minVal) || u > uint64(maxVal) {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return uint32(u), nil
}
