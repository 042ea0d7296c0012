package realtime

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewConnID mints the per-connection id as a ULID so gateway log lines sort
// by connect time. If the entropy source fails it falls back to random hex;
// connection ids only need uniqueness, not ordering, to stay useful.
func NewConnID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if id, err := ulid.New(ulid.Timestamp(now), rand.Reader); err == nil {
		return id.String()
	}
	return "conn-" + randomHex(10)
}

// NewCollabSessionID mints a short shareable session id. Join links embed it,
// so it stays compact: the first 8 hex chars of a UUIDv4.
func NewCollabSessionID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:8]
}

func randomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
