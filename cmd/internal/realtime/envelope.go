package realtime

import (
	"encoding/json"
	"time"

	v1 "trivector/shared/contracts/realtime/v1"
)

// broadcastEnvelope wraps a session-scoped frame. Broadcasts always carry the
// session seq and a server timestamp.
func broadcastEnvelope(typ string, payload any, seq int64, ts time.Time) v1.Envelope {
	raw, _ := json.Marshal(payload)
	return v1.Envelope{
		Type:      typ,
		Seq:       &seq,
		Timestamp: &ts,
		Payload:   raw,
	}
}

// directEnvelope wraps a reply addressed to a single connection. Direct
// replies carry no seq: they are not part of the session order.
func directEnvelope(typ string, payload any) v1.Envelope {
	raw, _ := json.Marshal(payload)
	return v1.Envelope{Type: typ, Payload: raw}
}
