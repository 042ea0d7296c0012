package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Per-connection rate limits (frames per window). Also bounds the
	// pre-auth retry loop.
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)

// Keep-alive defaults (can be overridden by env in ws_gateway.go).
// The transport pings every keepAliveInterval; a pong must arrive within
// keepAliveTimeout or the connection is torn down.
const (
	keepAliveInterval = 20 * time.Second
	keepAliveTimeout  = 20 * time.Second
)

// Concurrent-edit detection. Two participants touching the same parameter
// within conflictWindow, with values further apart than conflictTolerance,
// is a conflict worth surfacing to the second proposer.
const (
	conflictWindow    = 500 * time.Millisecond
	conflictTolerance = 1e-3
)
