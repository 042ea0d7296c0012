package realtime

import "errors"

var (
	// ErrParamInvalid is returned when a proposal names an unknown parameter
	// or a value outside its hard bounds. The whole proposal is rejected.
	ErrParamInvalid = errors.New("invalid parameter")

	// ErrNoSnapshot is returned by LoadState when no snapshot is persisted
	// for the session.
	ErrNoSnapshot = errors.New("no snapshot")

	// ErrSessionClosed is returned when an operation races the teardown of
	// its session. Callers retry against a fresh instance.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotParticipant is returned when a connection acts on a session it
	// never joined.
	ErrNotParticipant = errors.New("not a participant")
)
