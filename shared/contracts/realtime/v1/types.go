// Package v1 defines the Trivector collaboration protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type constants (wire-stable).
const (
	// TypeAuth authenticates a freshly opened connection (client -> server).
	TypeAuth = "auth"
	// TypeAuthSuccess confirms authentication and delivers the session snapshot (server -> client).
	TypeAuthSuccess = "auth:success"
	// TypeAuthFailed reports a rejected token; the connection stays open for retry (server -> client).
	TypeAuthFailed = "auth:failed"

	// TypeParamUpdate proposes a partial parameter update (client -> server).
	TypeParamUpdate = "param:update"
	// TypeParamBroadcast carries an accepted update to the other participants (server -> session).
	TypeParamBroadcast = "param:broadcast"

	// TypeConflictResolved applies a client-chosen value after a conflict (client -> server).
	TypeConflictResolved = "conflict:resolved"
	// TypeConflictDetected reports one conflicting parameter to the proposer only (server -> client).
	TypeConflictDetected = "conflict:detected"

	// TypeSessionJoined announces a new participant to the rest of the session (server -> session).
	TypeSessionJoined = "session:joined"
	// TypeSessionLeft announces a departed participant (server -> session).
	TypeSessionLeft = "session:left"

	// TypeSessionResync requests a full state snapshot after a reconnect (client -> server).
	TypeSessionResync = "session:resync"
	// TypeSessionState returns the full snapshot to the requester only (server -> client).
	TypeSessionState = "session:state"

	// TypePing and TypePong are the application-level keep-alive pair.
	TypePing = "ping"
	TypePong = "pong"
)

// Envelope is the canonical wire wrapper.
//
// Seq and Timestamp are set only on session broadcasts; direct replies carry
// type and payload alone. Seq is a pointer so that a legitimate seq of 0
// still serializes.
type Envelope struct {
	Type      string          `json:"type"`
	Seq       *int64          `json:"seq,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ValidateInbound performs structural validation for a client -> server envelope.
func (e Envelope) ValidateInbound() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	switch e.Type {
	case TypeAuth,
		TypeParamUpdate,
		TypeConflictResolved,
		TypeSessionResync,
		TypePing:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Shared shapes ----

// User is the wire representation of a session participant.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// ParamSet is the full parameter snapshot including the derived beta.
type ParamSet struct {
	Mu    float64 `json:"mu"`
	Omega float64 `json:"omega"`
	Kappa float64 `json:"kappa"`
	Beta  float64 `json:"beta"`
}

// ---- Payloads ----

// AuthPayload carries the bearer token and an optional presence color.
type AuthPayload struct {
	Token string `json:"token"`
	Color string `json:"color,omitempty"`
}

// AuthSuccessPayload delivers identity, roster, and the current session state.
type AuthSuccessPayload struct {
	SessionID    string              `json:"sessionId"`
	UserID       string              `json:"userId"`
	Users        []User              `json:"users"`
	CurrentState SessionStatePayload `json:"currentState"`
}

// AuthFailedPayload reports why authentication was rejected.
type AuthFailedPayload struct {
	Error string `json:"error"`
}

// ParamUpdatePayload is a partial proposal: any subset of mu, omega, kappa.
type ParamUpdatePayload map[string]float64

// ParamBroadcastPayload carries an accepted proposal to the other participants.
type ParamBroadcastPayload struct {
	UserID string             `json:"userId"`
	Params map[string]float64 `json:"params"`
}

// ConflictResolvedPayload applies a resolved value without a conflict check.
type ConflictResolvedPayload struct {
	Param         string  `json:"param"`
	ResolvedValue float64 `json:"resolvedValue"`
	Strategy      string  `json:"strategy,omitempty"`
}

// ConflictDetectedPayload describes one conflicting parameter.
type ConflictDetectedPayload struct {
	Param         string  `json:"param"`
	YourValue     float64 `json:"yourValue"`
	TheirValue    float64 `json:"theirValue"`
	TheirUserID   string  `json:"theirUserId"`
	TheirUserName string  `json:"theirUserName"`
}

// SessionJoinedPayload announces a new participant.
type SessionJoinedPayload struct {
	User User `json:"user"`
}

// SessionLeftPayload announces a departed participant.
type SessionLeftPayload struct {
	UserID string `json:"userId"`
}

// SessionResyncPayload requests a snapshot; LastSeenSeq is diagnostic only.
type SessionResyncPayload struct {
	LastSeenSeq int64 `json:"lastSeenSeq"`
}

// SessionStatePayload is the full snapshot with its sequence number. It doubles
// as the currentState block inside AuthSuccessPayload.
type SessionStatePayload struct {
	Params ParamSet `json:"params"`
	Seq    int64    `json:"seq"`
}

// PingPayload and PongPayload are empty but typed for symmetry with the catalog.
type PingPayload struct{}

// PongPayload is the keep-alive reply.
type PongPayload struct{}
