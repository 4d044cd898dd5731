// Package client talks to a notifyd instance: the websocket stream that
// delivers events to end users, and the HTTP API used by mutation services
// and operators.
package client

import (
	"encoding/json"
	"time"
)

// EmitRequest holds parameters for publishing a domain event.
type EmitRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	ActorID string          `json:"actor_id,omitempty"`
}

// EmitResponse is the response from Emit.
type EmitResponse struct {
	Type      string    `json:"type"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Health is the instance health report.
type Health struct {
	Status      string `json:"status"`
	Instance    string `json:"instance"`
	Relay       string `json:"relay"`
	Backend     string `json:"backend"`
	Connections int    `json:"connections"`
}

// RosterEntry describes one online user on the queried instance.
type RosterEntry struct {
	UserID      string    `json:"user_id"`
	Connections int       `json:"connections"`
	OnlineSince time.Time `json:"online_since"`
}

// Presence is the local online view of one instance.
type Presence struct {
	Instance string        `json:"instance"`
	Online   []string      `json:"online"`
	Roster   []RosterEntry `json:"roster"`
}

// AuditRecord is one entry of the audit log.
type AuditRecord struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ActorID    string          `json:"actor_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	EmittedAt  time.Time       `json:"emitted_at"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Event is one frame received on the websocket stream.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}
