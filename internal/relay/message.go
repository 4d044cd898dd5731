package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Target is the audience a Message is addressed to.
type Target string

const (
	// TargetAll addresses every connection on every instance.
	TargetAll Target = "all"
	// TargetRoom addresses only connections in Message.Rooms.
	TargetRoom Target = "room"
)

// UserRoom returns the identity-scoped room every connection of userID joins.
func UserRoom(userID string) string { return "user:" + userID }

// Message is the wire form exchanged on the relay channel. Each receiving
// instance applies the audience and exclusions against its own connections.
type Message struct {
	Target       Target          `json:"target"`
	Rooms        []string        `json:"rooms,omitempty"`
	ExcludeRooms []string        `json:"exclude_rooms,omitempty"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Origin       string          `json:"origin,omitempty"`
}

// NewMessage encodes payload and addresses it to everyone except the
// members of exclude.
func NewMessage(eventType string, payload any, exclude ...string) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	return Message{
		Target:       TargetAll,
		ExcludeRooms: exclude,
		Type:         eventType,
		Payload:      data,
	}, nil
}

// Validate checks the fields every receiver relies on.
func (m Message) Validate() error {
	if m.Type == "" {
		return errors.New("message has no type")
	}
	switch m.Target {
	case TargetAll:
	case TargetRoom:
		if len(m.Rooms) == 0 {
			return errors.New("room-targeted message has no rooms")
		}
	default:
		return fmt.Errorf("unknown target %q", m.Target)
	}
	return nil
}

// Addresses reports whether a connection in room should receive m.
func (m Message) Addresses(room string) bool {
	if slices.Contains(m.ExcludeRooms, room) {
		return false
	}
	if m.Target == TargetRoom {
		return slices.Contains(m.Rooms, room)
	}
	return true
}

// Encode serializes m for the relay channel.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Payload == nil {
		m.Payload = json.RawMessage("null")
	}
	return json.Marshal(m)
}

// Decode parses and validates a message received from the relay channel.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decoding relay message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, fmt.Errorf("decoding relay message: %w", err)
	}
	if m.Payload == nil {
		m.Payload = json.RawMessage("null")
	}
	return m, nil
}
