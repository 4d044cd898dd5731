// Package store defines the optional audit log of published domain events.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/tasknotify/internal/events"
)

// SubscriberName identifies the audit recorder on the event bus.
const SubscriberName = "audit-log"

// Record is one audited domain event.
type Record struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ActorID    string          `json:"actor_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	EmittedAt  time.Time       `json:"emitted_at"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Store persists audit records.
type Store interface {
	RecordEvent(ctx context.Context, rec *Record) error
	// ListEvents returns at most limit records, newest first.
	ListEvents(ctx context.Context, limit int) ([]*Record, error)
	Close() error
}

// NewRecord converts a domain event for storage.
func NewRecord(ev events.DomainEvent) (*Record, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", ev.Type, err)
	}
	return &Record{
		Type:      string(ev.Type),
		ActorID:   ev.ActorID,
		Payload:   payload,
		EmittedAt: ev.EmittedAt,
	}, nil
}

// Attach subscribes s to every domain event on bus. Storage errors surface
// as bus subscriber failures and never reach the publisher.
func Attach(bus *events.Bus, s Store) (func(), error) {
	return bus.SubscribeAll(SubscriberName, func(ctx context.Context, ev events.DomainEvent) error {
		rec, err := NewRecord(ev)
		if err != nil {
			return err
		}
		return s.RecordEvent(ctx, rec)
	})
}
