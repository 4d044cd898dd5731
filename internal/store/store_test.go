package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alfredjeanlab/tasknotify/internal/events"
)

type memStore struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (m *memStore) RecordEvent(_ context.Context, rec *Record) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) ListEvents(_ context.Context, limit int) ([]*Record, error) {
	return nil, nil
}

func (m *memStore) Close() error { return nil }

func testBus(onFailure events.FailureFunc) *events.Bus {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if onFailure == nil {
		return events.NewBus(logger)
	}
	return events.NewBus(logger, events.WithFailureFunc(onFailure))
}

func TestAttach_RecordsEvents(t *testing.T) {
	bus := testBus(nil)
	st := &memStore{}
	cancel, err := Attach(bus, st)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer cancel()

	ev := events.New(events.FileUploaded, events.File{ID: 4, TaskID: 2, OriginalName: "a.pdf"}, "7")
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(st.records) != 1 {
		t.Fatalf("recorded %d events, want 1", len(st.records))
	}
	rec := st.records[0]
	if rec.Type != "file.uploaded" || rec.ActorID != "7" {
		t.Errorf("record = %+v", rec)
	}
	if !rec.EmittedAt.Equal(ev.EmittedAt) {
		t.Errorf("EmittedAt = %v, want %v", rec.EmittedAt, ev.EmittedAt)
	}
	if string(rec.Payload) == "" || string(rec.Payload) == "null" {
		t.Errorf("payload not recorded: %s", rec.Payload)
	}
}

func TestAttach_FailureIsContained(t *testing.T) {
	var failed []string
	bus := testBus(func(_ events.Type, sub string) { failed = append(failed, sub) })
	if _, err := Attach(bus, &memStore{err: errors.New("db down")}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if err := bus.Publish(context.Background(), events.New(events.TaskDeleted, nil, "")); err != nil {
		t.Fatalf("Publish returned storage error: %v", err)
	}
	if len(failed) != 1 || failed[0] != SubscriberName {
		t.Errorf("failures = %v", failed)
	}
}

func TestNewRecord_Unencodable(t *testing.T) {
	if _, err := NewRecord(events.New(events.TaskCreated, func() {}, "")); err == nil {
		t.Fatal("expected error for unencodable payload")
	}
}
