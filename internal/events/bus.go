// Package events defines the domain events produced by task and file
// mutations and the in-process Bus that carries them to subscribers.
//
// Publishing is synchronous: Publish invokes every subscriber registered for
// the event's exact type, in subscription order, before returning. A failing
// or panicking subscriber is logged and skipped; its failure never reaches the
// publisher, whose mutation has already been committed.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// ErrUnknownType is returned for event types outside the domain enumeration.
	ErrUnknownType = errors.New("unknown event type")
	// ErrBusClosed is returned by Publish and Subscribe after Close.
	ErrBusClosed = errors.New("event bus closed")
)

// Handler processes one event. A returned error is logged by the Bus.
type Handler func(ctx context.Context, ev DomainEvent) error

// FailureFunc is notified whenever a subscriber fails.
type FailureFunc func(t Type, subscriber string)

type subscription struct {
	id      uint64
	name    string
	handler Handler
}

// Bus is an explicit, synchronous publish/subscribe hub for DomainEvents.
// It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Type][]subscription
	nextID uint64
	closed bool

	logger    *slog.Logger
	onFailure FailureFunc
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithFailureFunc registers a callback invoked for every subscriber failure.
func WithFailureFunc(fn FailureFunc) BusOption {
	return func(b *Bus) { b.onFailure = fn }
}

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger, opts ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[Type][]subscription),
		logger: logger.With("component", "events"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events of type t. The name identifies the
// subscriber in logs. Call the returned cancel function to unsubscribe.
func (b *Bus) Subscribe(t Type, name string, h Handler) (func(), error) {
	if !t.Valid() {
		return nil, fmt.Errorf("subscribe %q: %w", t, ErrUnknownType)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, name: name, handler: h})

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.unsubscribe(t, id) })
	}
	return cancel, nil
}

// SubscribeAll registers h for every domain event type.
func (b *Bus) SubscribeAll(name string, h Handler) (func(), error) {
	var cancels []func()
	cancelAll := func() {
		for _, c := range cancels {
			c()
		}
	}
	for _, t := range domainTypes {
		c, err := b.Subscribe(t, name, h)
		if err != nil {
			cancelAll()
			return nil, err
		}
		cancels = append(cancels, c)
	}
	return cancelAll, nil
}

func (b *Bus) unsubscribe(t Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t]
	for i, s := range subs {
		if s.id == id {
			// Copy so a Publish iterating the old slice is unaffected.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subs[t] = next
			return
		}
	}
}

// Publish delivers ev to every subscriber of ev.Type, in subscription order,
// on the calling goroutine. Only an invalid event type or a closed Bus yields
// an error; subscriber failures are contained.
func (b *Bus) Publish(ctx context.Context, ev DomainEvent) error {
	if !ev.Type.Valid() {
		return fmt.Errorf("publish %q: %w", ev.Type, ErrUnknownType)
	}
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now().UTC()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	subs := b.subs[ev.Type]
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(ctx, s, ev)
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, s subscription, ev DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"type", ev.Type,
				"subscriber", s.name,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			b.failed(ev.Type, s.name)
		}
	}()

	if err := s.handler(ctx, ev); err != nil {
		b.logger.Error("event subscriber failed",
			"type", ev.Type,
			"subscriber", s.name,
			"error", err,
		)
		b.failed(ev.Type, s.name)
	}
}

func (b *Bus) failed(t Type, name string) {
	if b.onFailure != nil {
		b.onFailure(t, name)
	}
}

// Close drops all subscriptions. Later Publish and Subscribe calls fail with
// ErrBusClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[Type][]subscription)
	return nil
}
