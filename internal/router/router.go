// Package router turns domain events and presence transitions into relay
// broadcasts.
//
// Every event is addressed to all connections on all instances, minus the
// room of the user who caused it. The router never writes to connections
// itself; the relay hands each message back to every instance's hub.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/tasknotify/internal/events"
	"github.com/alfredjeanlab/tasknotify/internal/metrics"
	"github.com/alfredjeanlab/tasknotify/internal/relay"
)

// SubscriberName identifies the router on the event bus.
const SubscriberName = "broadcast-router"

// Broadcaster delivers a message to the audience it describes.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg relay.Message) error
}

// Router subscribes to the event bus and forwards events to a Broadcaster.
type Router struct {
	out     Broadcaster
	logger  *slog.Logger
	metrics *metrics.Metrics
	cancel  func()
}

// New creates a Router that broadcasts through out.
func New(out Broadcaster, logger *slog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		out:     out,
		logger:  logger.With("component", "router"),
		metrics: m,
	}
}

// Attach subscribes the router to every domain event type on bus.
func (r *Router) Attach(bus *events.Bus) error {
	cancel, err := bus.SubscribeAll(SubscriberName, r.HandleEvent)
	if err != nil {
		return fmt.Errorf("attaching router: %w", err)
	}
	r.cancel = cancel
	return nil
}

// Detach removes the router's bus subscriptions.
func (r *Router) Detach() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// HandleEvent is the bus handler. The actor id never leaves this function;
// only the payload is sent to clients.
func (r *Router) HandleEvent(ctx context.Context, ev events.DomainEvent) error {
	var exclude []string
	if ev.ActorID != "" {
		exclude = append(exclude, relay.UserRoom(ev.ActorID))
	}
	msg, err := relay.NewMessage(string(ev.Type), ev.Payload, exclude...)
	if err != nil {
		return err
	}
	r.metrics.EventPublished(string(ev.Type))
	return r.out.Broadcast(ctx, msg)
}

// AnnouncePresence tells every other user that userID came online or went
// offline. The user's own connections are excluded.
func (r *Router) AnnouncePresence(ctx context.Context, userID string, online bool) error {
	t := events.UserOffline
	if online {
		t = events.UserOnline
	}
	msg, err := relay.NewMessage(string(t), events.PresenceChange{UserID: userID}, relay.UserRoom(userID))
	if err != nil {
		return err
	}
	r.logger.Debug("announcing presence", "user_id", userID, "event", t)
	return r.out.Broadcast(ctx, msg)
}
