package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS is a Backend on a NATS subject.
//
// The connection reconnects forever. Publishes made while disconnected fail
// instead of being buffered, so an outage never replays stale events.
type NATS struct {
	url     string
	subject string
	wait    time.Duration
	opts    []nats.Option

	mu      sync.Mutex
	conn    *nats.Conn
	sub     *nats.Subscription
	closing atomic.Bool
}

// NewNATS creates a NATS backend for subject. Extra nats.Option values are
// appended after the defaults.
func NewNATS(url, subject string, reconnectWait time.Duration, opts ...nats.Option) *NATS {
	if reconnectWait <= 0 {
		reconnectWait = time.Second
	}
	return &NATS{url: url, subject: subject, wait: reconnectWait, opts: opts}
}

func (b *NATS) Name() string { return "nats" }

func (b *NATS) Connect(ctx context.Context, h Handlers) error {
	defaults := []nats.Option{
		nats.Name("tasknotify"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(b.wait),
		nats.ReconnectBufSize(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, _ error) {
			if b.closing.Load() {
				return
			}
			h.State(StateDegraded)
			h.State(StateReconnecting)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.awaitResubscribe(nc, h)
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			h.State(StateDisconnected)
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		defaults = append(defaults, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(b.url, append(defaults, b.opts...)...)
	if err != nil {
		return fmt.Errorf("connecting to NATS at %s: %w", b.url, err)
	}
	sub, err := nc.Subscribe(b.subject, func(msg *nats.Msg) {
		h.Message(msg.Data)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribing to %s: %w", b.subject, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := nc.Flush(); err != nil {
		nc.Close()
		return fmt.Errorf("flushing subscription: %w", err)
	}

	b.mu.Lock()
	b.conn, b.sub = nc, sub
	b.mu.Unlock()
	h.State(StateReady)
	return nil
}

// flusher is the part of *nats.Conn awaitResubscribe needs.
type flusher interface {
	FlushTimeout(time.Duration) error
	IsConnected() bool
}

// resubscribeTimeout bounds one flush after a reconnect.
const resubscribeTimeout = 5 * time.Second

// awaitResubscribe reports StateReady once the server has acknowledged the
// subscription replayed on reconnect. Failed flushes are retried while the
// connection stays up; if it drops, the next reconnect starts over.
func (b *NATS) awaitResubscribe(nc flusher, h Handlers) {
	for {
		err := nc.FlushTimeout(resubscribeTimeout)
		if err == nil {
			h.State(StateReady)
			return
		}
		if b.closing.Load() || !nc.IsConnected() {
			return
		}
		time.Sleep(b.wait)
	}
}

func (b *NATS) Publish(_ context.Context, data []byte) error {
	b.mu.Lock()
	nc := b.conn
	b.mu.Unlock()
	if nc == nil {
		return ErrNotReady
	}
	return nc.Publish(b.subject, data)
}

func (b *NATS) Close() error {
	b.closing.Store(true)
	b.mu.Lock()
	nc, sub := b.conn, b.sub
	b.conn, b.sub = nil, nil
	b.mu.Unlock()
	if nc == nil {
		return nil
	}
	_ = sub.Unsubscribe()
	nc.Close()
	return nil
}
