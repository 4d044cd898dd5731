// Package relay mirrors broadcasts across notifyd instances over one shared
// pub/sub channel.
//
// Every instance, the publisher included, subscribes to the channel and
// delivers each received Message to its own connections. While the backend
// is not ready, Broadcast falls back to delivering on this instance only;
// cross-instance delivery resumes with the next broadcast after the backend
// reports ready again. Nothing published during an outage is replayed.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/tasknotify/internal/metrics"
)

// ErrNotReady is returned by Publish while the backend is not ready.
var ErrNotReady = errors.New("relay not ready")

// ErrUnconfirmed wraps publish errors after which the message may still
// have reached the channel, such as a timeout waiting for the reply.
var ErrUnconfirmed = errors.New("relay publish unconfirmed")

// Handlers receives backend callbacks. Both may be invoked from backend
// goroutines.
type Handlers struct {
	Message func(data []byte)
	State   func(State)
}

// Backend is a pub/sub transport bound to one channel.
type Backend interface {
	// Name identifies the backend in logs and health output.
	Name() string
	// Connect establishes the connection and the channel subscription. It
	// reports StateReady through h.State once messages can flow.
	Connect(ctx context.Context, h Handlers) error
	// Publish sends data on the channel.
	Publish(ctx context.Context, data []byte) error
	// Close tears the connection down and reports StateDisconnected.
	Close() error
}

// DeliverFunc hands a received Message to the local transport layer.
type DeliverFunc func(Message)

// Relay owns one Backend and the state machine of its connection.
type Relay struct {
	backend  Backend
	deliver  DeliverFunc
	instance string
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	state    State
	watchers []func(State)
}

// Option configures a Relay.
type Option func(*Relay)

// WithMetrics records relay traffic and state on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithInstance stamps outgoing messages with the instance id.
func WithInstance(id string) Option {
	return func(r *Relay) { r.instance = id }
}

// New creates a Relay that hands received messages to deliver.
func New(backend Backend, deliver DeliverFunc, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		backend: backend,
		deliver: deliver,
		logger:  logger.With("component", "relay", "backend", backend.Name()),
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics.SetRelayState(int(r.state))
	return r
}

// Start connects the backend. It returns once the channel subscription is
// established or the connection attempt fails.
func (r *Relay) Start(ctx context.Context) error {
	r.setState(StateConnecting)
	err := r.backend.Connect(ctx, Handlers{
		Message: r.receive,
		State:   r.setState,
	})
	if err != nil {
		r.setState(StateDisconnected)
		return fmt.Errorf("starting %s relay: %w", r.backend.Name(), err)
	}
	return nil
}

// Close disconnects the backend.
func (r *Relay) Close() error {
	err := r.backend.Close()
	r.setState(StateDisconnected)
	return err
}

// State returns the current connection state.
func (r *Relay) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Backend returns the backend name.
func (r *Relay) Backend() string { return r.backend.Name() }

// OnStateChange registers fn to be called after every state change.
func (r *Relay) OnStateChange(fn func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}

func (r *Relay) setState(to State) {
	r.mu.Lock()
	from := r.state
	if from == to {
		r.mu.Unlock()
		return
	}
	r.state = to
	watchers := r.watchers
	r.mu.Unlock()

	if expectedTransition(from, to) {
		r.logger.Info("relay state changed", "from", from, "to", to)
	} else {
		r.logger.Warn("relay state changed unexpectedly", "from", from, "to", to)
	}
	r.metrics.SetRelayState(int(to))
	for _, fn := range watchers {
		fn(to)
	}
}

// Publish sends msg to every instance through the backend. It does not
// deliver locally; this instance receives msg back from the channel.
func (r *Relay) Publish(ctx context.Context, msg Message) error {
	if r.State() != StateReady {
		return ErrNotReady
	}
	if msg.Origin == "" {
		msg.Origin = r.instance
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := r.backend.Publish(ctx, data); err != nil {
		return fmt.Errorf("publishing to %s relay: %w", r.backend.Name(), err)
	}
	r.metrics.RelayMessage("published")
	return nil
}

// Broadcast publishes msg to every instance, or delivers it to this
// instance only when the relay cannot carry it. An unconfirmed publish is
// not delivered locally: if it did reach the channel, the echo delivers it
// and a local copy would be a duplicate.
func (r *Relay) Broadcast(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	err := r.Publish(ctx, msg)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnconfirmed) {
		r.metrics.RelayMessage("unconfirmed")
		r.logger.Warn("relay publish unconfirmed, relying on channel echo", "type", msg.Type, "error", err)
		return nil
	}
	if !errors.Is(err, ErrNotReady) {
		r.logger.Warn("relay publish failed, delivering locally", "type", msg.Type, "error", err)
	} else {
		r.logger.Debug("relay not ready, delivering locally", "type", msg.Type, "state", r.State())
	}
	r.metrics.LocalFallback()
	if msg.Origin == "" {
		msg.Origin = r.instance
	}
	r.deliver(msg)
	return nil
}

func (r *Relay) receive(data []byte) {
	msg, err := Decode(data)
	if err != nil {
		r.metrics.RelayMessage("malformed")
		r.logger.Warn("dropping malformed relay message", "error", err, "size", len(data))
		return
	}
	r.metrics.RelayMessage("received")
	r.deliver(msg)
}
