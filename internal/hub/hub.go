// Package hub is the single-threaded core of one notifyd instance.
//
// One goroutine, started by Run, owns the connection set, the room
// membership, and the presence registry. Every operation is a closure
// executed on that goroutine, so registration, unregistration and local
// delivery never overlap and none of that state needs a lock. Operations
// never perform network I/O beyond a non-blocking enqueue on a connection.
package hub

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alfredjeanlab/tasknotify/internal/events"
	"github.com/alfredjeanlab/tasknotify/internal/metrics"
	"github.com/alfredjeanlab/tasknotify/internal/presence"
	"github.com/alfredjeanlab/tasknotify/internal/relay"
	"github.com/alfredjeanlab/tasknotify/internal/transport"
)

// ErrStopped is returned by operations submitted after Run has returned.
var ErrStopped = errors.New("hub stopped")

// Conn is the part of a client connection the hub needs.
type Conn interface {
	ID() string
	UserID() string
	Send(frame []byte) bool
	Close(reason string)
}

// Hub tracks the connections attached to this instance.
type Hub struct {
	ops     chan func()
	stopped chan struct{}

	// Owned by the Run goroutine.
	conns    map[string]Conn
	rooms    map[string]map[string]Conn
	registry *presence.Registry
	onEdge   func(userID string, online bool)

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Hub. Call Run to start processing.
func New(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		ops:      make(chan func(), 256),
		stopped:  make(chan struct{}),
		conns:    make(map[string]Conn),
		rooms:    make(map[string]map[string]Conn),
		registry: presence.New(),
		logger:   logger.With("component", "hub"),
		metrics:  m,
	}
}

// Run processes operations until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case op := <-h.ops:
			op()
		case <-ctx.Done():
			return
		}
	}
}

// do runs fn on the hub goroutine and waits for it to finish.
func (h *Hub) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case h.ops <- func() { fn(); close(finished) }:
	case <-h.stopped:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-h.stopped:
		return ErrStopped
	}
}

// enqueue runs fn on the hub goroutine without waiting for it.
func (h *Hub) enqueue(fn func()) {
	select {
	case h.ops <- fn:
	case <-h.stopped:
	}
}

// Stopped is closed once Run has returned.
func (h *Hub) Stopped() <-chan struct{} { return h.stopped }

// OnPresence sets fn to be called on the hub goroutine for every presence
// edge: a user's first connection (online) and last disconnection
// (offline). Calls follow the order in which the edges happened. fn must
// not block.
func (h *Hub) OnPresence(fn func(userID string, online bool)) error {
	return h.do(func() { h.onEdge = fn })
}

// Register attaches c, joins it to its user's room, records presence and
// sends c the presence snapshot. It reports whether c is its user's first
// connection on this instance.
func (h *Hub) Register(c Conn) (first bool, err error) {
	err = h.do(func() {
		if _, ok := h.conns[c.ID()]; ok {
			return
		}
		h.conns[c.ID()] = c
		h.join(relay.UserRoom(c.UserID()), c)
		first = h.registry.Register(c.UserID(), c.ID())
		if first && h.onEdge != nil {
			h.onEdge(c.UserID(), true)
		}

		frame, ferr := transport.EncodeFrame(string(events.PresenceList), h.registry.OnlineUsers())
		if ferr != nil {
			h.logger.Error("encoding presence snapshot", "error", ferr)
		} else {
			h.send(c, frame)
		}
		h.observe()
	})
	return first, err
}

// Unregister detaches c. It reports whether c was its user's last
// connection on this instance. Unknown connections are ignored.
func (h *Hub) Unregister(c Conn) (last bool, err error) {
	err = h.do(func() {
		if _, ok := h.conns[c.ID()]; !ok {
			return
		}
		delete(h.conns, c.ID())
		h.leave(relay.UserRoom(c.UserID()), c.ID())
		last = h.registry.Unregister(c.UserID(), c.ID())
		if last && h.onEdge != nil {
			h.onEdge(c.UserID(), false)
		}
		h.observe()
	})
	return last, err
}

// Deliver hands msg to every local connection it addresses. It returns
// without waiting; deliveries happen in submission order.
func (h *Hub) Deliver(msg relay.Message) {
	h.enqueue(func() {
		frame, err := transport.EncodeFrame(msg.Type, msg.Payload)
		if err != nil {
			h.logger.Error("encoding delivery frame", "type", msg.Type, "error", err)
			return
		}
		for room, members := range h.rooms {
			if !msg.Addresses(room) {
				continue
			}
			for _, c := range members {
				h.send(c, frame)
			}
		}
	})
}

// Flush waits until every operation submitted before it has run.
func (h *Hub) Flush() error { return h.do(func() {}) }

// OnlineUsers returns the sorted ids of users connected to this instance.
func (h *Hub) OnlineUsers() ([]string, error) {
	var users []string
	err := h.do(func() { users = h.registry.OnlineUsers() })
	return users, err
}

// Roster returns presence details for users connected to this instance.
func (h *Hub) Roster() ([]presence.Entry, error) {
	var roster []presence.Entry
	err := h.do(func() { roster = h.registry.Roster() })
	return roster, err
}

// ConnectionCount returns the number of attached connections.
func (h *Hub) ConnectionCount() (int, error) {
	var n int
	err := h.do(func() { n = len(h.conns) })
	return n, err
}

// CloseAll closes every attached connection with reason. The connections
// unregister themselves as their handlers return.
func (h *Hub) CloseAll(reason string) error {
	var conns []Conn
	if err := h.do(func() {
		for _, c := range h.conns {
			conns = append(conns, c)
		}
	}); err != nil {
		return err
	}
	// Close waits for the close handshake, so it runs off the hub goroutine.
	for _, c := range conns {
		c.Close(reason)
	}
	return nil
}

func (h *Hub) join(room string, c Conn) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]Conn)
		h.rooms[room] = members
	}
	members[c.ID()] = c
}

func (h *Hub) leave(room, connID string) {
	members := h.rooms[room]
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) send(c Conn, frame []byte) {
	if !c.Send(frame) {
		h.metrics.SendDropped()
		h.logger.Warn("dropping message for slow connection", "conn_id", c.ID(), "user_id", c.UserID())
	}
}

func (h *Hub) observe() {
	h.metrics.SetConnections(len(h.conns))
	h.metrics.SetOnlineUsers(h.registry.Len())
}
