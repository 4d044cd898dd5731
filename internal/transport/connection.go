// Package transport wraps one accepted websocket as a Connection with a
// bounded outbound queue and a single writer goroutine.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/alfredjeanlab/tasknotify/internal/auth"
	"github.com/alfredjeanlab/tasknotify/internal/relay"
)

// DefaultSendBuffer is the outbound queue length used when none is given.
const DefaultSendBuffer = 64

// Config tunes a Connection.
type Config struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

// Connection is one authenticated websocket. Its Identity is fixed at
// construction. It is safe for concurrent use.
type Connection struct {
	id        string
	identity  auth.Identity
	createdAt time.Time

	ws      *websocket.Conn
	send    chan []byte
	timeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}

	logger *slog.Logger
}

// New wraps ws. The connection stays open until Close is called, the client
// goes away, or parent is cancelled.
func New(parent context.Context, ws *websocket.Conn, id string, identity auth.Identity, cfg Config, logger *slog.Logger) *Connection {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	return &Connection{
		id:        id,
		identity:  identity,
		createdAt: time.Now(),
		ws:        ws,
		send:      make(chan []byte, cfg.SendBuffer),
		timeout:   cfg.WriteTimeout,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    logger.With("conn_id", id, "user_id", identity.UserID),
	}
}

func (c *Connection) ID() string { return c.id }
func (c *Connection) UserID() string { return c.identity.UserID }
func (c *Connection) Identity() auth.Identity { return c.identity }
func (c *Connection) CreatedAt() time.Time { return c.createdAt }
func (c *Connection) Room() string { return relay.UserRoom(c.identity.UserID) }
func (c *Connection) Done() <-chan struct{} { return c.done }
func (c *Connection) Context() context.Context { return c.ctx }

// Run starts the writer and blocks until the connection is closed. Clients
// send nothing after authentication, so any inbound data frame closes the
// connection with a policy violation.
func (c *Connection) Run() {
	readCtx := c.ws.CloseRead(c.ctx)
	go c.writePump()

	select {
	case <-readCtx.Done():
		c.Close("")
	case <-c.done:
	}
	<-c.done
}

func (c *Connection) writePump() {
	for {
		select {
		case frame := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
			err := c.ws.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					c.logger.Debug("websocket write failed", "error", err)
				}
				c.Close("")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues frame without blocking. It reports false when the frame was
// dropped because the connection is closed or its queue is full.
func (c *Connection) Send(frame []byte) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close closes the websocket with StatusGoingAway if reason is set, or a
// normal closure otherwise. Only the first call has any effect.
func (c *Connection) Close(reason string) {
	status := websocket.StatusNormalClosure
	if reason != "" {
		status = websocket.StatusGoingAway
	}
	c.CloseWith(status, reason)
}

// CloseWith closes the websocket with the given status code.
func (c *Connection) CloseWith(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close(status, reason)
		c.logger.Debug("connection closed", "status", status, "reason", reason)
		close(c.done)
	})
}
