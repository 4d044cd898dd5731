// Package server exposes one notifyd instance over HTTP and gRPC: the
// websocket endpoint clients connect to, event ingest for mutation
// services, and the health, presence and metrics surfaces.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/tasknotify/internal/auth"
	"github.com/alfredjeanlab/tasknotify/internal/events"
	"github.com/alfredjeanlab/tasknotify/internal/hub"
	"github.com/alfredjeanlab/tasknotify/internal/metrics"
	"github.com/alfredjeanlab/tasknotify/internal/relay"
	"github.com/alfredjeanlab/tasknotify/internal/router"
	"github.com/alfredjeanlab/tasknotify/internal/store"
)

// Options are the transport settings of a NotifyServer.
type Options struct {
	Instance       string
	AuthTimeout    time.Duration
	ServiceToken   string   // guards event ingest and the audit listing; empty disables both
	AllowedOrigins []string // websocket origin patterns; empty allows same-origin only
	SendBuffer     int
}

// Deps are the components a NotifyServer fronts.
type Deps struct {
	Auth    *auth.Authenticator
	Bus     *events.Bus
	Hub     *hub.Hub
	Relay   *relay.Relay
	Router  *router.Router
	Audit   store.Store // optional
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NotifyServer serves client connections for one instance.
type NotifyServer struct {
	Deps
	opts Options

	// conns tracks websocket handlers so shutdown can wait for their
	// unregistration to finish.
	conns    sync.WaitGroup
	presence *announcer
}

// New creates a NotifyServer.
func New(deps Deps, opts Options) *NotifyServer {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 5 * time.Second
	}
	deps.Logger = deps.Logger.With("component", "server")
	s := &NotifyServer{Deps: deps, opts: opts}
	s.presence = newAnnouncer(s.announceEdge)
	if err := deps.Hub.OnPresence(s.presence.push); err != nil {
		deps.Logger.Error("hub stopped before server start", "error", err)
	}
	go s.presence.run(deps.Hub.Stopped())
	return s
}

// CloseConnections closes every client connection and waits until each has
// been unregistered and every resulting offline announcement published, or
// ctx expires.
func (s *NotifyServer) CloseConnections(ctx context.Context) error {
	if err := s.Hub.CloseAll("server shutting down"); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.presence.wait(ctx)
}
