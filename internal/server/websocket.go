package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/alfredjeanlab/tasknotify/internal/auth"
	"github.com/alfredjeanlab/tasknotify/internal/idgen"
	"github.com/alfredjeanlab/tasknotify/internal/transport"
)

// StatusAuthFailed is the close code sent when handshake authentication
// fails.
const StatusAuthFailed websocket.StatusCode = 4401

// handleWebsocket handles GET /v1/ws. Nothing is registered until the
// client is authenticated, so a rejected connection never shows up in
// presence.
func (s *NotifyServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	s.conns.Add(1)
	defer s.conns.Done()

	var identity auth.Identity
	handshake := s.Auth.Strategy() == auth.StrategyHandshake
	if !handshake {
		id, err := s.Auth.AuthenticateRequest(r)
		if err != nil {
			s.rejectHTTP(w, r, err)
			return
		}
		identity = id
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.AllowedOrigins,
	})
	if err != nil {
		s.Logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(4096)

	if handshake {
		id, err := s.readHandshake(r.Context(), ws)
		if err != nil {
			s.rejectWebsocket(ws, r, err)
			return
		}
		identity = id
	}

	connID, err := idgen.ConnID()
	if err != nil {
		s.Logger.Error("generating connection id", "error", err)
		ws.Close(websocket.StatusInternalError, "internal error")
		return
	}
	conn := transport.New(r.Context(), ws, connID, identity, transport.Config{SendBuffer: s.opts.SendBuffer}, s.Logger)

	first, err := s.Hub.Register(conn)
	if err != nil {
		conn.Close("server shutting down")
		return
	}
	// Presence edges are announced by s.presence in hub order.
	s.Logger.Info("client connected", "conn_id", connID, "user_id", identity.UserID, "first", first)

	conn.Run()

	last, err := s.Hub.Unregister(conn)
	if err != nil {
		return
	}
	s.Logger.Info("client disconnected", "conn_id", connID, "user_id", identity.UserID, "last", last)
}

// readHandshake waits for the client's auth frame. The connection is closed
// with StatusAuthFailed if none arrives within the auth timeout.
func (s *NotifyServer) readHandshake(ctx context.Context, ws *websocket.Conn) (auth.Identity, error) {
	timeout := &auth.Error{Reason: auth.ReasonMissing, Err: errors.New("no handshake frame before timeout")}
	timer := time.AfterFunc(s.opts.AuthTimeout, func() {
		ws.Close(StatusAuthFailed, timeout.Message())
	})

	typ, data, err := ws.Read(ctx)
	if !timer.Stop() {
		return auth.Identity{}, timeout
	}
	if err != nil {
		return auth.Identity{}, &auth.Error{Reason: auth.ReasonMissing, Err: err}
	}
	if typ != websocket.MessageText {
		return auth.Identity{}, &auth.Error{Reason: auth.ReasonInvalid, Err: errors.New("handshake frame is not text")}
	}
	return s.Auth.AuthenticateHandshake(data)
}

// rejectWebsocket closes an accepted but unauthenticated websocket.
func (s *NotifyServer) rejectWebsocket(ws *websocket.Conn, r *http.Request, err error) {
	var ae *auth.Error
	if !errors.As(err, &ae) {
		ae = &auth.Error{Reason: auth.ReasonInvalid, Err: err}
	}
	s.Metrics.AuthFailed(string(ae.Reason))
	s.Logger.Info("auth rejected", "reason", ae.Reason, "remote", r.RemoteAddr, "error", ae.Err)
	ws.Close(StatusAuthFailed, ae.Message())
}
