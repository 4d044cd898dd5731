package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/tasknotify/internal/auth"
	"github.com/alfredjeanlab/tasknotify/internal/events"
	"github.com/alfredjeanlab/tasknotify/internal/relay"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// Event ingest and the audit listing are only served when a service token
// is configured.
func (s *NotifyServer) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/ws", s.handleWebsocket)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/presence", s.handlePresence)
	if s.opts.ServiceToken != "" {
		mux.Handle("POST /v1/events", AuthMiddleware(s.opts.ServiceToken, http.HandlerFunc(s.handleEmit)))
		if s.Audit != nil {
			mux.Handle("GET /v1/events", AuthMiddleware(s.opts.ServiceToken, http.HandlerFunc(s.handleListEvents)))
		}
	}
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}
	return mux
}

// healthResponse is the body of GET /v1/health.
type healthResponse struct {
	Status      string      `json:"status"`
	Instance    string      `json:"instance"`
	Relay       relay.State `json:"relay"`
	Backend     string      `json:"backend"`
	Connections int         `json:"connections"`
}

// handleHealth handles GET /v1/health. A degraded relay is reported but the
// instance still answers 200, since same-instance delivery keeps working.
func (s *NotifyServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Instance: s.opts.Instance,
		Relay:    s.Relay.State(),
		Backend:  s.Relay.Backend(),
	}
	if resp.Relay != relay.StateReady {
		resp.Status = "degraded"
	}
	n, err := s.Hub.ConnectionCount()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp.Connections = n
	writeJSON(w, http.StatusOK, resp)
}

// handlePresence handles GET /v1/presence. Callers authenticate like a
// websocket client.
func (s *NotifyServer) handlePresence(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Auth.AuthenticateRequest(r); err != nil {
		s.rejectHTTP(w, r, err)
		return
	}
	roster, err := s.Hub.Roster()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	users, err := s.Hub.OnlineUsers()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instance": s.opts.Instance,
		"online":   users,
		"roster":   roster,
	})
}

// EmitRequest is the body of POST /v1/events.
type EmitRequest struct {
	Type    events.Type     `json:"type"`
	Payload json.RawMessage `json:"payload"`
	ActorID string          `json:"actor_id,omitempty"`
}

// handleEmit handles POST /v1/events. Mutation services call it after their
// storage commit; the event is published on the bus before responding.
func (s *NotifyServer) handleEmit(w http.ResponseWriter, r *http.Request) {
	var req EmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev := events.New(req.Type, req.Payload, req.ActorID)
	if err := s.Bus.Publish(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, events.ErrUnknownType):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, events.ErrBusClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"type":       ev.Type,
		"emitted_at": ev.EmittedAt,
	})
}

// handleListEvents handles GET /v1/events?limit=N.
func (s *NotifyServer) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.Audit.ListEvents(r.Context(), limit)
	if err != nil {
		s.Logger.Error("listing audit events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if records == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// rejectHTTP answers a failed authentication with 401.
func (s *NotifyServer) rejectHTTP(w http.ResponseWriter, r *http.Request, err error) {
	var ae *auth.Error
	if !errors.As(err, &ae) {
		ae = &auth.Error{Reason: auth.ReasonInvalid, Err: err}
	}
	s.Metrics.AuthFailed(string(ae.Reason))
	s.Logger.Info("auth rejected", "reason", ae.Reason, "remote", r.RemoteAddr, "error", ae.Err)
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":  ae.Message(),
		"reason": string(ae.Reason),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
