package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"

	"github.com/alfredjeanlab/tasknotify/internal/auth"
)

// DialOptions select how the token is presented to the server. It must
// match the server's configured strategy.
type DialOptions struct {
	Strategy   auth.Strategy // default header
	CookieName string        // default auth.DefaultCookieName
}

// Stream is an authenticated websocket connection to notifyd.
type Stream struct {
	ws *websocket.Conn
}

// Dial connects to the websocket endpoint (e.g. "ws://localhost:8001/v1/ws")
// and authenticates with token. A rejection before the upgrade is returned
// as an *APIError carrying the server's reason.
func Dial(ctx context.Context, url, token string, opts DialOptions) (*Stream, error) {
	if opts.Strategy == "" {
		opts.Strategy = auth.StrategyHeader
	}
	if opts.CookieName == "" {
		opts.CookieName = auth.DefaultCookieName
	}

	header := http.Header{}
	switch opts.Strategy {
	case auth.StrategyHeader:
		header.Set("Authorization", "Bearer "+token)
	case auth.StrategyCookie:
		header.Set("Cookie", (&http.Cookie{Name: opts.CookieName, Value: token}).String())
	case auth.StrategyHandshake:
	default:
		return nil, fmt.Errorf("unknown auth strategy %q", opts.Strategy)
	}

	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return nil, apiError(resp.StatusCode, body)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	if opts.Strategy == auth.StrategyHandshake {
		frame, err := json.Marshal(auth.HandshakeFrame{Token: token})
		if err != nil {
			ws.CloseNow()
			return nil, fmt.Errorf("marshaling handshake: %w", err)
		}
		if err := ws.Write(ctx, websocket.MessageText, frame); err != nil {
			ws.CloseNow()
			return nil, fmt.Errorf("sending handshake: %w", err)
		}
	}
	return &Stream{ws: ws}, nil
}

// statusAuthFailed is the close code the server uses for handshake
// authentication failures.
const statusAuthFailed websocket.StatusCode = 4401

// ErrAuthRejected is returned by Next when the server closes the stream
// because handshake authentication failed.
var ErrAuthRejected = errors.New("authentication rejected")

// Next blocks until the next event arrives. Cancelling ctx closes the
// stream. A clean server close returns io.EOF.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	_, data, err := s.ws.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			switch ce.Code {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return Event{}, io.EOF
			case statusAuthFailed:
				return Event{}, fmt.Errorf("%w: %s", ErrAuthRejected, ce.Reason)
			}
		}
		return Event{}, err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decoding frame: %w", err)
	}
	return ev, nil
}

// Close closes the stream normally.
func (s *Stream) Close() error {
	return s.ws.Close(websocket.StatusNormalClosure, "")
}
