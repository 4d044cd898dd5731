package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/alfredjeanlab/tasknotify/internal/auth"
)

// wsServer accepts one websocket, records the credential it was offered and
// then runs serve.
func wsServer(t *testing.T, serve func(r *http.Request, ws *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		serve(r, ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDial_Strategies(t *testing.T) {
	for _, tc := range []struct {
		name     string
		strategy auth.Strategy
		check    func(r *http.Request, first string) string
	}{
		{"Header", auth.StrategyHeader, func(r *http.Request, _ string) string {
			return r.Header.Get("Authorization")
		}},
		{"Cookie", auth.StrategyCookie, func(r *http.Request, _ string) string {
			c, err := r.Cookie(auth.DefaultCookieName)
			if err != nil {
				return ""
			}
			return c.Value
		}},
		{"Handshake", auth.StrategyHandshake, func(_ *http.Request, first string) string {
			return first
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := make(chan string, 1)
			url := wsServer(t, func(r *http.Request, ws *websocket.Conn) {
				var first string
				if tc.strategy == auth.StrategyHandshake {
					_, data, err := ws.Read(r.Context())
					if err != nil {
						return
					}
					first = string(data)
				}
				got <- tc.check(r, first)
				_ = ws.Write(r.Context(), websocket.MessageText, []byte(`{"event":"presence.list","data":["7"]}`))
				ws.Close(websocket.StatusNormalClosure, "")
			})

			s, err := Dial(testCtx(t), url, "tok", DialOptions{Strategy: tc.strategy})
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			defer s.Close()

			ev, err := s.Next(testCtx(t))
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if ev.Name != "presence.list" || string(ev.Data) != `["7"]` {
				t.Errorf("event = %s %s", ev.Name, ev.Data)
			}
			if cred := <-got; !strings.Contains(cred, "tok") {
				t.Errorf("server saw credential %q", cred)
			}
			if _, err := s.Next(testCtx(t)); !errors.Is(err, io.EOF) {
				t.Errorf("after close: %v, want io.EOF", err)
			}
		})
	}
}

func TestDial_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"token expired","reason":"expired"}`))
	}))
	defer srv.Close()

	_, err := Dial(testCtx(t), "ws"+strings.TrimPrefix(srv.URL, "http"), "tok", DialOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Reason != "expired" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestNext_HandshakeRejected(t *testing.T) {
	url := wsServer(t, func(r *http.Request, ws *websocket.Conn) {
		_, _, _ = ws.Read(r.Context())
		ws.Close(statusAuthFailed, "invalid token")
	})

	s, err := Dial(testCtx(t), url, "tok", DialOptions{Strategy: auth.StrategyHandshake})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := s.Next(testCtx(t)); !errors.Is(err, ErrAuthRejected) {
		t.Errorf("Next = %v, want ErrAuthRejected", err)
	}
}

func TestDial_UnknownStrategy(t *testing.T) {
	if _, err := Dial(testCtx(t), "ws://127.0.0.1:1/v1/ws", "tok", DialOptions{Strategy: "query"}); err == nil {
		t.Fatal("expected error")
	}
}
