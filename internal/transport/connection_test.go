package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/alfredjeanlab/tasknotify/internal/auth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// serve accepts one websocket, wraps it in a Connection and hands it to the
// test over the returned channel.
func serve(t *testing.T, cfg Config) (string, <-chan *Connection) {
	t.Helper()
	ch := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		c := New(context.Background(), ws, "conn-test", auth.Identity{UserID: "7"}, cfg, testLogger())
		ch <- c
		c.Run()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), ch
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.CloseNow() })
	return ws
}

func TestConnection_SendInOrder(t *testing.T) {
	url, conns := serve(t, Config{})
	ws := dial(t, url)
	c := <-conns

	if c.Room() != "user:7" || c.UserID() != "7" || c.ID() != "conn-test" {
		t.Fatalf("unexpected connection metadata: id=%s room=%s", c.ID(), c.Room())
	}

	for _, ev := range []string{"task.created", "task.updated", "task.deleted"} {
		frame, err := EncodeFrame(ev, map[string]int{"id": 1})
		if err != nil {
			t.Fatalf("EncodeFrame: %v", err)
		}
		if !c.Send(frame) {
			t.Fatalf("Send(%s) dropped", ev)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, want := range []string{"task.created", "task.updated", "task.deleted"} {
		_, data, err := ws.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		f, err := DecodeFrame(data)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if f.Event != want {
			t.Errorf("event = %q, want %q", f.Event, want)
		}
		if string(f.Data) != `{"id":1}` {
			t.Errorf("data = %s", f.Data)
		}
	}
}

func TestConnection_SendDropsWhenFull(t *testing.T) {
	// The writer is never started, so nothing drains the queue.
	c := New(context.Background(), nil, "conn-x", auth.Identity{UserID: "1"}, Config{SendBuffer: 2}, testLogger())

	if !c.Send([]byte("a")) || !c.Send([]byte("b")) {
		t.Fatal("first two sends should be queued")
	}
	if c.Send([]byte("c")) {
		t.Error("third send should be dropped")
	}
}

func TestConnection_CloseEndsRun(t *testing.T) {
	url, conns := serve(t, Config{})
	ws := dial(t, url)
	c := <-conns

	c.Close("server shutting down")
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed")
	}
	if c.Send([]byte("x")) {
		t.Error("Send after Close should report a drop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := ws.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want StatusGoingAway (err=%v)", got, err)
	}

	// A second Close is a no-op.
	c.Close("again")
}

func TestConnection_ClientDisconnect(t *testing.T) {
	url, conns := serve(t, Config{})
	ws := dial(t, url)
	c := <-conns

	ws.Close(websocket.StatusNormalClosure, "bye")
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not notice client disconnect")
	}
}

func TestEncodeFrame(t *testing.T) {
	b, err := EncodeFrame("presence.list", []string{"7", "8"})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if string(b) != `{"event":"presence.list","data":["7","8"]}` {
		t.Errorf("frame = %s", b)
	}

	b, err = EncodeFrame("task.deleted", nil)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if string(b) != `{"event":"task.deleted","data":null}` {
		t.Errorf("frame = %s", b)
	}
}

func TestDecodeFrame_Invalid(t *testing.T) {
	for _, in := range []string{`nope`, `{"data":1}`} {
		if _, err := DecodeFrame([]byte(in)); err == nil {
			t.Errorf("DecodeFrame(%s) succeeded, want error", in)
		}
	}
}
