package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alfredjeanlab/tasknotify/internal/relay"
	"github.com/alfredjeanlab/tasknotify/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	id, user string
	full     bool

	mu     sync.Mutex
	frames []transport.Frame
	closed string
}

func newFakeConn(user string, n int) *fakeConn {
	return &fakeConn{id: fmt.Sprintf("conn-%s-%d", user, n), user: user}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.user }

func (c *fakeConn) Send(b []byte) bool {
	if c.full {
		return false
	}
	f, err := transport.DecodeFrame(b)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return true
}

func (c *fakeConn) Close(reason string) {
	c.mu.Lock()
	c.closed = reason
	c.mu.Unlock()
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, f := range c.frames {
		out = append(out, f.Event)
	}
	return out
}

func (c *fakeConn) count(event string) int {
	n := 0
	for _, e := range c.events() {
		if e == event {
			n++
		}
	}
	return n
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New(testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func mustRegister(t *testing.T, h *Hub, c Conn) bool {
	t.Helper()
	first, err := h.Register(c)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return first
}

func TestRegister_SnapshotAndFirstEdge(t *testing.T) {
	h := startHub(t)
	a := newFakeConn("8", 1)
	b := newFakeConn("7", 1)
	b2 := newFakeConn("7", 2)

	if !mustRegister(t, h, a) {
		t.Error("first connection of user 8 should be the online edge")
	}
	if !mustRegister(t, h, b) {
		t.Error("first connection of user 7 should be the online edge")
	}
	if mustRegister(t, h, b2) {
		t.Error("second tab of user 7 must not be an online edge")
	}
	if mustRegister(t, h, b2) {
		t.Error("duplicate registration must not be an online edge")
	}

	b2.mu.Lock()
	frames := b2.frames
	b2.mu.Unlock()
	if len(frames) != 1 || frames[0].Event != "presence.list" {
		t.Fatalf("frames = %v, want one presence.list", frames)
	}
	var users []string
	if err := json.Unmarshal(frames[0].Data, &users); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if len(users) != 2 || users[0] != "7" || users[1] != "8" {
		t.Errorf("snapshot = %v, want [7 8]", users)
	}

	n, _ := h.ConnectionCount()
	if n != 3 {
		t.Errorf("ConnectionCount = %d, want 3", n)
	}
}

func TestUnregister_LastEdge(t *testing.T) {
	h := startHub(t)
	c1, c2 := newFakeConn("7", 1), newFakeConn("7", 2)
	mustRegister(t, h, c1)
	mustRegister(t, h, c2)

	if last, _ := h.Unregister(c1); last {
		t.Error("closing one of two tabs must not be an offline edge")
	}
	if last, _ := h.Unregister(c1); last {
		t.Error("duplicate unregister must be a no-op")
	}
	if last, _ := h.Unregister(c2); !last {
		t.Error("closing the last tab should be the offline edge")
	}
	if last, _ := h.Unregister(newFakeConn("9", 1)); last {
		t.Error("unregistering an unknown connection must be a no-op")
	}

	users, _ := h.OnlineUsers()
	if len(users) != 0 {
		t.Errorf("OnlineUsers = %v, want none", users)
	}
}

func TestOnPresence_EdgesInOrder(t *testing.T) {
	h := startHub(t)
	var edges []string // appended on the hub goroutine only
	if err := h.OnPresence(func(user string, online bool) {
		state := "offline"
		if online {
			state = "online"
		}
		edges = append(edges, user+" "+state)
	}); err != nil {
		t.Fatalf("OnPresence: %v", err)
	}

	tab1, tab2, tab3 := newFakeConn("7", 1), newFakeConn("7", 2), newFakeConn("7", 3)
	other := newFakeConn("9", 1)
	mustRegister(t, h, other)
	mustRegister(t, h, tab1)
	mustRegister(t, h, tab2)
	h.Unregister(tab1)
	h.Unregister(tab2)
	mustRegister(t, h, tab3)
	h.Unregister(other)

	var got []string
	if err := h.do(func() { got = append(got, edges...) }); err != nil {
		t.Fatal(err)
	}
	want := []string{"9 online", "7 online", "7 offline", "7 online", "9 offline"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("edges = %v, want %v", got, want)
	}
}

func TestDeliver_ExcludesRoom(t *testing.T) {
	h := startHub(t)
	u7a, u7b := newFakeConn("7", 1), newFakeConn("7", 2)
	u8, u9 := newFakeConn("8", 1), newFakeConn("9", 1)
	for _, c := range []*fakeConn{u7a, u7b, u8, u9} {
		mustRegister(t, h, c)
	}

	msg, err := relay.NewMessage("task.updated", map[string]int{"id": 1}, relay.UserRoom("7"))
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	h.Deliver(msg)
	if err := h.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for _, c := range []*fakeConn{u7a, u7b} {
		if n := c.count("task.updated"); n != 0 {
			t.Errorf("%s received %d copies, want 0", c.id, n)
		}
	}
	for _, c := range []*fakeConn{u8, u9} {
		if n := c.count("task.updated"); n != 1 {
			t.Errorf("%s received %d copies, want 1", c.id, n)
		}
	}
}

func TestDeliver_NoExclusionsAndRoomTarget(t *testing.T) {
	h := startHub(t)
	u7, u8 := newFakeConn("7", 1), newFakeConn("8", 1)
	mustRegister(t, h, u7)
	mustRegister(t, h, u8)

	all, _ := relay.NewMessage("task.created", nil)
	h.Deliver(all)
	h.Deliver(relay.Message{Target: relay.TargetRoom, Rooms: []string{relay.UserRoom("8")}, Type: "file.uploaded"})
	_ = h.Flush()

	if u7.count("task.created") != 1 || u8.count("task.created") != 1 {
		t.Error("message without exclusions should reach every user once")
	}
	if u7.count("file.uploaded") != 0 || u8.count("file.uploaded") != 1 {
		t.Error("room-targeted message should reach only that room")
	}
}

func TestDeliver_Order(t *testing.T) {
	h := startHub(t)
	c := newFakeConn("8", 1)
	mustRegister(t, h, c)

	want := []string{"task.created", "task.updated", "file.uploaded", "task.deleted"}
	for _, ev := range want {
		msg, _ := relay.NewMessage(ev, nil)
		h.Deliver(msg)
	}
	_ = h.Flush()

	got := c.events()[1:] // skip presence.list
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestDeliver_SlowConnectionDoesNotBlockOthers(t *testing.T) {
	h := startHub(t)
	slow, ok := newFakeConn("8", 1), newFakeConn("9", 1)
	mustRegister(t, h, slow)
	mustRegister(t, h, ok)
	slow.full = true

	msg, _ := relay.NewMessage("task.created", nil)
	h.Deliver(msg)
	_ = h.Flush()

	if ok.count("task.created") != 1 {
		t.Error("healthy connection missed the message")
	}
}

func TestCloseAll(t *testing.T) {
	h := startHub(t)
	a, b := newFakeConn("7", 1), newFakeConn("8", 1)
	mustRegister(t, h, a)
	mustRegister(t, h, b)

	if err := h.CloseAll("shutdown"); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if a.closed != "shutdown" || b.closed != "shutdown" {
		t.Errorf("connections not closed: %q %q", a.closed, b.closed)
	}
}

func TestStoppedHub(t *testing.T) {
	h := New(testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { h.Run(ctx); close(done) }()
	cancel()
	<-done

	select {
	case <-h.Stopped():
	default:
		t.Error("Stopped not closed after Run returned")
	}
	if _, err := h.Register(newFakeConn("7", 1)); err != ErrStopped {
		t.Errorf("Register after stop = %v, want ErrStopped", err)
	}
	// Deliver must not block once the hub is gone.
	msg, _ := relay.NewMessage("task.created", nil)
	h.Deliver(msg)
}

func TestRoster(t *testing.T) {
	h := startHub(t)
	mustRegister(t, h, newFakeConn("7", 1))
	mustRegister(t, h, newFakeConn("7", 2))

	roster, err := h.Roster()
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	if len(roster) != 1 || roster[0].UserID != "7" || roster[0].Connections != 2 {
		t.Errorf("roster = %+v", roster)
	}
}
