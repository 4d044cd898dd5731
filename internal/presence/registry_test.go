package presence

import (
	"fmt"
	"math/rand"
	"testing"
	"time"
)

func TestRegister_FirstConnectionIsOnlineEdge(t *testing.T) {
	r := New()

	if !r.Register("7", "c1") {
		t.Fatal("expected first connection to report online")
	}
	if r.Register("7", "c2") {
		t.Fatal("expected second connection not to report online")
	}
	if got := r.ConnectionCount("7"); got != 2 {
		t.Errorf("ConnectionCount = %d, want 2", got)
	}
}

func TestRegister_DuplicateConnectionIsNoop(t *testing.T) {
	r := New()

	r.Register("7", "c1")
	if r.Register("7", "c1") {
		t.Fatal("re-registering the same connection must not report online")
	}
	if got := r.ConnectionCount("7"); got != 1 {
		t.Errorf("ConnectionCount = %d, want 1", got)
	}
}

func TestUnregister_LastConnectionIsOfflineEdge(t *testing.T) {
	r := New()
	r.Register("7", "c1")
	r.Register("7", "c2")

	if r.Unregister("7", "c1") {
		t.Fatal("closing c1 while c2 is open must not report offline")
	}
	if !r.IsOnline("7") {
		t.Fatal("expected user to remain online")
	}
	if !r.Unregister("7", "c2") {
		t.Fatal("closing the last connection must report offline")
	}
	if r.IsOnline("7") {
		t.Fatal("expected user to be removed once offline")
	}
}

func TestUnregister_UnknownIsNoop(t *testing.T) {
	for _, tc := range []struct {
		name   string
		setup  func(*Registry)
		user   string
		connID string
	}{
		{"UnknownUser", func(*Registry) {}, "9", "c1"},
		{"UnknownConnection", func(r *Registry) { r.Register("9", "c1") }, "9", "c-other"},
		{"DuplicateDisconnect", func(r *Registry) {
			r.Register("9", "c1")
			r.Register("9", "c2")
			r.Unregister("9", "c1")
		}, "9", "c1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			tc.setup(r)
			if r.Unregister(tc.user, tc.connID) {
				t.Fatal("expected no offline transition")
			}
		})
	}
}

func TestRegistry_NoEmptyEntries(t *testing.T) {
	r := New()
	r.Register("1", "a")
	r.Unregister("1", "a")
	r.Unregister("1", "a")

	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
	if users := r.OnlineUsers(); len(users) != 0 {
		t.Fatalf("OnlineUsers = %v, want empty", users)
	}
}

// Any interleaving of N connects and N disconnects for one user yields exactly
// one online edge and one offline edge.
func TestRegistry_EdgesUnderInterleaving(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(6)
		type op struct {
			connect bool
			id      string
		}

		// Build a random valid sequence: a disconnect for c_i only after its connect.
		pending := make([]string, 0, n)
		open := make([]string, 0, n)
		for i := 0; i < n; i++ {
			pending = append(pending, fmt.Sprintf("c%d", i))
		}
		var ops []op
		for len(pending) > 0 || len(open) > 0 {
			if len(pending) > 0 && (len(open) == 0 || rng.Intn(2) == 0) {
				i := rng.Intn(len(pending))
				ops = append(ops, op{true, pending[i]})
				open = append(open, pending[i])
				pending = append(pending[:i], pending[i+1:]...)
				continue
			}
			i := rng.Intn(len(open))
			ops = append(ops, op{false, open[i]})
			open = append(open[:i], open[i+1:]...)
		}

		r := New()
		online, offline := 0, 0
		for _, o := range ops {
			if o.connect {
				if r.Register("u", o.id) {
					online++
				}
			} else if r.Unregister("u", o.id) {
				offline++
			}
		}

		// A user can legitimately go offline and come back within one
		// sequence; edges must alternate and balance.
		if online != offline || online < 1 {
			t.Fatalf("trial %d: online=%d offline=%d for ops %v", trial, online, offline, ops)
		}
		if r.IsOnline("u") {
			t.Fatalf("trial %d: user still online after all disconnects", trial)
		}
	}
}

// When all N connections open before any closes, the edges fire exactly once
// each regardless of the order connections are closed.
func TestRegistry_OneEdgeEachForOverlappingConnections(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n = 8

	for trial := 0; trial < 50; trial++ {
		r := New()
		online, offline := 0, 0
		ids := rng.Perm(n)
		for _, i := range ids {
			if r.Register("u", fmt.Sprintf("c%d", i)) {
				online++
			}
		}
		for _, i := range rng.Perm(n) {
			if r.Unregister("u", fmt.Sprintf("c%d", i)) {
				offline++
			}
		}
		if online != 1 || offline != 1 {
			t.Fatalf("trial %d: online=%d offline=%d, want 1 and 1", trial, online, offline)
		}
	}
}

func TestOnlineUsers_Sorted(t *testing.T) {
	r := New()
	r.Register("9", "a")
	r.Register("10", "b")
	r.Register("8", "c")
	r.Register("8", "d")

	got := r.OnlineUsers()
	want := []string{"10", "8", "9"}
	if len(got) != len(want) {
		t.Fatalf("OnlineUsers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("OnlineUsers = %v, want %v", got, want)
		}
	}
}

func TestRoster_MostRecentFirst(t *testing.T) {
	r := New()
	r.Register("first", "a")
	time.Sleep(5 * time.Millisecond)
	r.Register("second", "b")
	r.Register("second", "c")

	roster := r.Roster()
	if len(roster) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(roster))
	}
	if roster[0].UserID != "second" || roster[0].Connections != 2 {
		t.Errorf("roster[0] = %+v, want second with 2 connections", roster[0])
	}
	if roster[1].UserID != "first" {
		t.Errorf("roster[1] = %+v, want first", roster[1])
	}
}
