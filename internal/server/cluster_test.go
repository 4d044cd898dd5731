package server

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/alfredjeanlab/tasknotify/internal/events"
	"github.com/alfredjeanlab/tasknotify/internal/relay"
)

func startNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv
}

func TestCrossInstanceDelivery(t *testing.T) {
	ns := startNATS(t)
	a := newTestStack(t, stackConfig{backend: relay.NewNATS(ns.ClientURL(), "test.events", 50*time.Millisecond)})
	b := newTestStack(t, stackConfig{backend: relay.NewNATS(ns.ClientURL(), "test.events", 50*time.Millisecond)})

	u8 := b.dial(t, "8")
	u7 := a.dial(t, "7")
	u8.expect(t, "user.online")

	a.mustEmit(t, events.TaskCreated, events.Task{ID: 3, Title: "remote"}, "7")
	u8.expect(t, "task.created")

	// Emitted on the other instance without an actor, it reaches both.
	b.mustEmit(t, events.TaskDeleted, events.Task{ID: 3}, "")
	u7.expect(t, "task.deleted")
	u8.expect(t, "task.deleted")

	u7.close()
	u7.expectClose(t)
	u8.expect(t, "user.offline")
}
