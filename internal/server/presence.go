package server

import (
	"context"
	"sync"
	"time"
)

// announceTimeout bounds the relay publish of one presence announcement.
const announceTimeout = 5 * time.Second

type presenceEdge struct {
	userID string
	online bool
}

// announcer publishes presence edges one at a time in the order the hub
// produced them. push is called on the hub goroutine and never blocks, so
// relay I/O stays off the hub loop.
type announcer struct {
	announce func(presenceEdge)

	mu      sync.Mutex
	queue   []presenceEdge
	pending int // queued plus in flight
	idle    []chan struct{}
	wake    chan struct{}
}

func newAnnouncer(announce func(presenceEdge)) *announcer {
	return &announcer{announce: announce, wake: make(chan struct{}, 1)}
}

func (a *announcer) push(userID string, online bool) {
	a.mu.Lock()
	a.queue = append(a.queue, presenceEdge{userID: userID, online: online})
	a.pending++
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// run announces queued edges until stop is closed.
func (a *announcer) run(stop <-chan struct{}) {
	for {
		select {
		case <-a.wake:
		case <-stop:
			return
		}
		for {
			e, ok := a.pop()
			if !ok {
				break
			}
			a.announce(e)
			a.done()
		}
	}
}

func (a *announcer) pop() (presenceEdge, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return presenceEdge{}, false
	}
	e := a.queue[0]
	a.queue = a.queue[1:]
	return e, true
}

func (a *announcer) done() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending--
	if a.pending == 0 {
		for _, ch := range a.idle {
			close(ch)
		}
		a.idle = nil
	}
}

// wait blocks until every edge pushed so far has been announced.
func (a *announcer) wait(ctx context.Context) error {
	a.mu.Lock()
	if a.pending == 0 {
		a.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	a.idle = append(a.idle, ch)
	a.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *NotifyServer) announceEdge(e presenceEdge) {
	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()
	if err := s.Router.AnnouncePresence(ctx, e.userID, e.online); err != nil {
		s.Logger.Warn("announcing presence failed", "user_id", e.userID, "online", e.online, "error", err)
	}
}
