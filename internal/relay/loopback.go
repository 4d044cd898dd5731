package relay

import (
	"context"
	"sync"
)

// Loopback is the Backend for a single-instance deployment: every publish
// is handed straight back to this instance.
type Loopback struct {
	mu      sync.RWMutex
	handler func([]byte)
}

// NewLoopback creates a Loopback backend.
func NewLoopback() *Loopback { return &Loopback{} }

func (b *Loopback) Name() string { return "local" }

func (b *Loopback) Connect(_ context.Context, h Handlers) error {
	b.mu.Lock()
	b.handler = h.Message
	b.mu.Unlock()
	h.State(StateReady)
	return nil
}

func (b *Loopback) Publish(_ context.Context, data []byte) error {
	b.mu.RLock()
	handler := b.handler
	b.mu.RUnlock()
	if handler == nil {
		return ErrNotReady
	}
	handler(data)
	return nil
}

func (b *Loopback) Close() error {
	b.mu.Lock()
	b.handler = nil
	b.mu.Unlock()
	return nil
}
