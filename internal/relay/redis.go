package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Backend on a Redis pub/sub channel.
//
// go-redis re-establishes the subscription on its own after a connection
// loss; the backend probes the server every interval to drive the relay
// state, since the pub/sub client reports no connection events.
type Redis struct {
	url      string
	channel  string
	interval time.Duration

	mu     sync.Mutex
	client *redis.Client
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis creates a Redis backend for channel.
func NewRedis(url, channel string, probeInterval time.Duration) *Redis {
	if probeInterval <= 0 {
		probeInterval = time.Second
	}
	return &Redis{url: url, channel: channel, interval: probeInterval}
}

func (b *Redis) Name() string { return "redis" }

func (b *Redis) Connect(ctx context.Context, h Handlers) error {
	opts, err := redis.ParseURL(b.url)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("connecting to redis: %w", err)
	}

	ps := client.Subscribe(ctx, b.channel)
	// Receive blocks until the server confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		_ = client.Close()
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.client, b.pubsub, b.cancel = client, ps, cancel
	b.mu.Unlock()

	ch := ps.Channel(redis.WithChannelSize(256))
	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			h.Message([]byte(msg.Payload))
		}
	}()
	go func() {
		defer b.wg.Done()
		b.monitor(runCtx, client, ps, h)
	}()

	h.State(StateReady)
	return nil
}

func (b *Redis) monitor(ctx context.Context, client *redis.Client, ps *redis.PubSub, h Handlers) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := b.probe(ctx, client, ps)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil && healthy:
			healthy = false
			h.State(StateDegraded)
			h.State(StateReconnecting)
		case err == nil && !healthy:
			healthy = true
			h.State(StateReady)
		}
	}
}

// probe checks both the command connection and the subscription connection.
func (b *Redis) probe(ctx context.Context, client *redis.Client, ps *redis.PubSub) error {
	ctx, cancel := context.WithTimeout(ctx, b.interval)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}
	return ps.Ping(ctx)
}

func (b *Redis) Publish(ctx context.Context, data []byte) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return ErrNotReady
	}
	return publishError(client.Publish(ctx, b.channel, data).Err())
}

// publishError marks timeouts as ErrUnconfirmed: the command may have been
// written and accepted before the reply was lost.
func publishError(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %w", ErrUnconfirmed, err)
	}
	return err
}

func (b *Redis) Close() error {
	b.mu.Lock()
	client, ps, cancel := b.client, b.pubsub, b.cancel
	b.client, b.pubsub, b.cancel = nil, nil, nil
	b.mu.Unlock()
	if client == nil {
		return nil
	}

	cancel()
	err := errors.Join(ps.Close(), client.Close())
	b.wg.Wait()
	return err
}
