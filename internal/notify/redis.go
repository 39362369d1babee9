package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisRelay shares hub events between instances over a Redis channel.
// Events published by this node are not delivered back to it.
type RedisRelay struct {
	client  *redis.Client
	channel string
	node    string

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisRelay(client *redis.Client, channel, node string) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, node: node}
}

func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	ev.Node = r.node
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

// Start subscribes to the channel and delivers remote events to hub until
// Close is called. It returns once the subscription is live.
func (r *RedisRelay) Start(ctx context.Context, hub *Hub) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}

	r.mu.Lock()
	r.pubsub = pubsub
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var ev Event
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
				log.WithError(err).Warn("dropping malformed board event")
				continue
			}
			if ev.Node == r.node {
				continue
			}
			hub.Deliver(ev)
		}
	}()
	return nil
}

// Close stops the subscription started by Start.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
