package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is a [Bus] over Redis pub/sub. Each session topic maps to one Redis
// channel, so multiple relay instances fan events out to each other's
// connections.
type Redis struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

var _ Bus = (*Redis)(nil)

// RedisOption configures a [Redis] bus.
type RedisOption func(*Redis)

// WithPrefix sets the Redis channel prefix. Default is "voxlink".
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedis creates a Redis-backed bus on an existing client. The caller owns
// the client's lifecycle.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "voxlink",
		subs:   make(map[*redisSub]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis) channel(sessionID string) string {
	return fmt.Sprintf("%s:bus:%s", r.prefix, sessionID)
}

// Publish marshals ev as JSON onto the session channel.
func (r *Redis) Publish(ctx context.Context, sessionID string, ev Event) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("bus: redis publish: %w", err)
	}
	return nil
}

// Subscribe attaches to the session channel. The pump goroutine decodes
// messages until the subscription or the bus is closed.
func (r *Redis) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	pubsub := r.client.Subscribe(ctx, r.channel(sessionID))
	sub := &redisSub{
		bus:    r,
		pubsub: pubsub,
		ch:     make(chan Event, subscriberBuffer),
	}
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	go sub.pump()
	return sub, nil
}

// Close closes all subscriptions. The Redis client itself is left to its
// owner.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redisSub, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = nil
	r.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

func (r *Redis) remove(sub *redisSub) {
	r.mu.Lock()
	if !r.closed {
		delete(r.subs, sub)
	}
	r.mu.Unlock()
}

type redisSub struct {
	bus    *Redis
	pubsub *redis.PubSub
	ch     chan Event
	once   sync.Once
}

func (s *redisSub) Events() <-chan Event { return s.ch }

func (s *redisSub) Close() error {
	s.bus.remove(s)
	s.stop()
	return nil
}

func (s *redisSub) stop() {
	s.once.Do(func() {
		// Closing the PubSub ends the pump, which closes s.ch.
		_ = s.pubsub.Close()
	})
}

func (s *redisSub) pump() {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			slog.Warn("bus: dropping malformed event", "error", err)
			continue
		}
		select {
		case s.ch <- ev:
		default:
			// Slow subscriber; drop.
		}
	}
}
