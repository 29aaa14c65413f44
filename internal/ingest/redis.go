package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultStreamKey    = "voxlink:ingest"
	defaultGroup        = "voxlink-pipeline"
	defaultBlockTimeout = 2 * time.Second
	defaultBatchCount   = 32

	// defaultClaimInterval is how often the read loop sweeps the group's
	// pending entries; defaultClaimMinIdle is how long a delivery must sit
	// unacknowledged before another consumer may claim it.
	defaultClaimInterval = 30 * time.Second
	defaultClaimMinIdle  = 30 * time.Second

	// maxStreamLen caps the stream so unconsumed audio cannot grow without
	// bound. Trimming is approximate (XADD MAXLEN ~).
	maxStreamLen = 100_000
)

// Redis is a [Stream] over Redis Streams with a consumer group. Records are
// delivered at least once; on relay restart the group resumes from its last
// acknowledged position, and a periodic XAUTOCLAIM sweep adopts entries a
// crashed consumer took but never acknowledged.
type Redis struct {
	client        *redis.Client
	streamKey     string
	group         string
	consumer      string
	blockTimeout  time.Duration
	claimInterval time.Duration
	claimMinIdle  time.Duration

	mu      sync.Mutex
	ch      chan Record
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
}

var _ Stream = (*Redis)(nil)

// RedisOption configures a [Redis] stream.
type RedisOption func(*Redis)

// WithStreamKey overrides the stream key. Default "voxlink:ingest".
func WithStreamKey(key string) RedisOption {
	return func(r *Redis) {
		if key != "" {
			r.streamKey = key
		}
	}
}

// WithGroup overrides the consumer group name.
func WithGroup(group string) RedisOption {
	return func(r *Redis) {
		if group != "" {
			r.group = group
		}
	}
}

// WithBlockTimeout sets how long each XREADGROUP call blocks.
func WithBlockTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.blockTimeout = d
		}
	}
}

// WithClaimInterval sets how often the pending-entry sweep runs.
func WithClaimInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.claimInterval = d
		}
	}
}

// WithClaimMinIdle sets how long a pending delivery must be idle before this
// consumer claims it. Must exceed the worst-case processing time of one
// record, or two consumers will process it concurrently.
func WithClaimMinIdle(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.claimMinIdle = d
		}
	}
}

// NewRedis creates a Redis Streams ingestion stream on an existing client and
// ensures the consumer group exists. The caller owns the client's lifecycle.
func NewRedis(ctx context.Context, client *redis.Client, opts ...RedisOption) (*Redis, error) {
	r := &Redis{
		client:        client,
		streamKey:     defaultStreamKey,
		group:         defaultGroup,
		consumer:      "relay-" + uuid.NewString()[:8],
		blockTimeout:  defaultBlockTimeout,
		claimInterval: defaultClaimInterval,
		claimMinIdle:  defaultClaimMinIdle,
		ch:            make(chan Record, consumeBuffer),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}

	err := client.XGroupCreateMkStream(ctx, r.streamKey, r.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("ingest: create consumer group: %w", err)
	}
	return r, nil
}

// Append adds the record via XADD with approximate trimming.
func (r *Redis) Append(ctx context.Context, rec Record) (string, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamKey,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{
			"session_id":  rec.SessionID,
			"speaker_id":  rec.SpeakerID,
			"source_lang": rec.SourceLang,
			"data":        rec.Data,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("ingest: xadd: %w", err)
	}
	return id, nil
}

// Consume starts the read loop on first call and returns the record channel.
func (r *Redis) Consume(ctx context.Context) (<-chan Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if !r.started {
		r.started = true
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		r.cancel = cancel
		go r.readLoop(loopCtx)
	}
	return r.ch, nil
}

// Ack acknowledges a record by its stream id.
func (r *Redis) Ack(ctx context.Context, recordID string) error {
	if err := r.client.XAck(ctx, r.streamKey, r.group, recordID).Err(); err != nil {
		return fmt.Errorf("ingest: xack %s: %w", recordID, err)
	}
	return nil
}

// Close stops the read loop and closes the consumer channel.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel := r.cancel
	started := r.started
	r.mu.Unlock()

	if started {
		cancel()
		<-r.done
	} else {
		close(r.ch)
	}
	return nil
}

func (r *Redis) readLoop(ctx context.Context) {
	defer close(r.done)
	defer close(r.ch)

	// XREADGROUP blocks at most blockTimeout, so the sweep deadline is
	// checked at least that often.
	nextClaim := time.Now().Add(r.claimInterval)

	for {
		if ctx.Err() != nil {
			return
		}

		if time.Now().After(nextClaim) {
			r.claimPending(ctx)
			nextClaim = time.Now().Add(r.claimInterval)
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{r.streamKey, ">"},
			Count:    defaultBatchCount,
			Block:    r.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			slog.Warn("ingest: read group failed, backing off", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				rec := recordFromMessage(msg)
				select {
				case r.ch <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// claimPending adopts entries another consumer read but never acknowledged,
// so audio taken by a crashed relay is still processed. Claimed records flow
// through the same channel as fresh reads; the consumer's record-id dedup
// absorbs the occasional double delivery.
func (r *Redis) claimPending(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.streamKey,
			Group:    r.group,
			Consumer: r.consumer,
			MinIdle:  r.claimMinIdle,
			Start:    start,
			Count:    defaultBatchCount,
		}).Result()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Warn("ingest: autoclaim failed", "error", err)
			}
			return
		}
		if len(msgs) > 0 {
			slog.Info("ingest: claimed pending records",
				"count", len(msgs), "consumer", r.consumer)
		}
		for _, msg := range msgs {
			select {
			case r.ch <- recordFromMessage(msg):
			case <-ctx.Done():
				return
			}
		}
		// A "0-0" cursor means the scan wrapped; the pending list is done.
		if next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

func recordFromMessage(msg redis.XMessage) Record {
	rec := Record{ID: msg.ID}
	if v, ok := msg.Values["session_id"].(string); ok {
		rec.SessionID = v
	}
	if v, ok := msg.Values["speaker_id"].(string); ok {
		rec.SpeakerID = v
	}
	if v, ok := msg.Values["source_lang"].(string); ok {
		rec.SourceLang = v
	}
	if v, ok := msg.Values["data"].(string); ok {
		rec.Data = []byte(v)
	}
	return rec
}
