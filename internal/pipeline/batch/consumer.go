package batch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxlink-ai/voxlink/internal/dedup"
	"github.com/voxlink-ai/voxlink/internal/ingest"
	"github.com/voxlink-ai/voxlink/internal/observe"
	"github.com/voxlink-ai/voxlink/internal/pipeline/chunker"
)

// pollInterval drives the silence-timeout sweep across idle chunkers.
const pollInterval = 500 * time.Millisecond

// Consumer drains the ingestion stream into per-speaker chunkers and hands
// emitted segments to the [Worker]. Redelivered records are filtered by id
// but still acknowledged so the stream can retire them.
type Consumer struct {
	stream   ingest.Stream
	worker   *Worker
	vad      chunker.SpeechDetector
	chunkCfg chunker.Config

	seen *dedup.Deduper

	mu       sync.Mutex
	chunkers map[string]*chunker.Chunker

	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once
}

// NewConsumer creates a Consumer. chunkCfg zero values take the chunker
// defaults.
func NewConsumer(stream ingest.Stream, worker *Worker, vad chunker.SpeechDetector, chunkCfg chunker.Config) *Consumer {
	return &Consumer{
		stream:   stream,
		worker:   worker,
		vad:      vad,
		chunkCfg: chunkCfg,
		// Record ids are opaque; only exact repeats count as redelivery.
		seen:     dedup.New(dedup.WithSimilarityThreshold(1.0)),
		chunkers: make(map[string]*chunker.Chunker),
		done:     make(chan struct{}),
	}
}

// Run consumes until ctx is cancelled or the stream closes. Blocks; callers
// run it on its own goroutine.
func (c *Consumer) Run(ctx context.Context) error {
	records, err := c.stream.Consume(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Shutdown()
			return ctx.Err()
		case <-ticker.C:
			c.sweepSilence()
		case rec, ok := <-records:
			if !ok {
				c.Shutdown()
				return nil
			}
			c.handle(ctx, rec)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, rec ingest.Record) {
	// Redelivered records are skipped but still acknowledged.
	if rec.ID != "" && c.seen.Seen(rec.ID) {
		c.ack(ctx, rec.ID)
		return
	}

	c.chunkerFor(rec).Feed(rec.Data)
	c.ack(ctx, rec.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := c.stream.Ack(ctx, id); err != nil {
		slog.Warn("batch: ack failed", "record", id, "error", err)
	}
}

func (c *Consumer) chunkerFor(rec ingest.Record) *chunker.Chunker {
	key := rec.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chunkers[key]
	if !ok {
		ch = chunker.New(rec.SessionID, rec.SpeakerID, rec.SourceLang, c.vad,
			c.emitAsync, chunker.WithConfig(c.chunkCfg))
		c.chunkers[key] = ch
	}
	return ch
}

// emitAsync hands a segment to the worker without blocking the consume loop
// on vendor latency.
func (c *Consumer) emitAsync(seg chunker.Segment) {
	observe.DefaultMetrics().RecordSegment(context.Background(), string(seg.Reason))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.worker.ProcessSegment(ctx, seg)
	}()
}

func (c *Consumer) sweepSilence() {
	c.mu.Lock()
	chunkers := make([]*chunker.Chunker, 0, len(c.chunkers))
	for _, ch := range c.chunkers {
		chunkers = append(chunkers, ch)
	}
	c.mu.Unlock()

	for _, ch := range chunkers {
		ch.CheckSilenceTimeout()
	}
}

// EndStream flushes and retires the speaker's chunker and merge state.
func (c *Consumer) EndStream(sessionID, speakerID string) {
	key := sessionID + ":" + speakerID
	c.mu.Lock()
	ch := c.chunkers[key]
	delete(c.chunkers, key)
	c.mu.Unlock()

	if ch != nil {
		ch.Shutdown()
	}
	c.worker.EndStream(sessionID, speakerID)
}

// Shutdown flushes every chunker and waits for in-flight segments.
func (c *Consumer) Shutdown() {
	c.once.Do(func() {
		c.mu.Lock()
		chunkers := c.chunkers
		c.chunkers = map[string]*chunker.Chunker{}
		c.mu.Unlock()

		for _, ch := range chunkers {
			ch.Shutdown()
		}
		c.wg.Wait()
		close(c.done)
	})
}
