// Package batch is the segment recognition path: chunker segments are
// transcribed as whole utterances, short fragments are merged back together,
// and the result fans out through the shared translation processor. It backs
// up the streaming path for speakers without a live recognition session and
// catches utterances the streaming vendor missed.
package batch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxlink-ai/voxlink/internal/observe"
	"github.com/voxlink-ai/voxlink/internal/pipeline/chunker"
	"github.com/voxlink-ai/voxlink/internal/pipeline/translate"
	"github.com/voxlink-ai/voxlink/pkg/langtag"
	"github.com/voxlink-ai/voxlink/pkg/speech"
)

// Config holds the merge thresholds. Zero values take defaults.
type Config struct {
	// MergeWindow is the maximum gap between two fragments for a merge.
	MergeWindow time.Duration

	// MergeMaxWords is the word count at or under which a fragment counts as
	// short.
	MergeMaxWords int

	// MaxBufferSegments bounds the per-speaker tuple buffer.
	MaxBufferSegments int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MergeWindow:       time.Second,
		MergeMaxWords:     5,
		MaxBufferSegments: 20,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MergeWindow <= 0 {
		c.MergeWindow = d.MergeWindow
	}
	if c.MergeMaxWords <= 0 {
		c.MergeMaxWords = d.MergeMaxWords
	}
	if c.MaxBufferSegments <= 0 {
		c.MaxBufferSegments = d.MaxBufferSegments
	}
}

// Option is a functional option for a [Worker].
type Option func(*Worker)

// WithConfig overrides the default thresholds.
func WithConfig(cfg Config) Option {
	return func(w *Worker) {
		cfg.applyDefaults()
		w.cfg = cfg
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker transcribes segments and fans them out. Safe for concurrent use;
// segments for one speaker are serialized by the speaker's buffer lock.
type Worker struct {
	stt  speech.Transcriber
	proc *translate.Processor
	cfg  Config
	now  func() time.Time

	mu      sync.Mutex
	buffers map[string]*segmentBuffer
}

// NewWorker creates a Worker over the batch transcriber and the shared
// translation processor.
func NewWorker(stt speech.Transcriber, proc *translate.Processor, opts ...Option) *Worker {
	w := &Worker{
		stt:     stt,
		proc:    proc,
		cfg:     DefaultConfig(),
		now:     time.Now,
		buffers: make(map[string]*segmentBuffer),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// ProcessSegment transcribes one segment, applies the merge rules, and hands
// the result to the translation fan-out. Blocks for the transcription call;
// the fan-out itself is queued on the speaker's serial queue.
func (w *Worker) ProcessSegment(ctx context.Context, seg chunker.Segment) {
	met := observe.DefaultMetrics()
	sttStart := time.Now()
	text, err := w.stt.Transcribe(ctx, seg.Audio, langtag.Full(seg.SourceLang))
	met.RecordVendorCall(ctx, met.STTDuration, "speech", "stt", sttStart, err)
	if err != nil {
		slog.Warn("batch: transcription failed",
			"session", seg.SessionID, "speaker", seg.SpeakerID,
			"reason", seg.Reason, "error", err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	buf := w.buffer(seg.SessionID, seg.SpeakerID)

	buf.mu.Lock()
	now := w.now()
	text = buf.absorb(text, now, w.cfg, false)
	buf.push(tuple{text: text, at: now}, w.cfg.MaxBufferSegments)
	buf.mu.Unlock()

	w.proc.Submit(translate.Final{
		SessionID:  seg.SessionID,
		SpeakerID:  seg.SpeakerID,
		Text:       text,
		SourceLang: seg.SourceLang,
	})

	// Finalize pass: two trailing fragments that still read as one clause
	// collapse into a single tuple, with comma counting as a terminator.
	buf.mu.Lock()
	merged, ok := buf.mergeTail(w.cfg, true)
	buf.mu.Unlock()
	if ok {
		w.proc.Submit(translate.Final{
			SessionID:  seg.SessionID,
			SpeakerID:  seg.SpeakerID,
			Text:       merged,
			SourceLang: seg.SourceLang,
		})
	}
}

// EndStream discards the speaker's merge buffer and translation context.
func (w *Worker) EndStream(sessionID, speakerID string) {
	w.mu.Lock()
	delete(w.buffers, sessionID+":"+speakerID)
	w.mu.Unlock()
	w.proc.EndStream(sessionID, speakerID)
}

func (w *Worker) buffer(sessionID, speakerID string) *segmentBuffer {
	key := sessionID + ":" + speakerID
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.buffers[key]
	if !ok {
		b = &segmentBuffer{}
		w.buffers[key] = b
	}
	return b
}

// ─── segment buffer ─────────────────────────────────────────────────────────

type tuple struct {
	text string
	at   time.Time
}

// segmentBuffer keeps the speaker's recent transcripts for the merge rules.
type segmentBuffer struct {
	mu     sync.Mutex
	tuples []tuple
}

// absorb merges text with the newest buffered tuple when both are short
// fragments of one clause. The consumed tuple is removed; the merged text is
// returned for the caller to push and fan out.
func (b *segmentBuffer) absorb(text string, now time.Time, cfg Config, commaTerminates bool) string {
	n := len(b.tuples)
	if n == 0 {
		return text
	}
	prev := b.tuples[n-1]
	if !mergeable(prev.text, text, now.Sub(prev.at), cfg, commaTerminates) {
		return text
	}
	b.tuples = b.tuples[:n-1]
	return prev.text + " " + text
}

// mergeTail collapses the two newest tuples when the merge predicate holds.
func (b *segmentBuffer) mergeTail(cfg Config, commaTerminates bool) (string, bool) {
	n := len(b.tuples)
	if n < 2 {
		return "", false
	}
	earlier, later := b.tuples[n-2], b.tuples[n-1]
	if !mergeable(earlier.text, later.text, later.at.Sub(earlier.at), cfg, commaTerminates) {
		return "", false
	}
	merged := tuple{text: earlier.text + " " + later.text, at: later.at}
	b.tuples = append(b.tuples[:n-2], merged)
	return merged.text, true
}

func (b *segmentBuffer) push(t tuple, max int) {
	b.tuples = append(b.tuples, t)
	if len(b.tuples) > max {
		b.tuples = b.tuples[1:]
	}
}

// mergeable is the smart-merge predicate: both fragments short, the gap
// inside the window, and the earlier fragment not already a finished clause.
func mergeable(earlier, later string, gap time.Duration, cfg Config, commaTerminates bool) bool {
	if gap < 0 || gap >= cfg.MergeWindow {
		return false
	}
	if len(strings.Fields(earlier)) > cfg.MergeMaxWords ||
		len(strings.Fields(later)) > cfg.MergeMaxWords {
		return false
	}
	terminators := ".!?"
	if commaTerminates {
		terminators = ".!?,"
	}
	trimmed := strings.TrimSpace(earlier)
	if trimmed == "" {
		return false
	}
	return !strings.ContainsRune(terminators, rune(trimmed[len(trimmed)-1]))
}
