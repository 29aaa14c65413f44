// Package chunker turns one speaker's audio frame sequence into discrete
// segments for the batch recognition path. Segments cut on natural pauses
// after speech, on an absolute accumulation budget, on prolonged silence
// between frames, and on end-of-stream flush.
package chunker

import (
	"sync"
	"time"

	"github.com/voxlink-ai/voxlink/pkg/audio"
)

// Reason records why a segment was emitted.
type Reason string

const (
	ReasonPause           Reason = "pause"
	ReasonMaxAccumulation Reason = "max_accumulation"
	ReasonSilence         Reason = "silence"
	ReasonEndStream       Reason = "end_stream"
)

// Segment is one cut of accumulated speaker audio.
type Segment struct {
	SessionID  string
	SpeakerID  string
	SourceLang string
	Audio      []byte
	Reason     Reason
	Duration   time.Duration
}

// SpeechDetector is the voice-activity dependency. Production wires the
// spectral detector from the vad package.
type SpeechDetector interface {
	IsSpeech(key string, chunk []byte) bool
	Reset(key string)
}

// Config holds the segmentation thresholds. Zero values take defaults.
type Config struct {
	// SilenceThreshold is the sustained-silence duration after speech that
	// cuts a segment.
	SilenceThreshold time.Duration

	// MinAudioLength is the shortest segment worth transcribing.
	MinAudioLength time.Duration

	// MaxAccumulation is the absolute budget before a forced cut.
	MaxAccumulation time.Duration

	// SampleRate of the incoming PCM16 audio in Hz.
	SampleRate int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold: 600 * time.Millisecond,
		MinAudioLength:   500 * time.Millisecond,
		MaxAccumulation:  5 * time.Second,
		SampleRate:       audio.SampleRate,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.MinAudioLength <= 0 {
		c.MinAudioLength = d.MinAudioLength
	}
	if c.MaxAccumulation <= 0 {
		c.MaxAccumulation = d.MaxAccumulation
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
}

// Option is a functional option for a [Chunker].
type Option func(*Chunker)

// WithConfig overrides the default thresholds.
func WithConfig(cfg Config) Option {
	return func(c *Chunker) {
		cfg.applyDefaults()
		c.cfg = cfg
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Chunker) {
		if now != nil {
			c.now = now
		}
	}
}

// Chunker accumulates one speaker's audio and emits segments through the
// injected callback. The callback runs on the caller's goroutine and must
// return promptly. Safe for concurrent use, though frames for one speaker
// normally arrive from a single goroutine.
type Chunker struct {
	sessionID  string
	speakerID  string
	sourceLang string
	vad        SpeechDetector
	emit       func(Segment)

	cfg Config
	now func() time.Time

	mu        sync.Mutex
	buf       []byte
	lastVoice time.Time
	shutdown  bool
}

// New creates a Chunker for one speaker. emit receives every segment.
func New(sessionID, speakerID, sourceLang string, detector SpeechDetector, emit func(Segment), opts ...Option) *Chunker {
	c := &Chunker{
		sessionID:  sessionID,
		speakerID:  speakerID,
		sourceLang: sourceLang,
		vad:        detector,
		emit:       emit,
		cfg:        DefaultConfig(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.lastVoice = c.now()
	return c
}

func (c *Chunker) key() string {
	return c.sessionID + ":" + c.speakerID
}

// Feed appends one frame, consults the VAD, and cuts a segment when a pause
// has settled or the accumulation budget is spent.
func (c *Chunker) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}

	c.buf = append(c.buf, chunk...)
	now := c.now()

	speech := c.vad.IsSpeech(c.key(), chunk)
	if speech {
		c.lastVoice = now
	}

	buffered := audio.Duration(c.buf, c.cfg.SampleRate)
	var seg *Segment
	switch {
	case buffered >= c.cfg.MaxAccumulation:
		seg = c.cutLocked(ReasonMaxAccumulation, now)
	case !speech && now.Sub(c.lastVoice) >= c.cfg.SilenceThreshold && buffered >= c.cfg.MinAudioLength:
		seg = c.cutLocked(ReasonPause, now)
	}
	c.mu.Unlock()

	if seg != nil {
		c.emit(*seg)
	}
}

// CheckSilenceTimeout cuts the pending buffer when no frame has arrived for
// the silence threshold. Called by the owner's poll loop.
func (c *Chunker) CheckSilenceTimeout() {
	c.mu.Lock()
	if c.shutdown || len(c.buf) == 0 {
		c.mu.Unlock()
		return
	}
	now := c.now()
	var seg *Segment
	if now.Sub(c.lastVoice) >= c.cfg.SilenceThreshold && audio.Duration(c.buf, c.cfg.SampleRate) >= c.cfg.MinAudioLength {
		seg = c.cutLocked(ReasonSilence, now)
	}
	c.mu.Unlock()

	if seg != nil {
		c.emit(*seg)
	}
}

// Flush cuts whatever remains at end of stream, provided it clears the
// minimum length. Shorter remainders are discarded.
func (c *Chunker) Flush() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	var seg *Segment
	if audio.Duration(c.buf, c.cfg.SampleRate) >= c.cfg.MinAudioLength {
		seg = c.cutLocked(ReasonEndStream, c.now())
	} else {
		c.buf = nil
	}
	c.mu.Unlock()

	if seg != nil {
		c.emit(*seg)
	}
}

// Shutdown flushes and turns all further operations into no-ops.
func (c *Chunker) Shutdown() {
	c.Flush()

	c.mu.Lock()
	already := c.shutdown
	c.shutdown = true
	c.buf = nil
	c.mu.Unlock()

	if !already {
		c.vad.Reset(c.key())
	}
}

// cutLocked takes the buffer as a segment and resets accumulation state.
func (c *Chunker) cutLocked(reason Reason, now time.Time) *Segment {
	seg := &Segment{
		SessionID:  c.sessionID,
		SpeakerID:  c.speakerID,
		SourceLang: c.sourceLang,
		Audio:      c.buf,
		Reason:     reason,
		Duration:   audio.Duration(c.buf, c.cfg.SampleRate),
	}
	c.buf = nil
	c.lastVoice = now
	return seg
}
