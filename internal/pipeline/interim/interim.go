// Package interim drives streaming speech recognition for active speakers
// and publishes live captions on the session bus. One session per
// (session, speaker) pair; each final transcript is handed to the registered
// callback, which feeds the translation fan-out.
package interim

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxlink-ai/voxlink/internal/bus"
	"github.com/voxlink-ai/voxlink/internal/observe"
	"github.com/voxlink-ai/voxlink/pkg/audio"
	"github.com/voxlink-ai/voxlink/pkg/langtag"
	"github.com/voxlink-ai/voxlink/pkg/speech"
)

// OnFinal is invoked once per committed transcript. Panics inside the
// callback are logged and isolated; they never abort the session.
type OnFinal func(sessionID, speakerID, text, sourceLang string)

// Config holds the publication thresholds. Zero values take defaults.
type Config struct {
	// MinChars is the minimum caption length worth publishing.
	MinChars int

	// PublishInterval rate-limits non-final captions. Finals bypass it.
	PublishInterval time.Duration

	// MaxTextLength truncates runaway captions.
	MaxTextLength int

	// AudioBuffer is the per-session inbound frame queue depth.
	AudioBuffer int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinChars:        3,
		PublishInterval: 200 * time.Millisecond,
		MaxTextLength:   500,
		AudioBuffer:     256,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MinChars <= 0 {
		c.MinChars = d.MinChars
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = d.PublishInterval
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = d.MaxTextLength
	}
	if c.AudioBuffer <= 0 {
		c.AudioBuffer = d.AudioBuffer
	}
}

// Manager owns the streaming sessions. Safe for concurrent use.
type Manager struct {
	vendor speech.StreamingTranscriber
	bus    bus.Bus
	cfg    Config

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewManager creates a Manager over the given streaming vendor and bus.
func NewManager(vendor speech.StreamingTranscriber, b bus.Bus, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		vendor:   vendor,
		bus:      b,
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

func sessionKey(sessionID, speakerID string) string {
	return sessionID + ":" + speakerID
}

// StartSession ensures a live streaming session for the speaker. If a
// previous session's task has completed it is discarded and a new one
// started; if it is still running only the callback is refreshed.
func (m *Manager) StartSession(ctx context.Context, sessionID, speakerID, sourceLang string, onFinal OnFinal) error {
	key := sessionKey(sessionID, speakerID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("interim: manager is shut down")
	}

	if existing, ok := m.sessions[key]; ok {
		if existing.alive() {
			existing.setOnFinal(onFinal)
			return nil
		}
		delete(m.sessions, key)
	}

	s := &session{
		sessionID:  sessionID,
		speakerID:  speakerID,
		sourceLang: sourceLang,
		bus:        m.bus,
		cfg:        m.cfg,
		audio:      make(chan []byte, m.cfg.AudioBuffer),
		done:       make(chan struct{}),
	}
	s.setOnFinal(onFinal)

	handle, err := m.vendor.StartStream(ctx, speech.StreamConfig{
		SampleRate: audio.SampleRate,
		Language:   langtag.Full(sourceLang),
	})
	if err != nil {
		return fmt.Errorf("interim: start stream for %s: %w", key, err)
	}

	m.sessions[key] = s
	observe.DefaultMetrics().ActiveStreams.Add(ctx, 1)
	go s.run(handle)
	return nil
}

// Feed queues an audio frame for the speaker's session. Frames for unknown
// or ended sessions are dropped; the batch path still covers the audio.
func (m *Manager) Feed(sessionID, speakerID string, chunk []byte) {
	m.mu.Lock()
	s := m.sessions[sessionKey(sessionID, speakerID)]
	m.mu.Unlock()
	if s == nil || !s.alive() {
		return
	}
	s.feed(chunk)
}

// EndUtterance sends the end-of-utterance sentinel, finalising the stream.
// The vendor flushes pending audio into a last final before the session ends.
func (m *Manager) EndUtterance(sessionID, speakerID string) {
	m.mu.Lock()
	s := m.sessions[sessionKey(sessionID, speakerID)]
	m.mu.Unlock()
	if s != nil {
		s.feed(nil)
	}
}

// StopSession finalises and forgets the speaker's session.
func (m *Manager) StopSession(sessionID, speakerID string) {
	key := sessionKey(sessionID, speakerID)
	m.mu.Lock()
	s := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if s != nil {
		s.feed(nil)
		s.wait()
	}
}

// Shutdown finalises every session and waits for their tasks.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = map[string]*session{}
	m.mu.Unlock()

	for _, s := range sessions {
		s.feed(nil)
	}
	for _, s := range sessions {
		s.wait()
	}
}

// ActiveSessions returns the number of live sessions. Test and metrics hook.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.alive() {
			n++
		}
	}
	return n
}

// ─── session ────────────────────────────────────────────────────────────────

type session struct {
	sessionID  string
	speakerID  string
	sourceLang string
	bus        bus.Bus
	cfg        Config

	audio       chan []byte
	done        chan struct{}
	sendMu      sync.RWMutex
	audioClosed bool

	cbMu    sync.Mutex
	onFinal OnFinal

	// Publication state, touched only by the reader goroutine.
	lastText    string
	lastPublish time.Time
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *session) setOnFinal(cb OnFinal) {
	s.cbMu.Lock()
	s.onFinal = cb
	s.cbMu.Unlock()
}

// feed queues a frame; nil is the end-of-utterance sentinel and closes the
// audio channel.
func (s *session) feed(chunk []byte) {
	if chunk == nil {
		s.closeAudio()
		return
	}
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.audioClosed {
		return
	}
	select {
	case s.audio <- chunk:
	case <-s.done:
	default:
		// Queue full; drop the frame rather than stall the audio loop. The
		// batch path still covers this audio.
	}
}

func (s *session) closeAudio() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.audioClosed {
		s.audioClosed = true
		close(s.audio)
	}
}

func (s *session) wait() { <-s.done }

// run owns the vendor stream: a writer goroutine pumps queued audio in, and
// the main loop consumes partial and final transcripts until the vendor
// closes both channels.
func (s *session) run(handle speech.SessionHandle) {
	defer close(s.done)
	defer observe.DefaultMetrics().ActiveStreams.Add(context.Background(), -1)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for chunk := range s.audio {
			if err := handle.SendAudio(chunk); err != nil {
				slog.Warn("interim: send audio failed",
					"session", s.sessionID, "speaker", s.speakerID, "error", err)
				return
			}
		}
		// Sentinel received; Close flushes the vendor's pending audio.
		_ = handle.Close()
	}()

	partials := handle.Partials()
	finals := handle.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.publishInterim(t, false)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.handleFinal(t)
		}
	}

	// The vendor may have ended the stream on its own; release the writer
	// before waiting on it.
	s.closeAudio()
	_ = handle.Close()
	<-writerDone
}

// publishInterim applies the caption gates: minimum length, identical-text
// dedup, and the rate limit (finals bypass the limit).
func (s *session) publishInterim(t speech.Transcript, isFinal bool) {
	text := strings.TrimSpace(t.Text)
	if len([]rune(text)) < s.cfg.MinChars {
		return
	}
	if runes := []rune(text); len(runes) > s.cfg.MaxTextLength {
		text = string(runes[:s.cfg.MaxTextLength])
	}
	if !isFinal {
		if text == s.lastText {
			return
		}
		if since := time.Since(s.lastPublish); since < s.cfg.PublishInterval {
			return
		}
	}

	ev := bus.NewInterim(s.sessionID, s.speakerID, text, s.sourceLang, isFinal, t.Confidence)
	if err := s.bus.Publish(context.Background(), s.sessionID, ev); err != nil {
		slog.Warn("interim: publish caption failed",
			"session", s.sessionID, "speaker", s.speakerID, "error", err)
		return
	}
	s.lastText = text
	s.lastPublish = time.Now()
}

// handleFinal publishes the final caption, retires the interim line, and
// invokes the callback with panic isolation.
func (s *session) handleFinal(t speech.Transcript) {
	text := strings.TrimSpace(t.Text)
	if len([]rune(text)) < s.cfg.MinChars {
		return
	}

	s.publishInterim(t, true)

	clearEv := bus.NewInterimClear(s.sessionID, s.speakerID)
	if err := s.bus.Publish(context.Background(), s.sessionID, clearEv); err != nil {
		slog.Warn("interim: publish clear failed",
			"session", s.sessionID, "speaker", s.speakerID, "error", err)
	}

	s.cbMu.Lock()
	cb := s.onFinal
	s.cbMu.Unlock()
	if cb == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("interim: final callback panicked",
					"session", s.sessionID, "speaker", s.speakerID, "panic", r)
			}
		}()
		cb(s.sessionID, s.speakerID, text, s.sourceLang)
	}()
}
