// Package translate fans each final transcript out to every listener
// language: translation memory lookup, vendor translate with conversation
// context, synthesis through the shared clip cache, and one Translation
// event per language on the session bus. Both the streaming path and the
// batch segment worker publish through this processor so dedup, context,
// and recipient resolution behave identically.
package translate

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxlink-ai/voxlink/internal/bus"
	"github.com/voxlink-ai/voxlink/internal/callrepo"
	"github.com/voxlink-ai/voxlink/internal/dedup"
	"github.com/voxlink-ai/voxlink/internal/observe"
	"github.com/voxlink-ai/voxlink/internal/synthcache"
	"github.com/voxlink-ai/voxlink/pkg/langtag"
	"github.com/voxlink-ai/voxlink/pkg/speech"
)

// minTranscriptChars is the shortest transcript worth fanning out.
const minTranscriptChars = 2

// Engine is the vendor capability set the processor needs.
type Engine interface {
	speech.Translator
	speech.Synthesizer
}

// Final is one committed transcript entering the fan-out.
type Final struct {
	SessionID  string
	SpeakerID  string
	Text       string
	SourceLang string

	// Streaming marks finals from the live recognition path; batch segments
	// set it false.
	Streaming bool
}

// Config holds the processor knobs. Zero values take defaults.
type Config struct {
	// ContextMaxChars bounds the rolling conversation context per speaker.
	ContextMaxChars int

	// SnippetMaxChars bounds each appended context line.
	SnippetMaxChars int

	// MemorySize bounds the per-context translation memory.
	MemorySize int

	// DedupTTL is the window in which a repeated transcript is dropped.
	DedupTTL time.Duration

	// IncludeSpeaker adds the speaker to their own language's recipients.
	IncludeSpeaker bool

	// Voice selects the synthesis voice. Empty means the vendor default.
	Voice string

	// ProcessTimeout bounds one queued fan-out dispatched via Submit.
	ProcessTimeout time.Duration
}

// DefaultConfig returns the production knobs.
func DefaultConfig() Config {
	return Config{
		ContextMaxChars: 1000,
		SnippetMaxChars: 200,
		MemorySize:      50,
		DedupTTL:        30 * time.Second,
		ProcessTimeout:  30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ContextMaxChars <= 0 {
		c.ContextMaxChars = d.ContextMaxChars
	}
	if c.SnippetMaxChars <= 0 {
		c.SnippetMaxChars = d.SnippetMaxChars
	}
	if c.MemorySize <= 0 {
		c.MemorySize = d.MemorySize
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = d.DedupTTL
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = d.ProcessTimeout
	}
}

// submitQueueDepth bounds one speaker's backlog of pending finals.
const submitQueueDepth = 64

// Processor runs the per-language fan-out. Safe for concurrent use; finals
// for distinct speakers proceed independently, while [Processor.Submit]
// keeps each single speaker's finals in order.
type Processor struct {
	engine Engine
	repo   callrepo.Repository
	bus    bus.Bus
	cache  *synthcache.Cache
	cfg    Config

	mu       sync.Mutex
	contexts map[string]*StreamContext

	qmu     sync.Mutex
	queues  map[string]chan Final
	qclosed bool
	qwg     sync.WaitGroup
}

// NewProcessor creates a Processor over the given vendor capabilities,
// repository, bus, and shared synthesis cache.
func NewProcessor(engine Engine, repo callrepo.Repository, b bus.Bus, cache *synthcache.Cache, cfg Config) *Processor {
	cfg.applyDefaults()
	return &Processor{
		engine:   engine,
		repo:     repo,
		bus:      b,
		cache:    cache,
		cfg:      cfg,
		contexts: make(map[string]*StreamContext),
		queues:   make(map[string]chan Final),
	}
}

func contextKey(sessionID, speakerID string) string {
	return sessionID + ":" + speakerID
}

// Submit enqueues one final on its speaker's serial queue and returns
// immediately. Finals for the same speaker run strictly in submission order,
// so a slow vendor call on an earlier final cannot let a later one publish
// first. Distinct speakers proceed on independent queues. A full queue drops
// the final rather than block the audio path.
func (p *Processor) Submit(f Final) {
	key := contextKey(f.SessionID, f.SpeakerID)

	p.qmu.Lock()
	defer p.qmu.Unlock()
	if p.qclosed {
		slog.Warn("translate: final submitted after close",
			"session", f.SessionID, "speaker", f.SpeakerID)
		return
	}
	q, ok := p.queues[key]
	if !ok {
		q = make(chan Final, submitQueueDepth)
		p.queues[key] = q
		p.qwg.Add(1)
		go p.runQueue(q)
	}
	select {
	case q <- f:
	default:
		slog.Warn("translate: speaker queue full, final dropped",
			"session", f.SessionID, "speaker", f.SpeakerID)
	}
}

// runQueue drains one speaker's queue, one fan-out at a time.
func (p *Processor) runQueue(q chan Final) {
	defer p.qwg.Done()
	for f := range q {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProcessTimeout)
		p.Process(ctx, f)
		cancel()
	}
}

// Close stops accepting submissions and waits for every queued final to
// finish its fan-out. After Close returns no further Translation events are
// published from queued work.
func (p *Processor) Close() {
	p.qmu.Lock()
	if p.qclosed {
		p.qmu.Unlock()
		return
	}
	p.qclosed = true
	for key, q := range p.queues {
		delete(p.queues, key)
		close(q)
	}
	p.qmu.Unlock()
	p.qwg.Wait()
}

// Process runs the full fan-out for one final transcript. It blocks until
// every language task has finished; callers on the audio path should go
// through [Processor.Submit] instead, which serializes per speaker.
func (p *Processor) Process(ctx context.Context, f Final) {
	text := strings.TrimSpace(f.Text)
	if len([]rune(text)) < minTranscriptChars {
		return
	}

	met := observe.DefaultMetrics()
	start := time.Now()
	defer func() {
		met.FanOutDuration.Record(ctx, time.Since(start).Seconds())
	}()

	sc := p.context(f.SessionID, f.SpeakerID)

	// The dedup check and the context snapshot form the serialization point
	// for this speaker. The lock is never held across vendor I/O.
	sc.mu.Lock()
	duplicate := sc.dedup.Seen(text)
	convContext := sc.context
	sc.mu.Unlock()
	if duplicate {
		met.DedupDrops.Add(ctx, 1)
		slog.Debug("translate: duplicate transcript dropped",
			"session", f.SessionID, "speaker", f.SpeakerID)
		return
	}

	targets, err := p.repo.GetTargetLanguages(ctx, f.SessionID, f.SpeakerID, p.cfg.IncludeSpeaker)
	if err != nil {
		slog.Warn("translate: target language lookup failed",
			"session", f.SessionID, "speaker", f.SpeakerID, "error", err)
		return
	}
	if len(targets) == 0 {
		return
	}

	norm := dedup.Normalize(text)
	var firstMu sync.Mutex
	var firstTranslation string

	g := new(errgroup.Group)
	for lang, recipients := range targets {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("translate: language task panicked",
						"session", f.SessionID, "speaker", f.SpeakerID,
						"target", lang, "panic", r)
				}
			}()

			translation, ok := sc.lookupMemory(norm, lang)
			if !ok {
				var err error
				callStart := time.Now()
				translation, err = p.engine.Translate(ctx, speech.TranslateRequest{
					Text:       text,
					SourceLang: langtag.Full(f.SourceLang),
					TargetLang: langtag.Full(lang),
					Context:    convContext,
				})
				met.RecordVendorCall(ctx, met.TranslateDuration, "speech", "translate", callStart, err)
				if err != nil {
					// Language-scoped failure; the other languages proceed.
					slog.Warn("translate: vendor translate failed",
						"session", f.SessionID, "speaker", f.SpeakerID,
						"target", lang, "error", err)
					return nil
				}
				sc.storeMemory(norm, lang, translation, p.cfg.MemorySize)
			}

			audio := p.synthesize(ctx, translation, lang)

			ev := bus.NewTranslation(f.SessionID, f.SpeakerID, recipients,
				text, translation, f.SourceLang, lang, audio,
				f.Streaming, convContext != "")
			if err := p.bus.Publish(ctx, f.SessionID, ev); err != nil {
				slog.Warn("translate: publish failed",
					"session", f.SessionID, "target", lang, "error", err)
				return nil
			}
			met.RecordEvent(ctx, string(ev.Type))

			firstMu.Lock()
			if firstTranslation == "" {
				firstTranslation = translation
			}
			firstMu.Unlock()

			if err := p.repo.SaveTranscript(ctx, callrepo.Transcript{
				SessionID:   f.SessionID,
				SpeakerID:   f.SpeakerID,
				SourceLang:  f.SourceLang,
				TargetLang:  lang,
				Text:        text,
				Translation: translation,
			}); err != nil {
				slog.Warn("translate: transcript persist failed",
					"session", f.SessionID, "target", lang, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if firstTranslation != "" {
		sc.append(text, firstTranslation, p.cfg.SnippetMaxChars, p.cfg.ContextMaxChars)
	}
}

// synthesize renders audio for a translation, serving repeats from the clip
// cache. Returns nil on failure; the event is still published with the text.
func (p *Processor) synthesize(ctx context.Context, translation, lang string) []byte {
	if pcm, ok := p.cache.Get(translation, lang, p.cfg.Voice); ok {
		return pcm
	}
	met := observe.DefaultMetrics()
	callStart := time.Now()
	pcm, err := p.engine.Synthesize(ctx, translation, langtag.Full(lang), p.cfg.Voice)
	met.RecordVendorCall(ctx, met.TTSDuration, "speech", "tts", callStart, err)
	if err != nil {
		slog.Warn("translate: synthesis failed", "target", lang, "error", err)
		return nil
	}
	p.cache.Put(translation, lang, p.cfg.Voice, pcm)
	return pcm
}

// context returns the speaker's StreamContext, creating it on first use.
func (p *Processor) context(sessionID, speakerID string) *StreamContext {
	key := contextKey(sessionID, speakerID)
	p.mu.Lock()
	defer p.mu.Unlock()
	sc, ok := p.contexts[key]
	if !ok {
		sc = newStreamContext(p.cfg.DedupTTL)
		p.contexts[key] = sc
	}
	return sc
}

// EndStream discards the speaker's context, memory, and dedup state, and
// retires their serial queue. Queued finals still drain before the queue
// goroutine exits.
func (p *Processor) EndStream(sessionID, speakerID string) {
	key := contextKey(sessionID, speakerID)

	p.qmu.Lock()
	if q, ok := p.queues[key]; ok {
		delete(p.queues, key)
		close(q)
	}
	p.qmu.Unlock()

	p.mu.Lock()
	delete(p.contexts, key)
	p.mu.Unlock()
}

// ActiveContexts returns the number of live stream contexts. Metrics hook.
func (p *Processor) ActiveContexts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}
