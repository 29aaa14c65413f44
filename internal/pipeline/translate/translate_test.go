package translate

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/voxlink-ai/voxlink/internal/bus"
	"github.com/voxlink-ai/voxlink/internal/callrepo"
	"github.com/voxlink-ai/voxlink/internal/synthcache"
	"github.com/voxlink-ai/voxlink/pkg/speech"
	"github.com/voxlink-ai/voxlink/pkg/speech/mock"
)

type fixture struct {
	proc   *Processor
	vendor *mock.Vendor
	repo   *callrepo.Memory
	bus    *bus.Memory
	cache  *synthcache.Cache
	sub    bus.Subscription
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	b := bus.NewMemory()
	t.Cleanup(func() { b.Close() })

	repo := callrepo.NewMemory()
	repo.CreateCall("s1")
	for _, p := range []callrepo.Participant{
		{SessionID: "s1", UserID: "alice", Language: "en", Connected: true},
		{SessionID: "s1", UserID: "bob", Language: "de", Connected: true},
		{SessionID: "s1", UserID: "carol", Language: "fr", Connected: true},
	} {
		if err := repo.UpsertParticipant(context.Background(), p); err != nil {
			t.Fatalf("UpsertParticipant: %v", err)
		}
	}

	vendor := &mock.Vendor{}
	cache := synthcache.New(0)
	sub, err := b.Subscribe(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(func() { sub.Close() })

	proc := NewProcessor(vendor, repo, b, cache, cfg)
	t.Cleanup(proc.Close)

	return &fixture{
		proc:   proc,
		vendor: vendor,
		repo:   repo,
		bus:    b,
		cache:  cache,
		sub:    sub,
	}
}

func (f *fixture) drain(t *testing.T, want int) []bus.Event {
	t.Helper()
	var evs []bus.Event
	deadline := time.After(time.Second)
	for len(evs) < want {
		select {
		case ev := <-f.sub.Events():
			evs = append(evs, ev)
		case <-deadline:
			return evs
		}
	}
	return evs
}

func final(text string) Final {
	return Final{SessionID: "s1", SpeakerID: "alice", Text: text, SourceLang: "en", Streaming: true}
}

func TestFanOutPerLanguage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.proc.Process(context.Background(), final("good morning everyone"))

	evs := f.drain(t, 2)
	if len(evs) != 2 {
		t.Fatalf("events = %d, want one per listener language", len(evs))
	}
	byLang := map[string]bus.Event{}
	for _, ev := range evs {
		if ev.Type != bus.EventTranslation {
			t.Fatalf("event type = %v, want translation", ev.Type)
		}
		byLang[ev.TargetLang] = ev
	}
	de, ok := byLang["de"]
	if !ok {
		t.Fatal("no event for de")
	}
	if de.Translation != "[de-DE] good morning everyone" {
		t.Errorf("de translation = %q", de.Translation)
	}
	if len(de.Recipients) != 1 || de.Recipients[0] != "bob" {
		t.Errorf("de recipients = %v, want [bob]", de.Recipients)
	}
	if !de.IsFinal || !de.IsStreaming {
		t.Errorf("flags = final:%v streaming:%v", de.IsFinal, de.IsStreaming)
	}
	if len(de.Audio()) == 0 {
		t.Error("de event has no audio")
	}
	if _, ok := byLang["fr"]; !ok {
		t.Error("no event for fr")
	}

	// Speaker excluded by default; no en event.
	if _, ok := byLang["en"]; ok {
		t.Error("speaker's own language fanned out without include_speaker")
	}
}

func TestIncludeSpeaker(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{IncludeSpeaker: true})

	f.proc.Process(context.Background(), final("hello there friends"))

	evs := f.drain(t, 3)
	langs := make([]string, 0, len(evs))
	for _, ev := range evs {
		langs = append(langs, ev.TargetLang)
	}
	sort.Strings(langs)
	if strings.Join(langs, ",") != "de,en,fr" {
		t.Errorf("languages = %v, want de,en,fr", langs)
	}
}

func TestShortTranscriptRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.proc.Process(context.Background(), final(" a "))
	f.proc.Process(context.Background(), final(""))

	if got := f.vendor.TranslateCallCount(); got != 0 {
		t.Errorf("Translate calls = %d, want 0", got)
	}
	if evs := f.drain(t, 1); len(evs) != 0 {
		t.Errorf("events = %d, want 0", len(evs))
	}
}

func TestDuplicateDroppedWithinWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.proc.Process(context.Background(), final("see you tomorrow"))
	f.drain(t, 2)
	calls := f.vendor.TranslateCallCount()

	// Same wording again, and a trivially different rendering of it.
	f.proc.Process(context.Background(), final("see you tomorrow"))
	f.proc.Process(context.Background(), final("See you tomorrow!"))

	if got := f.vendor.TranslateCallCount(); got != calls {
		t.Errorf("Translate calls after duplicates = %d, want %d", got, calls)
	}
}

func TestPerLanguageFailureIsolated(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.vendor.TranslateErrs = map[string]error{"de-DE": errors.New("vendor down")}

	f.proc.Process(context.Background(), final("the meeting moved to three"))

	evs := f.drain(t, 1)
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1 (fr only)", len(evs))
	}
	if evs[0].TargetLang != "fr" {
		t.Errorf("surviving language = %q, want fr", evs[0].TargetLang)
	}
}

func TestSynthesisFailureStillEmitsText(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.vendor.SynthesizeErr = errors.New("tts down")

	f.proc.Process(context.Background(), final("audio should be absent"))

	evs := f.drain(t, 2)
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}
	for _, ev := range evs {
		if ev.Translation == "" {
			t.Error("event missing translation text")
		}
		if len(ev.Audio()) != 0 {
			t.Errorf("event for %s carries audio despite TTS failure", ev.TargetLang)
		}
	}
}

func TestTranslationMemoryHit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.proc.Process(context.Background(), final("how are you doing"))
	f.drain(t, 2)
	calls := f.vendor.TranslateCallCount()

	// Wait out the dedup window cheaply by using a fresh deduper: a distinct
	// transcript primes memory, then its exact normalized form repeats after
	// the dedup TTL would normally block it. Instead exercise memory directly.
	sc := f.proc.context("s1", "alice")
	if _, ok := sc.lookupMemory("how are you doing", "de"); !ok {
		t.Fatal("memory miss for remembered translation")
	}
	if calls != 2 {
		t.Errorf("Translate calls = %d, want 2", calls)
	}
}

func TestContextAppendedAfterFanOut(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.proc.Process(context.Background(), final("first utterance here"))
	f.drain(t, 2)

	sc := f.proc.context("s1", "alice")
	got := sc.Context()
	if !strings.Contains(got, "first utterance here") {
		t.Errorf("context = %q, want it to contain the transcript", got)
	}

	f.proc.Process(context.Background(), final("second utterance here"))
	f.drain(t, 2)
	// The second fan-out must have seen the first pair as context.
	var withContext bool
	for _, c := range f.vendor.TranslateCalls {
		if strings.Contains(c.Req.Context, "first utterance here") {
			withContext = true
		}
	}
	if !withContext {
		t.Error("no Translate call carried the prior context")
	}
}

func TestSynthCacheServesRepeats(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.proc.Process(context.Background(), final("cached clip please"))
	f.drain(t, 2)
	synths := f.vendor.SynthesizeCallCount()

	// A different speaker transcript translating to identical text would hit
	// the cache; simulate by calling synthesize directly.
	pcm := f.proc.synthesize(context.Background(), "[de-DE] cached clip please", "de")
	if len(pcm) == 0 {
		t.Fatal("no audio from cache path")
	}
	if got := f.vendor.SynthesizeCallCount(); got != synths {
		t.Errorf("Synthesize calls = %d, want %d (cache hit)", got, synths)
	}
}

func TestTranscriptsPersisted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.proc.Process(context.Background(), final("store this exchange"))
	f.drain(t, 2)

	saved := f.repo.Transcripts()
	if len(saved) != 2 {
		t.Fatalf("persisted transcripts = %d, want 2", len(saved))
	}
	for _, tr := range saved {
		if tr.Text != "store this exchange" || tr.Translation == "" {
			t.Errorf("transcript row = %+v", tr)
		}
	}
}

func TestEndStreamDiscardsContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.proc.Process(context.Background(), final("remember me briefly"))
	f.drain(t, 2)
	if f.proc.ActiveContexts() != 1 {
		t.Fatalf("ActiveContexts = %d, want 1", f.proc.ActiveContexts())
	}

	f.proc.EndStream("s1", "alice")
	if f.proc.ActiveContexts() != 0 {
		t.Errorf("ActiveContexts after EndStream = %d, want 0", f.proc.ActiveContexts())
	}

	// Same transcript is fresh again after the context reset.
	f.proc.Process(context.Background(), final("remember me briefly"))
	if evs := f.drain(t, 2); len(evs) != 2 {
		t.Errorf("events after reset = %d, want 2", len(evs))
	}
}

// stallEngine delays the vendor translate for one specific transcript,
// simulating a slow vendor round trip on an earlier final.
type stallEngine struct {
	*mock.Vendor
	stallText string
	stall     time.Duration
}

func (e *stallEngine) Translate(ctx context.Context, req speech.TranslateRequest) (string, error) {
	if req.Text == e.stallText {
		time.Sleep(e.stall)
	}
	return e.Vendor.Translate(ctx, req)
}

func TestSubmitKeepsSpeakerFinalsOrdered(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	engine := &stallEngine{
		Vendor:    f.vendor,
		stallText: "the meeting starts at noon",
		stall:     200 * time.Millisecond,
	}
	proc := NewProcessor(engine, f.repo, f.bus, f.cache, Config{})
	t.Cleanup(proc.Close)

	// The first final's vendor calls are slow, the second's are instant. Each
	// listener must still hear them in speaking order.
	proc.Submit(final("the meeting starts at noon"))
	proc.Submit(final("please join on time"))

	evs := f.drain(t, 4)
	if len(evs) != 4 {
		t.Fatalf("events = %d, want 4", len(evs))
	}
	var de []string
	for _, ev := range evs {
		if ev.TargetLang == "de" {
			de = append(de, ev.Transcript)
		}
	}
	if len(de) != 2 {
		t.Fatalf("de events = %d, want 2", len(de))
	}
	if de[0] != "the meeting starts at noon" || de[1] != "please join on time" {
		t.Errorf("de delivery order = %v, want submission order", de)
	}
}

func TestSubmitDoesNotSerializeAcrossSpeakers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	engine := &stallEngine{
		Vendor:    f.vendor,
		stallText: "alice is being slow today",
		stall:     500 * time.Millisecond,
	}
	proc := NewProcessor(engine, f.repo, f.bus, f.cache, Config{})
	t.Cleanup(proc.Close)

	proc.Submit(final("alice is being slow today"))
	proc.Submit(Final{
		SessionID:  "s1",
		SpeakerID:  "bob",
		Text:       "bob speaks right through",
		SourceLang: "de",
		Streaming:  true,
	})

	// Bob's fan-out (en and fr listeners) lands while alice's is still inside
	// the stalled vendor call.
	evs := f.drain(t, 2)
	if len(evs) != 2 {
		t.Fatalf("events = %d, want bob's 2 before the stall ends", len(evs))
	}
	for _, ev := range evs {
		if ev.Transcript != "bob speaks right through" {
			t.Errorf("early event transcript = %q, want bob's", ev.Transcript)
		}
	}
	f.drain(t, 2)
}

func TestCloseDrainsQueuedFinals(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.proc.Submit(final("closing remarks for today"))
	f.proc.Close()

	// Close returned only after the queued fan-out published both events.
	for i := range 2 {
		select {
		case <-f.sub.Events():
		default:
			t.Fatalf("event %d not buffered after Close", i)
		}
	}

	// Submissions after Close are dropped.
	f.proc.Submit(final("anything said after close"))
	if evs := f.drain(t, 1); len(evs) != 0 {
		t.Errorf("events after Close = %d, want 0", len(evs))
	}
}
	t.Parallel()
	f := newFixture(t, Config{})

	// Only the speaker remains connected.
	f.repo.SetConnected(context.Background(), "s1", "bob", false)
	f.repo.SetConnected(context.Background(), "s1", "carol", false)

	f.proc.Process(context.Background(), final("talking to an empty room"))
	if got := f.vendor.TranslateCallCount(); got != 0 {
		t.Errorf("Translate calls = %d, want 0 with no listeners", got)
	}
}
