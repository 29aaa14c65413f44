// Package dedup suppresses duplicate transcript deliveries. The relay runs
// two recognition paths over the same audio (streaming finals and batch
// fallback), so the same utterance can surface twice within a short window.
// A Deduper remembers recently delivered segments and rejects repeats,
// including near-identical wordings that differ only in punctuation, casing,
// or a recogniser's minor revision.
package dedup

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultTTL is how long a delivered segment blocks repeats.
	DefaultTTL = 30 * time.Second

	// DefaultSimilarityThreshold is the minimum Jaro-Winkler score for two
	// normalised segments to count as the same utterance.
	DefaultSimilarityThreshold = 0.92
)

// Option is a functional option for configuring a [Deduper].
type Option func(*Deduper)

// WithTTL sets how long delivered segments are remembered.
func WithTTL(ttl time.Duration) Option {
	return func(d *Deduper) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithSimilarityThreshold sets the Jaro-Winkler score above which two
// segments count as duplicates. 1.0 disables near-duplicate matching.
func WithSimilarityThreshold(t float64) Option {
	return func(d *Deduper) {
		if t > 0 {
			d.threshold = t
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Deduper) {
		if now != nil {
			d.now = now
		}
	}
}

// Deduper is a TTL set of recently delivered segments with fuzzy membership.
// One Deduper covers one speaker; create a fresh one per speaker session.
// Safe for concurrent use.
type Deduper struct {
	mu        sync.Mutex
	ttl       time.Duration
	threshold float64
	now       func() time.Time
	entries   map[string]time.Time // normalised text -> delivery time
}

// New returns a Deduper with the supplied options applied.
func New(opts ...Option) *Deduper {
	d := &Deduper{
		ttl:       DefaultTTL,
		threshold: DefaultSimilarityThreshold,
		now:       time.Now,
		entries:   make(map[string]time.Time),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Seen reports whether text duplicates a segment delivered within the TTL,
// and records it as delivered when it does not. Empty or whitespace-only text
// is never recorded and always reports true.
func (d *Deduper) Seen(text string) bool {
	key := Normalize(text)
	if key == "" {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expireLocked(now)

	if _, ok := d.entries[key]; ok {
		return true
	}
	if d.threshold < 1.0 {
		for prev := range d.entries {
			if matchr.JaroWinkler(key, prev, false) >= d.threshold {
				return true
			}
		}
	}

	d.entries[key] = now
	return false
}

// Len returns the number of live entries.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked(d.now())
	return len(d.entries)
}

func (d *Deduper) expireLocked(now time.Time) {
	for key, at := range d.entries {
		if now.Sub(at) >= d.ttl {
			delete(d.entries, key)
		}
	}
}

// Normalize lowercases text, strips punctuation, and collapses whitespace so
// that trivially different renderings of one utterance share a key.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
