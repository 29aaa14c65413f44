package translate

import (
	"strings"
	"sync"
	"time"

	"github.com/voxlink-ai/voxlink/internal/dedup"
)

// StreamContext is the per-speaker conversational state: the rolling context
// window handed to the translation vendor, the translation memory, and the
// dedup set. The mutex serializes all access; it is never held across vendor
// I/O.
type StreamContext struct {
	mu      sync.Mutex
	context string
	memory  map[string]string
	order   []string
	dedup   *dedup.Deduper
}

func newStreamContext(dedupTTL time.Duration) *StreamContext {
	return &StreamContext{
		memory: make(map[string]string),
		dedup:  dedup.New(dedup.WithTTL(dedupTTL)),
	}
}

// memoryKey partitions remembered translations by the first two characters
// of the target tag, so "en" and "en-US" share entries.
func memoryKey(normalizedSource, targetLang string) string {
	part := strings.ToLower(targetLang)
	if len(part) > 2 {
		part = part[:2]
	}
	return normalizedSource + "|" + part
}

func (sc *StreamContext) lookupMemory(normalizedSource, targetLang string) (string, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	t, ok := sc.memory[memoryKey(normalizedSource, targetLang)]
	return t, ok
}

// storeMemory remembers a translation, evicting the oldest insertion when
// the memory is full.
func (sc *StreamContext) storeMemory(normalizedSource, targetLang, translation string, maxSize int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	key := memoryKey(normalizedSource, targetLang)
	if _, ok := sc.memory[key]; !ok {
		sc.order = append(sc.order, key)
		if len(sc.order) > maxSize {
			oldest := sc.order[0]
			sc.order = sc.order[1:]
			delete(sc.memory, oldest)
		}
	}
	sc.memory[key] = translation
}

// append adds a transcript/translation pair to the rolling context window.
func (sc *StreamContext) append(transcript, translation string, snippetMax, contextMax int) {
	snippet := headRunes(transcript, snippetMax) + " => " + headRunes(translation, snippetMax)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.context == "" {
		sc.context = snippet
	} else {
		sc.context = sc.context + "\n" + snippet
	}
	sc.context = CleanContext(sc.context, contextMax)
}

// Context returns the current rolling window. Test hook.
func (sc *StreamContext) Context() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.context
}

// MemoryLen returns the number of remembered translations. Test hook.
func (sc *StreamContext) MemoryLen() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.memory)
}

// CleanContext truncates s to at most max runes from the tail, then drops
// any leading partial word so the window always starts on a word boundary.
// Applying it twice yields the same result.
func CleanContext(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := len(runes) - max
	tail := string(runes[cut:])
	if prev := runes[cut-1]; prev != ' ' && prev != '\n' {
		// The slice landed mid-word; drop the fragment.
		if i := strings.IndexAny(tail, " \n"); i >= 0 {
			tail = tail[i+1:]
		}
	}
	return strings.TrimSpace(tail)
}

// headRunes truncates s to at most max runes from the front.
func headRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
