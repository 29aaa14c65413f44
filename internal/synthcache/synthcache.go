// Package synthcache caches synthesised audio clips. Short confirmations
// ("yes", "okay", greetings) repeat constantly on live calls; serving them
// from memory skips a vendor round trip and its cost.
package synthcache

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the default number of cached clips.
const DefaultCapacity = 100

// Cache is a fixed-capacity LRU of synthesised audio keyed by text, language,
// and voice. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[key]*list.Element

	hits   uint64
	misses uint64
}

type key struct {
	text  string
	lang  string
	voice string
}

type entry struct {
	key key
	pcm []byte
}

// New creates a Cache. capacity <= 0 uses [DefaultCapacity].
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[key]*list.Element, capacity),
	}
}

// Get returns the cached clip for the exact text, language, and voice, and
// marks it recently used.
func (c *Cache) Get(text, lang, voice string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key{text, lang, voice}]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*entry).pcm, true
}

// Put stores a clip, evicting the least recently used entry at capacity.
// Empty clips are not cached.
func (c *Cache) Put(text, lang, voice string, pcm []byte) {
	if len(pcm) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{text, lang, voice}
	if el, ok := c.entries[k]; ok {
		el.Value.(*entry).pcm = pcm
		c.order.MoveToFront(el)
		return
	}

	c.entries[k] = c.order.PushFront(&entry{key: k, pcm: pcm})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}

// Len returns the number of cached clips.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
