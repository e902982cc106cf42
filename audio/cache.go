package audio

import (
	"sync"
)

const (
	// ServerCachePrefix namespaces synthesized speech held by the server
	ServerCachePrefix = "tts_"
	// ClientCachePrefix namespaces playable audio held for a connected client
	ClientCachePrefix = "audio_"

	DefaultServerCapacity = 100
	DefaultClientCapacity = 50

	fingerprintTextLimit = 100
)

// Clip is a playable piece of audio
type Clip struct {
	ContentType string
	Data        []byte

	releaseOnce sync.Once
	onRelease   func()
}

// NewClip wraps encoded audio bytes
func NewClip(data []byte, contentType string) *Clip {
	return &Clip{Data: data, ContentType: contentType}
}

// OnRelease registers a hook run once when the clip is released
func (c *Clip) OnRelease(fn func()) *Clip {
	c.onRelease = fn
	return c
}

// Release runs the release hook. It is safe to call more than once.
func (c *Clip) Release() {
	c.releaseOnce.Do(func() {
		if c.onRelease != nil {
			c.onRelease()
		}
	})
}

// ResponseCache is a bounded fingerprint -> clip cache with strict FIFO eviction.
// Reading an entry or overwriting it does not change its eviction position.
type ResponseCache struct {
	prefix   string
	capacity int

	mu      sync.Mutex
	entries map[string]*Clip
	order   []string
}

// NewResponseCache creates a cache holding at most capacity clips
func NewResponseCache(prefix string, capacity int) *ResponseCache {
	if capacity <= 0 {
		capacity = DefaultServerCapacity
	}
	return &ResponseCache{
		prefix:   prefix,
		capacity: capacity,
		entries:  make(map[string]*Clip, capacity),
		order:    make([]string, 0, capacity),
	}
}

// Fingerprint derives the cache key from the voice and the first 100 characters of the text.
// Long texts sharing a prefix collide on purpose.
func (c *ResponseCache) Fingerprint(text, voiceID string) string {
	runes := []rune(text)
	if len(runes) > fingerprintTextLimit {
		runes = runes[:fingerprintTextLimit]
	}
	return c.prefix + voiceID + "_" + string(runes)
}

func (c *ResponseCache) Get(text, voiceID string) (*Clip, bool) {
	key := c.Fingerprint(text, voiceID)

	c.mu.Lock()
	defer c.mu.Unlock()

	clip, ok := c.entries[key]
	return clip, ok
}

func (c *ResponseCache) Has(text, voiceID string) bool {
	_, ok := c.Get(text, voiceID)
	return ok
}

// Put stores a clip. A full cache evicts and releases its oldest entry first.
func (c *ResponseCache) Put(text, voiceID string, clip *Clip) {
	if clip == nil {
		return
	}
	key := c.Fingerprint(text, voiceID)

	var released []*Clip

	c.mu.Lock()
	if existing, ok := c.entries[key]; ok {
		c.entries[key] = clip
		if existing != clip {
			released = append(released, existing)
		}
	} else {
		for len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			if evicted, ok := c.entries[oldest]; ok {
				released = append(released, evicted)
				delete(c.entries, oldest)
			}
		}
		c.entries[key] = clip
		c.order = append(c.order, key)
	}
	c.mu.Unlock()

	for _, r := range released {
		r.Release()
	}
}

// Clear drops and releases every entry
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*Clip, c.capacity)
	c.order = make([]string, 0, c.capacity)
	c.mu.Unlock()

	for _, clip := range entries {
		clip.Release()
	}
}

func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns fingerprints from oldest to newest
func (c *ResponseCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	return keys
}
