package audio

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintTruncatesText(t *testing.T) {
	cache := NewResponseCache(ServerCachePrefix, 10)

	short := cache.Fingerprint("Hello there", "voice")
	assert.Equal(t, "tts_voice_Hello there", short)

	long := strings.Repeat("a", 100)
	assert.Equal(t, cache.Fingerprint(long+"tail one", "voice"), cache.Fingerprint(long+"tail two", "voice"))
	assert.NotEqual(t, cache.Fingerprint(long, "voice"), cache.Fingerprint(long, "other"))

	client := NewResponseCache(ClientCachePrefix, 10)
	assert.True(t, strings.HasPrefix(client.Fingerprint("x", "v"), "audio_"))
}

func TestResponseCacheFIFOEviction(t *testing.T) {
	const capacity = 5
	cache := NewResponseCache(ServerCachePrefix, capacity)

	released := map[string]bool{}
	var mu sync.Mutex

	const inserted = 12
	for i := 0; i < inserted; i++ {
		text := fmt.Sprintf("reply %d", i)
		clip := NewClip([]byte(text), "audio/mpeg").OnRelease(func() {
			mu.Lock()
			released[text] = true
			mu.Unlock()
		})
		cache.Put(text, "v", clip)
	}

	assert.Equal(t, capacity, cache.Len())
	for i := 0; i < inserted; i++ {
		text := fmt.Sprintf("reply %d", i)
		if i < inserted-capacity {
			assert.False(t, cache.Has(text, "v"), "%s should be evicted", text)
			assert.True(t, released[text], "%s should be released", text)
		} else {
			assert.True(t, cache.Has(text, "v"), "%s should be kept", text)
			assert.False(t, released[text])
		}
	}
}

func TestResponseCacheReadDoesNotRefresh(t *testing.T) {
	cache := NewResponseCache(ServerCachePrefix, 2)
	cache.Put("first", "v", NewClip([]byte("1"), "audio/mpeg"))
	cache.Put("second", "v", NewClip([]byte("2"), "audio/mpeg"))

	_, ok := cache.Get("first", "v")
	require.True(t, ok)

	cache.Put("third", "v", NewClip([]byte("3"), "audio/mpeg"))
	assert.False(t, cache.Has("first", "v"))
	assert.True(t, cache.Has("second", "v"))
	assert.True(t, cache.Has("third", "v"))
}

func TestResponseCacheOverwriteReleasesOldClip(t *testing.T) {
	cache := NewResponseCache(ServerCachePrefix, 2)

	oldReleased := false
	cache.Put("same", "v", NewClip([]byte("old"), "audio/mpeg").OnRelease(func() { oldReleased = true }))
	cache.Put("same", "v", NewClip([]byte("new"), "audio/mpeg"))

	clip, ok := cache.Get("same", "v")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), clip.Data)
	assert.True(t, oldReleased)
	assert.Equal(t, 1, cache.Len())
	assert.Len(t, cache.Keys(), 1)
}

func TestResponseCacheMissAndClear(t *testing.T) {
	cache := NewResponseCache(ServerCachePrefix, 3)

	clip, ok := cache.Get("nothing", "v")
	assert.False(t, ok)
	assert.Nil(t, clip)

	count := 0
	for i := 0; i < 3; i++ {
		cache.Put(fmt.Sprintf("t%d", i), "v", NewClip([]byte("x"), "audio/mpeg").OnRelease(func() { count++ }))
	}
	cache.Clear()
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 3, count)

	// the cache is usable after clearing
	cache.Put("again", "v", NewClip([]byte("y"), "audio/mpeg"))
	assert.True(t, cache.Has("again", "v"))
}

func TestClipReleaseRunsOnce(t *testing.T) {
	calls := 0
	clip := NewClip([]byte("x"), "audio/mpeg").OnRelease(func() { calls++ })
	clip.Release()
	clip.Release()
	assert.Equal(t, 1, calls)
}

func TestResponseCacheConcurrentPuts(t *testing.T) {
	cache := NewResponseCache(ServerCachePrefix, 20)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				text := fmt.Sprintf("text-%d", i%30)
				if _, ok := cache.Get(text, "v"); !ok {
					cache.Put(text, "v", NewClip([]byte(text), "audio/mpeg"))
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 20)
	assert.Equal(t, cache.Len(), len(cache.Keys()))
}
