package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGet(t *testing.T) {
	c := New[string](time.Minute, 10)

	c.Set("a", "alpha")
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New[int](10*time.Millisecond, 10)

	c.Set("k", 42)
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(25 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry should be removed on access")
}

func TestCacheLRUEviction(t *testing.T) {
	c := New[int](time.Minute, 3)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Touch a and b so c becomes the least recently used.
	_, _ = c.Get("a")
	_, _ = c.Get("b")

	c.Set("d", 4)

	_, ok := c.Get("c")
	assert.False(t, ok, "LRU entry should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestCacheReplaceAtCapacityKeepsOthers(t *testing.T) {
	c := New[int](time.Minute, 2)

	c.Set("a", 1)
	c.Set("b", 2)
	// Overwriting an existing key at capacity must not evict anything.
	c.Set("a", 10)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, got)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestCacheDisabled(t *testing.T) {
	c := New[string](time.Minute, 0)

	c.Set("a", "alpha")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCacheDeleteAndClear(t *testing.T) {
	c := New[int](time.Minute, 10)

	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCacheCounters(t *testing.T) {
	c := New[int](time.Minute, 2)

	c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("a")
	_, _ = c.Get("nope")

	c.Set("b", 2)
	c.Set("evictor", 3)

	got := c.Counters()
	assert.Equal(t, uint64(2), got.Hits)
	assert.Equal(t, uint64(1), got.Misses)
	assert.Equal(t, uint64(1), got.Evictions)
	assert.Equal(t, 2, got.Size)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New[int](time.Minute, 64)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", i%16)
				c.Set(key, g*1000+i)
				_, _ = c.Get(key)
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	assert.LessOrEqual(t, c.Len(), 16)
}
