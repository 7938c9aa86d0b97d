package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(3, time.Minute)
	c.Set("a", &Entry{Text: "a"})
	c.Set("b", &Entry{Text: "b"})
	c.Set("c", &Entry{Text: "c"})

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", &Entry{Text: "d"})

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Evictions())
}

func TestLRUSkipsPinnedOnEviction(t *testing.T) {
	c := NewLRU(2, time.Minute)
	c.Set("warm", &Entry{Text: "warm", Pinned: true})
	c.Set("a", &Entry{Text: "a"})
	c.Set("b", &Entry{Text: "b"})

	_, ok := c.Get("warm")
	assert.True(t, ok, "pinned entry survives pressure")
	_, ok = c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRU(4, 10*time.Millisecond)
	c.Set("short", &Entry{Text: "x"})
	c.Set("warm", &Entry{Text: "y", Pinned: true})

	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("warm")
	assert.True(t, ok, "pinned entries do not expire")
}

func TestLRUBytesAccounting(t *testing.T) {
	c := NewLRU(4, time.Minute)
	c.Set("a", &Entry{Audio: make([]byte, 100)})
	assert.Equal(t, int64(100), c.Bytes())

	c.Set("a", &Entry{Audio: make([]byte, 40)})
	assert.Equal(t, int64(40), c.Bytes())

	c.Delete("a")
	assert.Equal(t, int64(0), c.Bytes())
}

func TestLRUHitCountIncrements(t *testing.T) {
	c := NewLRU(4, time.Minute)
	c.Set("a", &Entry{Text: "a"})
	for i := 0; i < 3; i++ {
		_, ok := c.Get("a")
		require.True(t, ok)
	}
	entry, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 4, entry.HitCount)
}

func TestLRUCapacityHolds(t *testing.T) {
	c := NewLRU(10, time.Minute)
	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("k%d", i), &Entry{Text: "v"})
	}
	assert.Equal(t, 10, c.Len())
	assert.Equal(t, uint64(40), c.Evictions())
}
