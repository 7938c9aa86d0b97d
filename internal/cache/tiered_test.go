package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate-server-go/internal/platform/logging"
)

func newTestTiered(t *testing.T) (*Tiered, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tiered := NewTiered(rdb, Config{
		LocalMaxSize: 8,
		LocalTTL:     time.Minute,
		RedisTTL:     time.Hour,
		Prefix:       "vg:test:",
	}, logging.Discard())
	return tiered, mr
}

func TestTieredWriteThroughAndIdempotentRead(t *testing.T) {
	tiered, mr := newTestTiered(t)
	ctx := context.Background()

	entry := &Entry{Audio: []byte("pcm-bytes"), Voice: "en-US-AriaNeural", Format: "pcm"}
	require.NoError(t, tiered.Set(ctx, "k1", entry))

	assert.True(t, mr.Exists("vg:test:k1"), "entry must reach the durable tier")

	first, ok := tiered.Get(ctx, "k1")
	require.True(t, ok)
	second, ok := tiered.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, first.Audio, second.Audio)

	stats := tiered.Stats()
	assert.Equal(t, uint64(2), stats.LocalHits)
	assert.Equal(t, uint64(0), stats.Misses)
	assert.Equal(t, 1.0, stats.HitRate)
}

func TestTieredRedisBackfill(t *testing.T) {
	tiered, _ := newTestTiered(t)
	ctx := context.Background()

	require.NoError(t, tiered.Set(ctx, "k1", &Entry{Audio: []byte("abc")}))

	// Drop the local tier so the next read must come from Redis.
	tiered.local.Clear()

	got, ok := tiered.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), got.Audio)
	assert.Equal(t, uint64(1), tiered.Stats().RedisHits)

	// The Redis hit backfilled the local tier.
	_, ok = tiered.local.Get("k1")
	assert.True(t, ok)
}

func TestTieredMiss(t *testing.T) {
	tiered, _ := newTestTiered(t)

	_, ok := tiered.Get(context.Background(), "absent")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), tiered.Stats().Misses)
	assert.Equal(t, 0.0, tiered.Stats().HitRate)
}

func TestTieredPinnedEntryPersistsWithoutTTL(t *testing.T) {
	tiered, mr := newTestTiered(t)
	ctx := context.Background()

	require.NoError(t, tiered.Set(ctx, "warm", &Entry{Audio: []byte("hold"), Pinned: true}))
	require.NoError(t, tiered.Set(ctx, "normal", &Entry{Audio: []byte("x")}))

	assert.Equal(t, time.Duration(0), mr.TTL("vg:test:warm"))
	assert.Equal(t, time.Hour, mr.TTL("vg:test:normal"))
}

func TestTieredClearScopedToPrefix(t *testing.T) {
	tiered, mr := newTestTiered(t)
	ctx := context.Background()

	require.NoError(t, tiered.Set(ctx, "k1", &Entry{Text: "a"}))
	require.NoError(t, tiered.Set(ctx, "k2", &Entry{Text: "b"}))
	require.NoError(t, mr.Set("other:key", "keep"))

	require.NoError(t, tiered.Clear(ctx))

	assert.False(t, mr.Exists("vg:test:k1"))
	assert.False(t, mr.Exists("vg:test:k2"))
	assert.True(t, mr.Exists("other:key"))
	assert.Equal(t, 0, tiered.local.Len())
}

func TestTieredWithoutRedis(t *testing.T) {
	tiered := NewTiered(nil, Config{LocalMaxSize: 4, LocalTTL: time.Minute}, logging.Discard())
	ctx := context.Background()

	require.NoError(t, tiered.Set(ctx, "k1", &Entry{Text: "local only"}))
	got, ok := tiered.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "local only", got.Text)
	require.NoError(t, tiered.Clear(ctx))
	_, ok = tiered.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestTieredInstrumentCountsPerTier(t *testing.T) {
	tiered, _ := newTestTiered(t)
	hits := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_hits_total"}, []string{"tier"})
	misses := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_misses_total"}, []string{"tier"})
	tiered.Instrument(hits, misses)
	ctx := context.Background()

	_, ok := tiered.Get(ctx, "absent")
	require.False(t, ok)

	require.NoError(t, tiered.Set(ctx, "k1", &Entry{Text: "a"}))
	_, ok = tiered.Get(ctx, "k1")
	require.True(t, ok)

	// Drop the local tier: the next read misses locally and hits Redis.
	tiered.local.Clear()
	_, ok = tiered.Get(ctx, "k1")
	require.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(hits.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(hits.WithLabelValues("redis")))
	assert.Equal(t, 2.0, testutil.ToFloat64(misses.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(misses.WithLabelValues("redis")))
}
