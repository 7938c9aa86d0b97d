package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	platformerrors "voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

// Config tunes one tiered cache instance.
type Config struct {
	// LocalMaxSize bounds the in-process tier.
	LocalMaxSize int
	// LocalTTL expires in-process entries.
	LocalTTL time.Duration
	// RedisTTL expires durable-tier entries. Pinned entries persist
	// without a TTL.
	RedisTTL time.Duration
	// Prefix namespaces keys in Redis, e.g. "vg:tts:".
	Prefix string
}

// Stats is a point-in-time snapshot across both tiers.
type Stats struct {
	LocalHits   uint64  `json:"local_hits"`
	RedisHits   uint64  `json:"redis_hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Entries     int     `json:"entries"`
	Bytes       int64   `json:"bytes"`
	Evictions   uint64  `json:"evictions"`
	RedisErrors uint64  `json:"redis_errors"`
}

// Tiered layers the in-process LRU over Redis. Reads check the local
// tier first and backfill it on a Redis hit; writes go to both tiers.
// Redis is optional: with a nil client the cache degrades to the local
// tier alone.
type Tiered struct {
	local  *LRU
	rdb    *redis.Client
	cfg    Config
	logger *logging.Logger

	localHits   atomic.Uint64
	redisHits   atomic.Uint64
	misses      atomic.Uint64
	redisErrors atomic.Uint64

	promHits   *prometheus.CounterVec
	promMisses *prometheus.CounterVec
}

func NewTiered(rdb *redis.Client, cfg Config, logger *logging.Logger) *Tiered {
	if cfg.Prefix == "" {
		cfg.Prefix = "vg:cache:"
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = cfg.RedisTTL
	}
	return &Tiered{
		local:  NewLRU(cfg.LocalMaxSize, cfg.LocalTTL),
		rdb:    rdb,
		cfg:    cfg,
		logger: logger,
	}
}

// Instrument attaches the per-tier prometheus counters. Call once at
// wiring time; a nil vec leaves that side uncounted.
func (t *Tiered) Instrument(hits, misses *prometheus.CounterVec) {
	t.promHits = hits
	t.promMisses = misses
}

func (t *Tiered) countHit(tier string) {
	if t.promHits != nil {
		t.promHits.WithLabelValues(tier).Inc()
	}
}

func (t *Tiered) countMiss(tier string) {
	if t.promMisses != nil {
		t.promMisses.WithLabelValues(tier).Inc()
	}
}

// Get is idempotent: repeated reads for the same key return the same
// payload without touching any backend.
func (t *Tiered) Get(ctx context.Context, key string) (*Entry, bool) {
	if entry, ok := t.local.Get(key); ok {
		t.localHits.Add(1)
		t.countHit("local")
		return entry, true
	}
	t.countMiss("local")

	if t.rdb != nil {
		data, err := t.rdb.Get(ctx, t.cfg.Prefix+key).Bytes()
		switch {
		case err == nil:
			var entry Entry
			if uerr := sonic.Unmarshal(data, &entry); uerr == nil {
				t.local.Set(key, &entry)
				t.redisHits.Add(1)
				t.countHit("redis")
				go t.incrementHitCount(context.WithoutCancel(ctx), key)
				return &entry, true
			}
			t.logger.WarnTag("CACHE", "undecodable redis entry dropped: %s", key)
		case errors.Is(err, redis.Nil):
			t.countMiss("redis")
		default:
			t.redisErrors.Add(1)
			t.logger.WarnTag("CACHE", "redis get failed: %v", err)
		}
	}

	t.misses.Add(1)
	return nil, false
}

// Set writes through to both tiers. A Redis failure is reported but the
// local write stands, so the entry still serves this process.
func (t *Tiered) Set(ctx context.Context, key string, entry *Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	t.local.Set(key, entry)

	if t.rdb == nil {
		return nil
	}
	data, err := sonic.Marshal(entry)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindCache, "cache.set", "encode entry", err)
	}
	ttl := t.cfg.RedisTTL
	if entry.Pinned {
		ttl = 0
	}
	if err := t.rdb.Set(ctx, t.cfg.Prefix+key, data, ttl).Err(); err != nil {
		t.redisErrors.Add(1)
		return platformerrors.Wrap(platformerrors.KindCache, "cache.set", "redis write", err)
	}
	return nil
}

func (t *Tiered) Delete(ctx context.Context, key string) error {
	t.local.Delete(key)
	if t.rdb == nil {
		return nil
	}
	if err := t.rdb.Del(ctx, t.cfg.Prefix+key).Err(); err != nil {
		return platformerrors.Wrap(platformerrors.KindCache, "cache.delete", "redis delete", err)
	}
	return nil
}

// Clear empties both tiers. The Redis side scans by prefix so other
// namespaces sharing the instance are untouched.
func (t *Tiered) Clear(ctx context.Context) error {
	t.local.Clear()
	if t.rdb == nil {
		return nil
	}

	iter := t.rdb.Scan(ctx, 0, t.cfg.Prefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 200 {
			if err := t.rdb.Del(ctx, keys...).Err(); err != nil {
				return platformerrors.Wrap(platformerrors.KindCache, "cache.clear", "redis delete batch", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return platformerrors.Wrap(platformerrors.KindCache, "cache.clear", "redis scan", err)
	}
	if len(keys) > 0 {
		if err := t.rdb.Del(ctx, keys...).Err(); err != nil {
			return platformerrors.Wrap(platformerrors.KindCache, "cache.clear", "redis delete batch", err)
		}
	}
	return nil
}

// Stats snapshots counters across both tiers.
func (t *Tiered) Stats() Stats {
	localHits := t.localHits.Load()
	redisHits := t.redisHits.Load()
	misses := t.misses.Load()

	var rate float64
	if total := localHits + redisHits + misses; total > 0 {
		rate = float64(localHits+redisHits) / float64(total)
	}

	return Stats{
		LocalHits:   localHits,
		RedisHits:   redisHits,
		Misses:      misses,
		HitRate:     rate,
		Entries:     t.local.Len(),
		Bytes:       t.local.Bytes(),
		Evictions:   t.local.Evictions(),
		RedisErrors: t.redisErrors.Load(),
	}
}

var hitCountScript = redis.NewScript(`
	local data = redis.call('GET', KEYS[1])
	if data then
		local entry = cjson.decode(data)
		entry.hit_count = (entry.hit_count or 0) + 1
		local ttl = redis.call('TTL', KEYS[1])
		if ttl > 0 then
			redis.call('SET', KEYS[1], cjson.encode(entry), 'EX', ttl)
		elseif ttl == -1 then
			redis.call('SET', KEYS[1], cjson.encode(entry))
		end
	end
	return 1
`)

func (t *Tiered) incrementHitCount(ctx context.Context, key string) {
	if err := hitCountScript.Run(ctx, t.rdb, []string{t.cfg.Prefix + key}).Err(); err != nil {
		t.logger.DebugTag("CACHE", "hit count update failed: %v", err)
	}
}
