package synthesis

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"voicegate-server-go/internal/backends"
	"voicegate-server-go/internal/cache"
	"voicegate-server-go/internal/eventbus"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

// SynthesizeFunc is the synthesis backend as the manager sees it,
// breaker-wrapped by the bootstrap.
type SynthesizeFunc func(ctx context.Context, req backends.SynthesizeRequest) ([]byte, error)

// StreamFunc is the incremental form: emit receives each piece of audio
// as the backend renders it.
type StreamFunc func(ctx context.Context, req backends.SynthesizeRequest, emit func(chunk []byte) error) error

// Config tunes the synthesis manager.
type Config struct {
	// Workers bounds concurrent backend synthesis calls.
	Workers int
	// Timeout bounds one synthesis call end to end.
	Timeout time.Duration
	// Voice, Format, SampleRate, Rate, Pitch and Volume are the default
	// rendering parameters and part of every cache key.
	Voice      string
	Format     string
	SampleRate int
	Rate       string
	Pitch      string
	Volume     string
	// StreamChunkBytes is the playback chunk size for streaming
	// delivery.
	StreamChunkBytes int
	// ThrashEvictionRate is evictions per second above which a cache
	// thrashing event is published.
	ThrashEvictionRate float64
}

func (c *Config) fillDefaults() {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Voice == "" {
		c.Voice = "en-US-AriaNeural"
	}
	if c.Format == "" {
		c.Format = "pcm"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.StreamChunkBytes <= 0 {
		c.StreamChunkBytes = 3200 // 100ms of 16kHz mono 16-bit
	}
	if c.ThrashEvictionRate <= 0 {
		c.ThrashEvictionRate = 10
	}
}

// Result is one synthesis outcome.
type Result struct {
	Audio   []byte
	Cached  bool
	Key     string
	Elapsed time.Duration
}

// Stats snapshots manager counters on top of the cache's own.
type Stats struct {
	Requests      uint64      `json:"requests"`
	CacheHits     uint64      `json:"cache_hits"`
	Failures      uint64      `json:"failures"`
	ActiveStreams int         `json:"active_streams"`
	WarmEntries   int         `json:"warm_entries"`
	Cache         cache.Stats `json:"cache"`
}

// Manager renders reply text to audio with a two-tier cache in front of
// the backend and a bounded worker pool behind it.
type Manager struct {
	cfg        Config
	synthesize SynthesizeFunc
	stream     StreamFunc
	store      *cache.Tiered
	sem        *semaphore.Weighted
	bus        *eventbus.Bus
	logger     *logging.Logger

	mu      sync.Mutex
	streams map[string]*stream

	requests  atomic.Uint64
	cacheHits atomic.Uint64
	failures  atomic.Uint64
	warmCount atomic.Int64

	lastEvictions uint64
	lastEvictedAt time.Time
}

// NewManager builds the manager. bus may be nil to disable thrash
// notifications.
func NewManager(cfg Config, synthesize SynthesizeFunc, store *cache.Tiered, bus *eventbus.Bus, logger *logging.Logger) *Manager {
	cfg.fillDefaults()
	return &Manager{
		cfg:           cfg,
		synthesize:    synthesize,
		store:         store,
		sem:           semaphore.NewWeighted(int64(cfg.Workers)),
		bus:           bus,
		logger:        logger,
		streams:       make(map[string]*stream),
		lastEvictedAt: time.Now(),
	}
}

// SetStreamer installs incremental rendering for SynthesizeStream.
// Without one, streams chunk the fully rendered buffer instead. Call
// before traffic.
func (m *Manager) SetStreamer(fn StreamFunc) {
	m.stream = fn
}

func (m *Manager) request(text string) backends.SynthesizeRequest {
	return backends.SynthesizeRequest{
		Text:       text,
		Voice:      m.cfg.Voice,
		Format:     m.cfg.Format,
		SampleRate: m.cfg.SampleRate,
		Rate:       m.cfg.Rate,
		Pitch:      m.cfg.Pitch,
		Volume:     m.cfg.Volume,
	}
}

func (m *Manager) key(text string) string {
	return cache.SynthesisKey(text, cache.SynthesisParams{
		Voice:      m.cfg.Voice,
		Format:     m.cfg.Format,
		SampleRate: m.cfg.SampleRate,
		Rate:       m.cfg.Rate,
		Pitch:      m.cfg.Pitch,
		Volume:     m.cfg.Volume,
	})
}

// Synthesize renders text, serving from cache when the same text was
// rendered before with identical parameters.
func (m *Manager) Synthesize(ctx context.Context, text string) (*Result, error) {
	start := time.Now()
	m.requests.Add(1)

	if text == "" {
		return nil, errors.New(errors.KindInvalid, "synthesis", "empty text")
	}

	key := m.key(text)
	if entry, ok := m.store.Get(ctx, key); ok {
		m.cacheHits.Add(1)
		return &Result{Audio: entry.Audio, Cached: true, Key: key, Elapsed: time.Since(start)}, nil
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.failures.Add(1)
		return nil, errors.Wrap(errors.KindBusy, "synthesis", "worker pool saturated", err)
	}
	defer m.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	audio, err := m.synthesize(callCtx, m.request(text))
	if err != nil {
		m.failures.Add(1)
		return nil, err
	}

	m.writeBack(ctx, key, &cache.Entry{
		Audio:  audio,
		Text:   cache.NormalizeText(text),
		Voice:  m.cfg.Voice,
		Format: m.cfg.Format,
	})

	return &Result{Audio: audio, Cached: false, Key: key, Elapsed: time.Since(start)}, nil
}

// SynthesizeStream renders text and delivers it in playback-sized
// chunks. With a streamer installed, chunks go out as the backend
// produces them instead of after the full render. The stream ends early
// if StopStreaming is called for the call, which is how barge-in cuts
// the server off mid-sentence.
func (m *Manager) SynthesizeStream(ctx context.Context, callID, text string) (<-chan []byte, *Result, error) {
	if m.stream == nil {
		result, err := m.Synthesize(ctx, text)
		if err != nil {
			return nil, nil, err
		}
		out := m.openStream(ctx, callID, func(streamCtx context.Context, out chan<- []byte) {
			_ = m.deliver(streamCtx, out, result.Audio)
		})
		return out, result, nil
	}

	m.requests.Add(1)
	if text == "" {
		return nil, nil, errors.New(errors.KindInvalid, "synthesis", "empty text")
	}

	key := m.key(text)
	if entry, ok := m.store.Get(ctx, key); ok {
		m.cacheHits.Add(1)
		result := &Result{Audio: entry.Audio, Cached: true, Key: key}
		out := m.openStream(ctx, callID, func(streamCtx context.Context, out chan<- []byte) {
			_ = m.deliver(streamCtx, out, entry.Audio)
		})
		return out, result, nil
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.failures.Add(1)
		return nil, nil, errors.Wrap(errors.KindBusy, "synthesis", "worker pool saturated", err)
	}

	writeCtx := context.WithoutCancel(ctx)
	out := m.openStream(ctx, callID, func(streamCtx context.Context, out chan<- []byte) {
		defer m.sem.Release(1)
		callCtx, cancel := context.WithTimeout(streamCtx, m.cfg.Timeout)
		defer cancel()

		var rendered []byte
		err := m.stream(callCtx, m.request(text), func(chunk []byte) error {
			rendered = append(rendered, chunk...)
			return m.deliver(streamCtx, out, chunk)
		})
		if err != nil {
			if streamCtx.Err() != nil {
				// Barge-in or hangup, not a backend fault. The partial
				// render must not reach the cache.
				return
			}
			m.failures.Add(1)
			m.logger.WarnTag("TTS", "streaming synthesis failed: %v", err)
			return
		}
		m.writeBack(writeCtx, key, &cache.Entry{
			Audio:  rendered,
			Text:   cache.NormalizeText(text),
			Voice:  m.cfg.Voice,
			Format: m.cfg.Format,
		})
	})
	return out, &Result{Key: key}, nil
}

type stream struct {
	cancel context.CancelFunc
}

// openStream registers a cancellable delivery stream for the call,
// replacing any stream still running, and runs the producer on its own
// goroutine.
func (m *Manager) openStream(ctx context.Context, callID string, run func(context.Context, chan<- []byte)) <-chan []byte {
	streamCtx, cancel := context.WithCancel(ctx)
	st := &stream{cancel: cancel}
	m.mu.Lock()
	if prev, ok := m.streams[callID]; ok {
		prev.cancel()
	}
	m.streams[callID] = st
	m.mu.Unlock()

	out := make(chan []byte, 4)
	go func() {
		defer close(out)
		defer func() {
			cancel()
			m.mu.Lock()
			// A newer stream may have replaced this one; only remove
			// the entry this goroutine owns.
			if existing, ok := m.streams[callID]; ok && existing == st {
				delete(m.streams, callID)
			}
			m.mu.Unlock()
		}()
		run(streamCtx, out)
	}()
	return out
}

// deliver forwards audio in playback-sized chunks until done or the
// stream is cancelled.
func (m *Manager) deliver(ctx context.Context, out chan<- []byte, audio []byte) error {
	for offset := 0; offset < len(audio); offset += m.cfg.StreamChunkBytes {
		end := offset + m.cfg.StreamChunkBytes
		if end > len(audio) {
			end = len(audio)
		}
		chunk := append([]byte(nil), audio[offset:end]...)
		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// StopStreaming cancels the call's in-flight stream, if any.
func (m *Manager) StopStreaming(callID string) {
	m.mu.Lock()
	st, ok := m.streams[callID]
	if ok {
		delete(m.streams, callID)
	}
	m.mu.Unlock()
	if ok {
		st.cancel()
	}
}

// Warm precomputes the quick reply phrases as pinned cache entries.
// Pinned entries never expire and never fall to eviction, so the first
// caller of the day still gets a cache hit.
func (m *Manager) Warm(ctx context.Context, phrases []string) error {
	for _, text := range phrases {
		if text == "" {
			continue
		}
		key := m.key(text)
		if entry, ok := m.store.Get(ctx, key); ok && entry.Pinned {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		audio, err := m.synthesize(callCtx, m.request(text))
		cancel()
		if err != nil {
			return errors.Wrap(errors.KindBackend, "synthesis.warm", "precompute "+cache.NormalizeText(text), err)
		}

		if err := m.store.Set(ctx, key, &cache.Entry{
			Audio:  audio,
			Text:   cache.NormalizeText(text),
			Voice:  m.cfg.Voice,
			Format: m.cfg.Format,
			Pinned: true,
		}); err != nil {
			return err
		}
		m.warmCount.Add(1)
	}
	m.logger.InfoTag("TTS", "warmed %d phrases", m.warmCount.Load())
	return nil
}

// ClearCache drops every cached rendering, pinned warm phrases
// included. Exposed for the admin API; Warm can repopulate afterwards.
func (m *Manager) ClearCache(ctx context.Context) error {
	m.warmCount.Store(0)
	return m.store.Clear(ctx)
}

// CacheStats exposes combined manager and cache counters.
func (m *Manager) CacheStats() Stats {
	m.mu.Lock()
	active := len(m.streams)
	m.mu.Unlock()
	return Stats{
		Requests:      m.requests.Load(),
		CacheHits:     m.cacheHits.Load(),
		Failures:      m.failures.Load(),
		ActiveStreams: active,
		WarmEntries:   int(m.warmCount.Load()),
		Cache:         m.store.Stats(),
	}
}

func (m *Manager) writeBack(ctx context.Context, key string, entry *cache.Entry) {
	if err := m.store.Set(ctx, key, entry); err != nil {
		m.logger.WarnTag("TTS", "cache write failed: %v", err)
	}
	m.checkThrashing()
}

// checkThrashing publishes an event when the eviction rate since the
// last write suggests the local tier is too small for the working set.
func (m *Manager) checkThrashing() {
	if m.bus == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	evictions := m.store.Stats().Evictions
	elapsed := time.Since(m.lastEvictedAt).Seconds()
	if elapsed < 1 {
		return
	}
	rate := float64(evictions-m.lastEvictions) / elapsed
	m.lastEvictions = evictions
	m.lastEvictedAt = time.Now()

	if rate > m.cfg.ThrashEvictionRate {
		m.logger.WarnTag("TTS", "synthesis cache thrashing: %.1f evictions/s", rate)
		m.bus.PublishCacheThrashing(eventbus.CacheThrashingEvent{
			Cache:        "synthesis",
			EvictionRate: rate,
		})
	}
}
