package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stage labels used across counters and histograms. Keeping them as
// constants prevents label-cardinality drift between packages.
const (
	StagePreprocess  = "preprocess"
	StageRecognition = "recognition"
	StageGeneration  = "generation"
	StageSynthesis   = "synthesis"
)

// Registry owns every prometheus instrument the pipeline emits plus the
// in-process rolling windows backing the health endpoint percentiles.
type Registry struct {
	prom *prometheus.Registry

	ChunksTotal    *prometheus.CounterVec
	StageSeconds   *prometheus.HistogramVec
	StageErrors    *prometheus.CounterVec
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	BreakerState   *prometheus.GaugeVec
	ActiveSessions prometheus.Gauge
	TurnsTotal     prometheus.Counter

	mu      sync.RWMutex
	windows map[string]*rollingWindow
}

// NewRegistry builds and registers all pipeline instruments.
func NewRegistry() *Registry {
	r := &Registry{
		prom:    prometheus.NewRegistry(),
		windows: make(map[string]*rollingWindow),
	}

	r.ChunksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_chunks_total",
		Help: "Audio chunks seen per outcome.",
	}, []string{"outcome"})

	r.StageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voicegate_stage_seconds",
		Help:    "Per-stage processing latency.",
		Buckets: []float64{.005, .01, .025, .05, .1, .15, .25, .5, 1, 2.5, 5},
	}, []string{"stage"})

	r.StageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_stage_errors_total",
		Help: "Stage failures per stage.",
	}, []string{"stage"})

	r.CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_cache_hits_total",
		Help: "Cache hits per tier.",
	}, []string{"tier"})

	r.CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_cache_misses_total",
		Help: "Cache misses per tier.",
	}, []string{"tier"})

	r.BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicegate_breaker_state",
		Help: "Circuit breaker state per backend (0=closed,1=open,2=half-open).",
	}, []string{"backend"})

	r.ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voicegate_active_sessions",
		Help: "Currently active call sessions.",
	})

	r.TurnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_turns_total",
		Help: "Completed conversational turns.",
	})

	r.prom.MustRegister(
		r.ChunksTotal, r.StageSeconds, r.StageErrors,
		r.CacheHits, r.CacheMisses, r.BreakerState,
		r.ActiveSessions, r.TurnsTotal,
	)

	return r
}

// Gatherer exposes the underlying registry for the /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prom
}

// ObserveStage records a stage latency sample into both the prometheus
// histogram and the rolling window feeding health percentiles.
func (r *Registry) ObserveStage(stage string, d time.Duration) {
	r.StageSeconds.WithLabelValues(stage).Observe(d.Seconds())
	r.window(stage).add(d)
}

// StagePercentiles returns p50/p95/p99 over the recent window for a stage.
func (r *Registry) StagePercentiles(stage string) Percentiles {
	return r.window(stage).percentiles()
}

func (r *Registry) window(stage string) *rollingWindow {
	r.mu.RLock()
	w, ok := r.windows[stage]
	r.mu.RUnlock()
	if ok {
		return w
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok = r.windows[stage]; ok {
		return w
	}
	w = newRollingWindow(512)
	r.windows[stage] = w
	return w
}

// Percentiles is the snapshot surfaced on the health endpoint.
type Percentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}

// rollingWindow keeps the most recent N samples in a ring. Percentile
// queries copy and sort; the window is small enough that this stays off
// any hot path.
type rollingWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{samples: make([]time.Duration, size)}
}

func (w *rollingWindow) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

func (w *rollingWindow) percentiles() Percentiles {
	w.mu.Lock()
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	snapshot := make([]time.Duration, n)
	copy(snapshot, w.samples[:n])
	w.mu.Unlock()

	if n == 0 {
		return Percentiles{}
	}

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i] < snapshot[j] })
	return Percentiles{
		P50: snapshot[rank(n, 0.50)],
		P95: snapshot[rank(n, 0.95)],
		P99: snapshot[rank(n, 0.99)],
	}
}

func rank(n int, q float64) int {
	idx := int(float64(n)*q) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}
