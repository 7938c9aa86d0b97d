package pipeline

import (
	"context"
	"sync"
	"time"

	"voicegate-server-go/internal/eventbus"
	"voicegate-server-go/internal/platform/logging"
)

// HealthStatus of one backend or of the pipeline as a whole.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// HealthConfig tunes the evaluator.
type HealthConfig struct {
	// Interval between evaluations.
	Interval time.Duration
	// DegradedErrorRate marks a single backend degraded.
	DegradedErrorRate float64
	// DownErrorRate over all backends marks the pipeline down.
	DownErrorRate float64
}

func (c *HealthConfig) fillDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.DegradedErrorRate <= 0 {
		c.DegradedErrorRate = 0.10
	}
	if c.DownErrorRate <= 0 {
		c.DownErrorRate = 0.20
	}
}

// HealthSnapshot is what /healthz reports.
type HealthSnapshot struct {
	Overall  HealthStatus            `json:"overall"`
	Backends map[string]HealthStatus `json:"backends"`
	Window   map[string]WindowStats  `json:"window"`
}

// WindowStats are the raw counts behind a status decision.
type WindowStats struct {
	Calls  uint64  `json:"calls"`
	Errors uint64  `json:"errors"`
	Rate   float64 `json:"error_rate"`
}

type healthCounter struct {
	calls  uint64
	errors uint64
}

// HealthMonitor decides backend health from error rates over the
// current evaluation window. Counters reset each evaluation so an old
// outage does not pin a recovered backend at degraded.
type HealthMonitor struct {
	cfg    HealthConfig
	bus    *eventbus.Bus
	logger *logging.Logger

	mu       sync.Mutex
	window   map[string]*healthCounter
	statuses map[string]HealthStatus
	overall  HealthStatus
	last     map[string]WindowStats
}

func NewHealthMonitor(cfg HealthConfig, bus *eventbus.Bus, logger *logging.Logger) *HealthMonitor {
	cfg.fillDefaults()
	return &HealthMonitor{
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
		window:   make(map[string]*healthCounter),
		statuses: make(map[string]HealthStatus),
		overall:  HealthHealthy,
		last:     make(map[string]WindowStats),
	}
}

// Record notes one backend call outcome.
func (h *HealthMonitor) Record(backend string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.window[backend]
	if !ok {
		c = &healthCounter{}
		h.window[backend] = c
		if _, known := h.statuses[backend]; !known {
			h.statuses[backend] = HealthHealthy
		}
	}
	c.calls++
	if err != nil {
		c.errors++
	}
}

// Run evaluates on the configured interval until ctx ends.
func (h *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Evaluate()
		}
	}
}

// Evaluate closes the current window and updates statuses. A backend
// with no traffic in the window keeps its previous status.
func (h *HealthMonitor) Evaluate() {
	h.mu.Lock()

	var totalCalls, totalErrors uint64
	changes := make([]eventbus.HealthChangedEvent, 0, 2)
	for backend, c := range h.window {
		if c.calls == 0 {
			continue
		}
		rate := float64(c.errors) / float64(c.calls)
		totalCalls += c.calls
		totalErrors += c.errors
		h.last[backend] = WindowStats{Calls: c.calls, Errors: c.errors, Rate: rate}

		status := HealthHealthy
		if rate > h.cfg.DegradedErrorRate {
			status = HealthDegraded
		}
		if prev := h.statuses[backend]; prev != status {
			changes = append(changes, eventbus.HealthChangedEvent{
				Backend: backend,
				From:    string(prev),
				To:      string(status),
			})
			h.statuses[backend] = status
		}
		c.calls, c.errors = 0, 0
	}

	overall := HealthHealthy
	if totalCalls > 0 {
		aggregate := float64(totalErrors) / float64(totalCalls)
		switch {
		case aggregate > h.cfg.DownErrorRate:
			overall = HealthDown
		case aggregate > h.cfg.DegradedErrorRate:
			overall = HealthDegraded
		}
	} else {
		overall = h.overall
	}
	if overall != h.overall {
		changes = append(changes, eventbus.HealthChangedEvent{
			Backend: "pipeline",
			From:    string(h.overall),
			To:      string(overall),
		})
		h.overall = overall
	}
	h.mu.Unlock()

	for _, ev := range changes {
		h.logger.WarnTag("HEALTH", "%s: %s -> %s", ev.Backend, ev.From, ev.To)
		if h.bus != nil {
			h.bus.PublishHealthChanged(ev)
		}
	}
}

// Snapshot reports the statuses from the last completed evaluation.
func (h *HealthMonitor) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	backends := make(map[string]HealthStatus, len(h.statuses))
	for k, v := range h.statuses {
		backends[k] = v
	}
	window := make(map[string]WindowStats, len(h.last))
	for k, v := range h.last {
		window[k] = v
	}
	return HealthSnapshot{
		Overall:  h.overall,
		Backends: backends,
		Window:   window,
	}
}
