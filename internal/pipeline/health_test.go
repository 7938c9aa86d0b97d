package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"voicegate-server-go/internal/eventbus"
	"voicegate-server-go/internal/platform/logging"
)

var errBackend = errors.New("backend failed")

func record(h *HealthMonitor, backend string, calls, failures int) {
	for i := 0; i < calls-failures; i++ {
		h.Record(backend, nil)
	}
	for i := 0; i < failures; i++ {
		h.Record(backend, errBackend)
	}
}

func TestHealthHealthyUnderThreshold(t *testing.T) {
	h := NewHealthMonitor(HealthConfig{}, nil, logging.Discard())
	record(h, "recognition", 100, 5) // 5% < 10%
	h.Evaluate()

	snap := h.Snapshot()
	assert.Equal(t, HealthHealthy, snap.Overall)
	assert.Equal(t, HealthHealthy, snap.Backends["recognition"])
	assert.InDelta(t, 0.05, snap.Window["recognition"].Rate, 0.001)
}

func TestHealthDegradedBackend(t *testing.T) {
	h := NewHealthMonitor(HealthConfig{}, nil, logging.Discard())
	record(h, "recognition", 100, 15) // 15% > 10%
	record(h, "synthesis", 100, 0)
	h.Evaluate()

	snap := h.Snapshot()
	assert.Equal(t, HealthDegraded, snap.Backends["recognition"])
	assert.Equal(t, HealthHealthy, snap.Backends["synthesis"])
	// Aggregate 7.5% stays under the degraded threshold.
	assert.Equal(t, HealthHealthy, snap.Overall)
}

func TestHealthDownOnAggregateErrors(t *testing.T) {
	h := NewHealthMonitor(HealthConfig{}, nil, logging.Discard())
	record(h, "recognition", 100, 30)
	record(h, "generation", 100, 25)
	h.Evaluate()

	assert.Equal(t, HealthDown, h.Snapshot().Overall)
}

func TestHealthRecoversAfterCleanWindow(t *testing.T) {
	h := NewHealthMonitor(HealthConfig{}, nil, logging.Discard())
	record(h, "recognition", 10, 5)
	h.Evaluate()
	assert.Equal(t, HealthDegraded, h.Snapshot().Backends["recognition"])

	record(h, "recognition", 10, 0)
	h.Evaluate()
	assert.Equal(t, HealthHealthy, h.Snapshot().Backends["recognition"])
	assert.Equal(t, HealthHealthy, h.Snapshot().Overall)
}

func TestHealthQuietWindowKeepsStatus(t *testing.T) {
	h := NewHealthMonitor(HealthConfig{}, nil, logging.Discard())
	record(h, "recognition", 10, 4)
	h.Evaluate()
	prev := h.Snapshot().Backends["recognition"]

	// No traffic at all: nothing to judge, status holds.
	h.Evaluate()
	assert.Equal(t, prev, h.Snapshot().Backends["recognition"])
}

func TestHealthPublishesTransitions(t *testing.T) {
	bus := eventbus.New()
	got := make(chan eventbus.HealthChangedEvent, 4)
	_ = bus.SubscribeHealthChanged(func(ev eventbus.HealthChangedEvent) {
		got <- ev
	})

	h := NewHealthMonitor(HealthConfig{}, bus, logging.Discard())
	record(h, "recognition", 10, 5)
	h.Evaluate()

	select {
	case ev := <-got:
		assert.Equal(t, "recognition", ev.Backend)
		assert.Equal(t, string(HealthHealthy), ev.From)
		assert.Equal(t, string(HealthDegraded), ev.To)
	case <-time.After(2 * time.Second):
		t.Fatal("no health event published")
	}
}
