package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingWindow_Percentiles(t *testing.T) {
	w := newRollingWindow(100)
	for i := 1; i <= 100; i++ {
		w.add(time.Duration(i) * time.Millisecond)
	}

	p := w.percentiles()
	assert.Equal(t, 50*time.Millisecond, p.P50)
	assert.Equal(t, 95*time.Millisecond, p.P95)
	assert.Equal(t, 99*time.Millisecond, p.P99)
}

func TestRollingWindow_Empty(t *testing.T) {
	w := newRollingWindow(16)
	assert.Equal(t, Percentiles{}, w.percentiles())
}

func TestRollingWindow_WrapsOldSamples(t *testing.T) {
	w := newRollingWindow(4)
	w.add(time.Hour) // pushed out once the ring wraps
	for i := 0; i < 4; i++ {
		w.add(time.Millisecond)
	}

	p := w.percentiles()
	assert.Equal(t, time.Millisecond, p.P99)
}

func TestRegistry_ObserveStage(t *testing.T) {
	r := NewRegistry()
	r.ObserveStage(StageRecognition, 150*time.Millisecond)
	r.ObserveStage(StageRecognition, 150*time.Millisecond)

	p := r.StagePercentiles(StageRecognition)
	assert.Equal(t, 150*time.Millisecond, p.P50)

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)

	found := false
	for _, fam := range families {
		if fam.GetName() == "voicegate_stage_seconds" {
			found = true
		}
	}
	assert.True(t, found, "stage histogram should be registered")
}
