package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyFinishDerivesOverhead(t *testing.T) {
	l := LatencyBreakdown{
		Preprocess:  10 * time.Millisecond,
		Recognition: 200 * time.Millisecond,
		Generation:  300 * time.Millisecond,
		Synthesis:   100 * time.Millisecond,
	}
	l.finish(700 * time.Millisecond)

	assert.Equal(t, 90*time.Millisecond, l.Overhead)
	assert.Equal(t, l.Total, l.Preprocess+l.Recognition+l.Generation+l.Synthesis+l.Overhead)
}

func TestLatencyFinishNeverNegative(t *testing.T) {
	l := LatencyBreakdown{Recognition: 500 * time.Millisecond}
	l.finish(400 * time.Millisecond)
	assert.Equal(t, time.Duration(0), l.Overhead)
}

func TestGradeTurnWeightsSumToOne(t *testing.T) {
	assert.InDelta(t, 1.0, weightConfidence+weightInput+weightLatency, 1e-9)
}

func TestGradeTurnComposite(t *testing.T) {
	q := gradeTurn(1.0, 1.0, 500*time.Millisecond)
	assert.InDelta(t, 1.0, q.Composite, 1e-9)

	q = gradeTurn(0, 0, 10*time.Second)
	assert.InDelta(t, 0.0, q.Composite, 1e-9)

	q = gradeTurn(0.5, 1.0, 3*time.Second)
	assert.InDelta(t, 0.5, q.LatencyScore, 1e-9)
	assert.InDelta(t, 0.4*0.5+0.3*1.0+0.3*0.5, q.Composite, 1e-9)
}

func TestGradeTurnClampsInputs(t *testing.T) {
	q := gradeTurn(1.7, -0.3, time.Millisecond)
	assert.Equal(t, 1.0, q.Confidence)
	assert.Equal(t, 0.0, q.InputQuality)
}
