package pipeline

import (
	"time"
)

// LatencyBreakdown accounts for one turn from detected end of speech to
// synthesized audio ready. Overhead is everything the named stages do
// not explain: queueing, channel handoffs, cache serialization.
type LatencyBreakdown struct {
	Preprocess  time.Duration `json:"preprocess"`
	Recognition time.Duration `json:"recognition"`
	Generation  time.Duration `json:"generation"`
	Synthesis   time.Duration `json:"synthesis"`
	Overhead    time.Duration `json:"overhead"`
	Total       time.Duration `json:"total"`
}

// finish derives Overhead so that the stages and overhead always sum to
// Total. Clock skew between stage timers must not produce a negative
// overhead.
func (l *LatencyBreakdown) finish(total time.Duration) {
	l.Total = total
	staged := l.Preprocess + l.Recognition + l.Generation + l.Synthesis
	if total > staged {
		l.Overhead = total - staged
	} else {
		l.Overhead = 0
	}
}

// Quality weights. They sum to 1.0; the composite is a convex blend.
const (
	weightConfidence = 0.4
	weightInput      = 0.3
	weightLatency    = 0.3

	latencyGoodBelow = 1 * time.Second
	latencyBadAbove  = 5 * time.Second
)

// QualityMetrics grades one turn for operators: how sure recognition
// was, how clean the input audio was, and how fast the round trip felt.
type QualityMetrics struct {
	Confidence   float64 `json:"confidence"`
	InputQuality float64 `json:"input_quality"`
	LatencyScore float64 `json:"latency_score"`
	Composite    float64 `json:"composite"`
}

func gradeTurn(confidence, inputQuality float64, total time.Duration) QualityMetrics {
	q := QualityMetrics{
		Confidence:   clamp01(confidence),
		InputQuality: clamp01(inputQuality),
		LatencyScore: latencyScore(total),
	}
	q.Composite = weightConfidence*q.Confidence + weightInput*q.InputQuality + weightLatency*q.LatencyScore
	return q
}

// latencyScore maps turn latency onto [0,1]: anything within a second
// feels instant on a phone line, anything past five seconds feels dead.
func latencyScore(total time.Duration) float64 {
	if total <= latencyGoodBelow {
		return 1
	}
	if total >= latencyBadAbove {
		return 0
	}
	span := float64(latencyBadAbove - latencyGoodBelow)
	return 1 - float64(total-latencyGoodBelow)/span
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
