package recognition

import (
	"time"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/backends"
)

// Transcript is one recognition result delivered to the pipeline.
// Partial transcripts are advisory and may be revised; a final
// transcript closes the utterance and enters the call history.
type Transcript struct {
	CallID     string        `json:"call_id"`
	Utterance  int           `json:"utterance"`
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	Language   string        `json:"language,omitempty"`
	Final      bool          `json:"final"`
	Cached     bool          `json:"cached"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ConfidenceFunc folds the backend's own confidence and the measured
// input quality into the reported score. Pluggable so deployments can
// weight their own telephony conditions.
type ConfidenceFunc func(result *backends.TranscriptResult, quality audio.QualityScore) float64

// DefaultConfidence leans on the backend score and dampens it when the
// input audio was poor.
func DefaultConfidence(result *backends.TranscriptResult, quality audio.QualityScore) float64 {
	score := 0.8*result.Confidence + 0.2*quality.Score
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
