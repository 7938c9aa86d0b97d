package dsp

import (
	"encoding/binary"
	"math"
	"time"

	"voicegate-server-go/internal/audio"
)

// BoundaryKind identifies a VAD segmentation event.
type BoundaryKind string

const (
	SpeechStart BoundaryKind = "speech_start"
	SpeechEnd   BoundaryKind = "speech_end"
)

// Boundary marks a speech/silence transition at a stream position.
type Boundary struct {
	Kind     BoundaryKind
	Offset   time.Duration
	Sequence uint64
}

// VADConfig tunes the energy detector.
type VADConfig struct {
	// WindowSize is the length of the exponential smoothing window in
	// chunks.
	WindowSize int
	// EnergyThreshold is the smoothed-RMS level separating speech from
	// silence, on normalized [0,1] samples.
	EnergyThreshold float64
	// MinSpeechDuration is how long energy must stay above threshold
	// before a SpeechStart is emitted.
	MinSpeechDuration time.Duration
	// MaxSilenceDuration is how long energy must stay below threshold
	// before a SpeechEnd is emitted.
	MaxSilenceDuration time.Duration
}

// VAD segments call audio into speech and silence by tracking an
// exponentially smoothed energy estimate. Stream position is derived from
// chunk durations, not wall clock, so detection is deterministic for a
// given input.
type VAD struct {
	cfg   VADConfig
	alpha float64

	smoothed   float64
	primed     bool
	inSpeech   bool
	aboveSince time.Duration
	belowSince time.Duration
	hasAbove   bool
	hasBelow   bool
	position   time.Duration

	pending []Boundary
}

// NewVAD builds a detector with defaults filled in for zero fields.
func NewVAD(cfg VADConfig) *VAD {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = 0.02
	}
	if cfg.MinSpeechDuration <= 0 {
		cfg.MinSpeechDuration = 200 * time.Millisecond
	}
	if cfg.MaxSilenceDuration <= 0 {
		cfg.MaxSilenceDuration = 1000 * time.Millisecond
	}
	return &VAD{
		cfg:   cfg,
		alpha: 2.0 / (float64(cfg.WindowSize) + 1),
	}
}

func (v *VAD) Name() string { return "vad" }

// Process updates the energy estimate and queues boundary events. The
// chunk itself passes through unmodified.
func (v *VAD) Process(chunk *audio.Chunk) (*audio.Chunk, error) {
	if chunk.Format.BitsPerSample != 16 {
		return chunk, nil
	}
	energy := chunkRMS(chunk.Data)
	if !v.primed {
		v.smoothed = energy
		v.primed = true
	} else {
		v.smoothed = v.smoothed + v.alpha*(energy-v.smoothed)
	}

	start := v.position
	v.position += chunk.Duration()

	if v.smoothed >= v.cfg.EnergyThreshold {
		v.hasBelow = false
		if !v.hasAbove {
			v.hasAbove = true
			v.aboveSince = start
		}
		if !v.inSpeech && v.position-v.aboveSince >= v.cfg.MinSpeechDuration {
			v.inSpeech = true
			v.pending = append(v.pending, Boundary{
				Kind:     SpeechStart,
				Offset:   v.aboveSince,
				Sequence: chunk.Sequence,
			})
		}
	} else {
		v.hasAbove = false
		if !v.hasBelow {
			v.hasBelow = true
			v.belowSince = start
		}
		if v.inSpeech && v.position-v.belowSince >= v.cfg.MaxSilenceDuration {
			v.inSpeech = false
			v.pending = append(v.pending, Boundary{
				Kind:     SpeechEnd,
				Offset:   v.belowSince,
				Sequence: chunk.Sequence,
			})
		}
	}

	return chunk, nil
}

// TakeBoundaries drains queued segmentation events. The orchestrator
// calls this after each chain pass to decide when to flush buffered
// audio to recognition.
func (v *VAD) TakeBoundaries() []Boundary {
	if len(v.pending) == 0 {
		return nil
	}
	out := v.pending
	v.pending = nil
	return out
}

// InSpeech reports whether the detector currently considers the caller
// to be speaking.
func (v *VAD) InSpeech() bool {
	return v.inSpeech
}

func (v *VAD) Reset() {
	v.smoothed = 0
	v.primed = false
	v.inSpeech = false
	v.hasAbove = false
	v.hasBelow = false
	v.position = 0
	v.pending = nil
}

func (v *VAD) Destroy() {
	v.Reset()
}

func chunkRMS(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
