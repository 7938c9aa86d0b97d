package dsp

import (
	"encoding/binary"
	"math"

	"voicegate-server-go/internal/audio"
)

// NoiseReducer is a best-effort noise gate. It tracks the noise floor
// with a slow-rising minimum estimator and attenuates samples whose
// magnitude sits near that floor. It is an approximation, not a spectral
// denoiser; its job is to keep hum and line noise out of the VAD energy
// estimate.
type NoiseReducer struct {
	floor      float64
	primed     bool
	riseRate   float64
	gateGain   float64
	gateFactor float64
}

// NewNoiseReducer builds a gate with conservative defaults: the floor
// adapts slowly upward, instantly downward; samples within 2x of the
// floor are attenuated to 20%.
func NewNoiseReducer() *NoiseReducer {
	return &NoiseReducer{
		riseRate:   0.005,
		gateGain:   0.2,
		gateFactor: 2.0,
	}
}

func (nr *NoiseReducer) Name() string { return "noise_reduction" }

func (nr *NoiseReducer) Process(chunk *audio.Chunk) (*audio.Chunk, error) {
	// DSP stages read int16; other layouts pass through until the format
	// conditioner at the end of the chain normalizes them.
	if chunk.Format.BitsPerSample != 16 {
		return chunk, nil
	}
	n := len(chunk.Data) / 2
	if n == 0 {
		return chunk, nil
	}

	rms := chunkRMS(chunk.Data)
	if !nr.primed {
		nr.floor = rms
		nr.primed = true
	} else if rms < nr.floor {
		nr.floor = rms
	} else {
		nr.floor += nr.riseRate * (rms - nr.floor)
	}

	gate := nr.floor * nr.gateFactor
	if gate <= 0 {
		return chunk, nil
	}

	out := make([]byte, len(chunk.Data))
	copy(out, chunk.Data)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(out[i*2:]))
		mag := math.Abs(float64(s)) / 32768.0
		if mag < gate {
			s = int16(float64(s) * nr.gateGain)
			binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
		}
	}

	return chunk.WithData(out, chunk.Format), nil
}

func (nr *NoiseReducer) Reset() {
	nr.floor = 0
	nr.primed = false
}

func (nr *NoiseReducer) Destroy() {
	nr.Reset()
}
