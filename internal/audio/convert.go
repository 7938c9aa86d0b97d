package audio

import (
	"encoding/binary"

	platformerrors "voicegate-server-go/internal/platform/errors"
)

// Converter normalizes arbitrary inbound PCM layouts to the pipeline's
// canonical format. It is stateless and safe for concurrent use.
type Converter struct {
	target Format
}

// NewConverter builds a converter producing the given canonical format.
// The canonical format must be 16-bit; the rest of the pipeline reads
// samples as int16.
func NewConverter(target Format) (*Converter, error) {
	if !target.Valid() || target.BitsPerSample != 16 {
		return nil, platformerrors.New(platformerrors.KindConfig, "converter",
			"canonical format must be valid 16-bit PCM, got "+target.String())
	}
	return &Converter{target: target}, nil
}

// Target returns the canonical output format.
func (cv *Converter) Target() Format {
	return cv.target
}

// Convert rewrites the chunk into the canonical format: bit depth first,
// then channel downmix, then sample-rate conversion. A chunk already in
// the canonical format passes through untouched.
func (cv *Converter) Convert(chunk *Chunk) (*Chunk, error) {
	if chunk == nil || len(chunk.Data) == 0 {
		return chunk, nil
	}
	if !chunk.Format.Valid() {
		return nil, platformerrors.New(platformerrors.KindInvalid, "convert",
			"unsupported source format "+chunk.Format.String())
	}
	if chunk.Format == cv.target {
		return chunk, nil
	}

	samples := decodeSamples(chunk.Data, chunk.Format)

	if chunk.Format.Channels == 2 && cv.target.Channels == 1 {
		samples = downmixStereo(samples)
	}

	if chunk.Format.SampleRate != cv.target.SampleRate {
		samples = resampleLinear(samples, chunk.Format.SampleRate, cv.target.SampleRate)
	}

	return chunk.WithData(encodeSamples(samples), cv.target), nil
}

// decodeSamples widens any supported layout to int16 mono-interleaved.
func decodeSamples(data []byte, f Format) []int16 {
	switch f.BitsPerSample {
	case 8:
		// 8-bit PCM is unsigned by convention.
		out := make([]int16, len(data))
		for i, b := range data {
			out[i] = (int16(b) - 128) << 8
		}
		return out
	case 32:
		n := len(data) / 4
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(data[i*4:]))
			out[i] = int16(v >> 16)
		}
		return out
	default: // 16
		n := len(data) / 2
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		}
		return out
	}
}

func encodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func downmixStereo(samples []int16) []int16 {
	n := len(samples) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16((int32(samples[2*i]) + int32(samples[2*i+1])) / 2)
	}
	return out
}

// resampleLinear interpolates between neighbouring samples. Good enough
// for speech; the recognition backends tolerate far worse.
func resampleLinear(samples []int16, from, to int) []int16 {
	if from == to || len(samples) == 0 {
		return samples
	}
	outLen := len(samples) * to / from
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
