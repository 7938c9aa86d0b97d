package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func canonical() Format {
	return Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestConverter_PassthroughWhenCanonical(t *testing.T) {
	cv, err := NewConverter(canonical())
	require.NoError(t, err)

	chunk := &Chunk{CallID: "c1", Sequence: 1, Format: canonical(), Data: pcm16(1, 2, 3)}
	got, err := cv.Convert(chunk)
	require.NoError(t, err)
	assert.Same(t, chunk, got)
}

func TestConverter_DownmixesStereo(t *testing.T) {
	cv, err := NewConverter(canonical())
	require.NoError(t, err)

	src := Format{SampleRate: 16000, Channels: 2, BitsPerSample: 16}
	chunk := &Chunk{CallID: "c1", Format: src, Data: pcm16(100, 300, -100, -300)}

	got, err := cv.Convert(chunk)
	require.NoError(t, err)
	require.Equal(t, canonical(), got.Format)

	samples := decodeSamples(got.Data, got.Format)
	assert.Equal(t, []int16{200, -200}, samples)
}

func TestConverter_Widens8Bit(t *testing.T) {
	cv, err := NewConverter(canonical())
	require.NoError(t, err)

	src := Format{SampleRate: 16000, Channels: 1, BitsPerSample: 8}
	// 128 is silence in unsigned 8-bit PCM.
	chunk := &Chunk{CallID: "c1", Format: src, Data: []byte{128, 255, 0}}

	got, err := cv.Convert(chunk)
	require.NoError(t, err)

	samples := decodeSamples(got.Data, got.Format)
	require.Len(t, samples, 3)
	assert.Equal(t, int16(0), samples[0])
	assert.Positive(t, samples[1])
	assert.Negative(t, samples[2])
}

func TestConverter_ResamplesRate(t *testing.T) {
	cv, err := NewConverter(canonical())
	require.NoError(t, err)

	src := Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}
	chunk := &Chunk{CallID: "c1", Format: src, Data: pcm16(0, 1000, 2000, 3000)}

	got, err := cv.Convert(chunk)
	require.NoError(t, err)

	samples := decodeSamples(got.Data, got.Format)
	assert.Len(t, samples, 8)
	// Interpolated midpoints sit between their neighbours.
	assert.InDelta(t, 500, samples[1], 1)
}

func TestConverter_RejectsInvalidFormat(t *testing.T) {
	cv, err := NewConverter(canonical())
	require.NoError(t, err)

	chunk := &Chunk{Format: Format{SampleRate: 1, Channels: 7, BitsPerSample: 3}, Data: []byte{1}}
	_, err = cv.Convert(chunk)
	require.Error(t, err)
}

func TestNewConverter_RejectsNon16BitTarget(t *testing.T) {
	_, err := NewConverter(Format{SampleRate: 16000, Channels: 1, BitsPerSample: 8})
	require.Error(t, err)
}

func TestChunk_Duration(t *testing.T) {
	chunk := &Chunk{
		Format: canonical(),
		Data:   make([]byte, 16000*2), // one second of mono 16-bit at 16kHz
	}
	assert.Equal(t, time.Second, chunk.Duration())
}

func TestScoreQuality(t *testing.T) {
	silence := make([]byte, 640)
	loud := make([]byte, 640)
	for i := 0; i < len(loud)/2; i++ {
		binary.LittleEndian.PutUint16(loud[i*2:], uint16(int16(12000)))
	}

	qs := ScoreQuality(silence)
	ql := ScoreQuality(loud)

	assert.Zero(t, qs.RMS)
	assert.Greater(t, ql.RMS, qs.RMS)
	assert.Greater(t, ql.Score, qs.Score)
	assert.GreaterOrEqual(t, ql.Score, 0.0)
	assert.LessOrEqual(t, ql.Score, 1.0)
}
