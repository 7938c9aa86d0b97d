package audio

import (
	"fmt"
	"time"
)

// Format describes the PCM layout of a chunk's payload.
type Format struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

func (f Format) String() string {
	return fmt.Sprintf("pcm/%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitsPerSample)
}

// Valid reports whether the format can be interpreted at all. Only the
// layouts the converter understands are accepted; everything else is
// malformed input.
func (f Format) Valid() bool {
	if f.SampleRate < 8000 || f.SampleRate > 48000 {
		return false
	}
	if f.Channels != 1 && f.Channels != 2 {
		return false
	}
	return f.BitsPerSample == 8 || f.BitsPerSample == 16 || f.BitsPerSample == 32
}

// BytesPerFrame is the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitsPerSample / 8
}

// Chunk is the immutable unit of work flowing through the pipeline: one
// frame of call audio plus the metadata the orchestrator orders and
// times it by.
type Chunk struct {
	CallID    string
	Sequence  uint64
	Timestamp time.Time
	Format    Format
	Data      []byte
}

// Duration derives the play time of the chunk from its format.
func (c *Chunk) Duration() time.Duration {
	bpf := c.Format.BytesPerFrame()
	if bpf == 0 || c.Format.SampleRate == 0 {
		return 0
	}
	frames := len(c.Data) / bpf
	return time.Duration(frames) * time.Second / time.Duration(c.Format.SampleRate)
}

// WithData returns a copy of the chunk carrying new payload in a new
// format. The original chunk is never mutated; conditioners that rewrite
// audio produce successors instead.
func (c *Chunk) WithData(data []byte, format Format) *Chunk {
	return &Chunk{
		CallID:    c.CallID,
		Sequence:  c.Sequence,
		Timestamp: c.Timestamp,
		Format:    format,
		Data:      data,
	}
}
