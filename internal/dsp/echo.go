package dsp

import (
	"encoding/binary"
	"sync"
	"time"

	"voicegate-server-go/internal/audio"
)

// EchoSuppressor attenuates inbound audio while the server itself is
// speaking, preventing the synthesized reply from being fed back into
// recognition. This is far-end suppression rather than true AEC: the
// pipeline reports outbound playback via NotifyPlayback and the
// suppressor damps the microphone path for that span plus a tail.
type EchoSuppressor struct {
	mu           sync.Mutex
	playingUntil time.Time
	tail         time.Duration
	gain         float64
}

// NewEchoSuppressor builds a suppressor with a 250ms echo tail and 30%
// residual gain during playback.
func NewEchoSuppressor() *EchoSuppressor {
	return &EchoSuppressor{
		tail: 250 * time.Millisecond,
		gain: 0.3,
	}
}

func (es *EchoSuppressor) Name() string { return "echo_cancellation" }

// NotifyPlayback records that outbound audio of the given duration just
// started playing. Safe to call from the send path concurrently with
// Process on the receive path.
func (es *EchoSuppressor) NotifyPlayback(d time.Duration) {
	es.mu.Lock()
	defer es.mu.Unlock()
	until := time.Now().Add(d + es.tail)
	if until.After(es.playingUntil) {
		es.playingUntil = until
	}
}

func (es *EchoSuppressor) Process(chunk *audio.Chunk) (*audio.Chunk, error) {
	es.mu.Lock()
	active := time.Now().Before(es.playingUntil)
	es.mu.Unlock()

	if !active || len(chunk.Data) < 2 || chunk.Format.BitsPerSample != 16 {
		return chunk, nil
	}

	out := make([]byte, len(chunk.Data))
	copy(out, chunk.Data)
	n := len(out) / 2
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(out[i*2:]))
		s = int16(float64(s) * es.gain)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return chunk.WithData(out, chunk.Format), nil
}

func (es *EchoSuppressor) Reset() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.playingUntil = time.Time{}
}

func (es *EchoSuppressor) Destroy() {
	es.Reset()
}
