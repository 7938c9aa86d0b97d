package recognition

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/backends"
	"voicegate-server-go/internal/backends/fake"
	"voicegate-server-go/internal/cache"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

func speechChunk(seq uint64, amp int16) *audio.Chunk {
	samples := testFormat.SampleRate / 10
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(amp))
	}
	return &audio.Chunk{CallID: "call-1", Sequence: seq, Format: testFormat, Data: data}
}

func newTestManager(t *testing.T, rec *fake.Recognizer, transcripts *cache.Tiered) *Manager {
	t.Helper()
	return NewManager(Config{
		SweepInterval:   time.Second,
		MaxDuration:     time.Minute,
		IdleTimeout:     30 * time.Second,
		PartialInterval: time.Hour, // partials disabled unless a test wants them
		Model:           "fake-1",
	}, rec.Transcribe, transcripts, nil, logging.Discard())
}

func TestManagerFinalTranscriptFlow(t *testing.T) {
	rec := fake.NewRecognizer(backends.TranscriptResult{Text: "hello there", Confidence: 0.9, Language: "en"})
	m := newTestManager(t, rec, nil)

	s, err := m.Start("call-1", testFormat)
	require.NoError(t, err)

	ctx := context.Background()
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, m.Feed(ctx, "call-1", speechChunk(i, 6000)))
	}

	final, err := m.Flush(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "hello there", final.Text)
	assert.True(t, final.Final)
	assert.False(t, final.Cached)
	assert.Equal(t, 0, final.Utterance)
	assert.Equal(t, 500*time.Millisecond, final.Duration)

	select {
	case got := <-s.Finals():
		assert.Equal(t, final.Text, got.Text)
	default:
		t.Fatal("final transcript not delivered on channel")
	}

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, "hello there", history[0].Text)
}

func TestManagerTranscriptCacheRoundTrip(t *testing.T) {
	rec := fake.NewRecognizer(backends.TranscriptResult{Text: "cached reply", Confidence: 0.9})
	transcripts := cache.NewTiered(nil, cache.Config{LocalMaxSize: 16, LocalTTL: time.Minute}, logging.Discard())
	m := newTestManager(t, rec, transcripts)

	ctx := context.Background()
	_, err := m.Start("call-1", testFormat)
	require.NoError(t, err)

	require.NoError(t, m.Feed(ctx, "call-1", speechChunk(1, 6000)))
	first, err := m.Flush(ctx, "call-1")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, int64(1), rec.Calls.Load())

	// Identical audio in a second utterance must be served from cache.
	require.NoError(t, m.Feed(ctx, "call-1", speechChunk(2, 6000)))
	second, err := m.Flush(ctx, "call-1")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "cached reply", second.Text)
	assert.Equal(t, int64(1), rec.Calls.Load(), "cache hit must not touch the backend")
	assert.Equal(t, 1, second.Utterance)
}

func TestManagerPartials(t *testing.T) {
	rec := fake.NewRecognizer()
	m := NewManager(Config{
		PartialInterval: 150 * time.Millisecond,
		Model:           "fake-1",
	}, rec.Transcribe, nil, nil, logging.Discard())

	s, err := m.Start("call-1", testFormat)
	require.NoError(t, err)

	ctx := context.Background()
	// 300ms of audio crosses the partial interval once.
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, m.Feed(ctx, "call-1", speechChunk(i, 6000)))
	}

	select {
	case p := <-s.Partials():
		assert.False(t, p.Final)
		assert.NotEmpty(t, p.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no partial transcript delivered")
	}
}

func TestManagerFlushEmptyBuffer(t *testing.T) {
	m := newTestManager(t, fake.NewRecognizer(), nil)
	_, err := m.Start("call-1", testFormat)
	require.NoError(t, err)

	_, err = m.Flush(context.Background(), "call-1")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInvalid))
}

func TestManagerUnknownCall(t *testing.T) {
	m := newTestManager(t, fake.NewRecognizer(), nil)
	err := m.Feed(context.Background(), "ghost", speechChunk(1, 100))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSession))
}

func TestManagerDuplicateStart(t *testing.T) {
	m := newTestManager(t, fake.NewRecognizer(), nil)
	_, err := m.Start("call-1", testFormat)
	require.NoError(t, err)
	_, err = m.Start("call-1", testFormat)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSession))
}

func TestManagerStopIsIdempotent(t *testing.T) {
	m := newTestManager(t, fake.NewRecognizer(), nil)
	s, err := m.Start("call-1", testFormat)
	require.NoError(t, err)

	m.Stop("call-1")
	m.Stop("call-1")

	_, open := <-s.Finals()
	assert.False(t, open, "finals channel closes on stop")
	assert.Equal(t, 0, m.Stats().ActiveSessions)
}

func TestManagerStopReturnsFinalHistory(t *testing.T) {
	rec := fake.NewRecognizer(
		backends.TranscriptResult{Text: "first utterance", Confidence: 0.9},
		backends.TranscriptResult{Text: "second utterance", Confidence: 0.9},
	)
	m := newTestManager(t, rec, nil)
	_, err := m.Start("call-1", testFormat)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Feed(ctx, "call-1", speechChunk(1, 6000)))
	_, err = m.Flush(ctx, "call-1")
	require.NoError(t, err)
	require.NoError(t, m.Feed(ctx, "call-1", speechChunk(2, 6000)))
	_, err = m.Flush(ctx, "call-1")
	require.NoError(t, err)

	history := m.Stop("call-1")
	require.Len(t, history, 2)
	assert.Equal(t, "first utterance", history[0].Text)
	assert.Equal(t, "second utterance", history[1].Text)

	assert.Nil(t, m.Stop("call-1"))
}

func TestManagerSweepStopsIdleSessions(t *testing.T) {
	rec := fake.NewRecognizer()
	m := NewManager(Config{
		SweepInterval:   10 * time.Millisecond,
		MaxDuration:     time.Minute,
		IdleTimeout:     20 * time.Millisecond,
		PartialInterval: time.Hour,
	}, rec.Transcribe, nil, nil, logging.Discard())

	_, err := m.Start("call-1", testFormat)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	m.sweep()

	stats := m.Stats()
	assert.Equal(t, 0, stats.ActiveSessions)
	assert.Equal(t, uint64(1), stats.SweptSessions)
}

func TestManagerDegradedInputCounted(t *testing.T) {
	m := newTestManager(t, fake.NewRecognizer(), nil)
	_, err := m.Start("call-1", testFormat)
	require.NoError(t, err)

	// Near-silence scores poorly.
	require.NoError(t, m.Feed(context.Background(), "call-1", speechChunk(1, 10)))
	assert.Equal(t, uint64(1), m.Stats().DegradedChunks)
}
