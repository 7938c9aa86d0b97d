package callsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/backends/fake"
	"voicegate-server-go/internal/cache"
	"voicegate-server-go/internal/pipeline"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
	"voicegate-server-go/internal/platform/metrics"
	"voicegate-server-go/internal/recognition"
	"voicegate-server-go/internal/synthesis"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

func newTestEngine(t *testing.T) *pipeline.Engine {
	t.Helper()
	logger := logging.Discard()
	recMgr := recognition.NewManager(recognition.Config{PartialInterval: time.Hour},
		fake.NewRecognizer().Transcribe, nil, nil, logger)
	store := cache.NewTiered(nil, cache.Config{LocalMaxSize: 16, LocalTTL: time.Minute}, logger)
	synthMgr := synthesis.NewManager(synthesis.Config{}, fake.NewSynthesizer().Synthesize, store, nil, logger)
	return pipeline.NewEngine(pipeline.Config{Format: testFormat},
		recMgr, synthMgr, fake.NewReplyGenerator().Reply,
		metrics.NewRegistry(), pipeline.NewHealthMonitor(pipeline.HealthConfig{}, nil, logger),
		nil, logger)
}

func newTestArena(t *testing.T, cfg Config) *Arena {
	t.Helper()
	return NewArena(cfg, newTestEngine(t), logging.Discard())
}

func silenceChunk(seq uint64) *audio.Chunk {
	return &audio.Chunk{CallID: "call-1", Sequence: seq, Format: testFormat, Data: make([]byte, 320)}
}

func TestSessionLifecycle(t *testing.T) {
	a := newTestArena(t, Config{})
	s, err := a.Create("call-1", testFormat)
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, s.State())

	require.NoError(t, s.Initialize())
	assert.Equal(t, StateInitialized, s.State())
	require.NoError(t, s.Activate())
	assert.Equal(t, StateActive, s.State())

	a.Close("call-1", "hangup")
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, a.Len())
}

func TestChunksRejectedBeforeActive(t *testing.T) {
	a := newTestArena(t, Config{})
	s, err := a.Create("call-1", testFormat)
	require.NoError(t, err)

	err = s.Process(context.Background(), silenceChunk(1))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSession))
	assert.Contains(t, err.Error(), "session not ready")

	require.NoError(t, s.Initialize())
	require.NoError(t, s.Activate())
	assert.NoError(t, s.Process(context.Background(), silenceChunk(1)))
}

func TestInvalidTransitionRejected(t *testing.T) {
	a := newTestArena(t, Config{})
	s, err := a.Create("call-1", testFormat)
	require.NoError(t, err)

	err = s.Activate() // connecting -> active skips initialized
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSession))
}

func TestDuplicateCallID(t *testing.T) {
	a := newTestArena(t, Config{})
	_, err := a.Create("call-1", testFormat)
	require.NoError(t, err)
	_, err = a.Create("call-1", testFormat)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSession))
}

func TestSessionLimit(t *testing.T) {
	a := newTestArena(t, Config{MaxSessions: 1})
	_, err := a.Create("call-1", testFormat)
	require.NoError(t, err)
	_, err = a.Create("call-2", testFormat)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindBusy))
}

func TestReconnectWithinGrace(t *testing.T) {
	a := newTestArena(t, Config{ReconnectGrace: time.Minute})
	s, err := a.Create("call-1", testFormat)
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Activate())

	a.Detach("call-1")
	assert.Equal(t, StateDraining, s.State())

	resumed, err := a.Attach("call-1")
	require.NoError(t, err)
	assert.Same(t, s, resumed)
	assert.Equal(t, StateActive, resumed.State())
	assert.NoError(t, resumed.Process(context.Background(), silenceChunk(1)))
}

func TestReconnectAfterGraceExpired(t *testing.T) {
	a := newTestArena(t, Config{ReconnectGrace: 10 * time.Millisecond})
	s, err := a.Create("call-1", testFormat)
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Activate())

	a.Detach("call-1")
	time.Sleep(30 * time.Millisecond)

	_, err = a.Attach("call-1")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSession))
}

func TestSweepHeartbeatTimeout(t *testing.T) {
	a := newTestArena(t, Config{HeartbeatInterval: 10 * time.Millisecond})
	s, err := a.Create("call-1", testFormat)
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Activate())

	time.Sleep(30 * time.Millisecond)
	a.sweep()

	assert.Equal(t, 0, a.Len())
	assert.Equal(t, StateClosed, s.State())
}

func TestSweepClosesAfterOneMissedInterval(t *testing.T) {
	a := newTestArena(t, Config{HeartbeatInterval: 60 * time.Millisecond})
	s, err := a.Create("call-1", testFormat)
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Activate())

	// Silence for 1.5 intervals: one missed heartbeat is enough.
	time.Sleep(90 * time.Millisecond)
	a.sweep()

	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, a.Len())
}

func TestSweepSparesHeartbeatingSession(t *testing.T) {
	a := newTestArena(t, Config{HeartbeatInterval: 20 * time.Millisecond})
	s, err := a.Create("call-1", testFormat)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)
	s.Heartbeat()
	a.sweep()
	assert.Equal(t, 1, a.Len())
}

func TestSweepExpiredGrace(t *testing.T) {
	a := newTestArena(t, Config{ReconnectGrace: 10 * time.Millisecond})
	s, err := a.Create("call-1", testFormat)
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Activate())

	a.Detach("call-1")
	time.Sleep(30 * time.Millisecond)
	a.sweep()

	assert.Equal(t, 0, a.Len())
	assert.Equal(t, StateClosed, s.State())
}

func TestFailRecordsCause(t *testing.T) {
	a := newTestArena(t, Config{})
	s, err := a.Create("call-1", testFormat)
	require.NoError(t, err)

	cause := errors.New(errors.KindTransport, "test", "socket reset")
	a.Fail("call-1", cause)

	assert.Equal(t, StateError, s.State())
	assert.Equal(t, cause, s.Err())
	assert.Equal(t, 0, a.Len())
}

func TestListSnapshots(t *testing.T) {
	a := newTestArena(t, Config{})
	_, err := a.Create("call-1", testFormat)
	require.NoError(t, err)
	_, err = a.Create("call-2", testFormat)
	require.NoError(t, err)

	snaps := a.List()
	assert.Len(t, snaps, 2)
	for _, snap := range snaps {
		assert.Equal(t, StateConnecting, snap.State)
		assert.True(t, snap.Attached)
	}
}
