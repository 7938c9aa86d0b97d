package httptransport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/backends/fake"
	"voicegate-server-go/internal/cache"
	"voicegate-server-go/internal/callsession"
	"voicegate-server-go/internal/pipeline"
	"voicegate-server-go/internal/platform/logging"
	"voicegate-server-go/internal/platform/metrics"
	"voicegate-server-go/internal/recognition"
	"voicegate-server-go/internal/synthesis"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

type testFixture struct {
	router *Router
	arena  *callsession.Arena
	synth  *fake.Synthesizer
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	logger := logging.Discard()

	synth := fake.NewSynthesizer()
	recMgr := recognition.NewManager(recognition.Config{PartialInterval: time.Hour},
		fake.NewRecognizer().Transcribe, nil, nil, logger)
	store := cache.NewTiered(nil, cache.Config{LocalMaxSize: 64, LocalTTL: time.Minute}, logger)
	synthMgr := synthesis.NewManager(synthesis.Config{Workers: 2},
		synth.Synthesize, store, nil, logger)

	engine := pipeline.NewEngine(pipeline.Config{Format: testFormat},
		recMgr, synthMgr, fake.NewReplyGenerator().Reply,
		metrics.NewRegistry(),
		pipeline.NewHealthMonitor(pipeline.HealthConfig{}, nil, logger),
		nil, logger)

	arena := callsession.NewArena(callsession.Config{}, engine, logger)
	router := Build(Options{Logger: logger})
	NewService(arena, engine, logger).Register(router)

	return &testFixture{router: router, arena: arena, synth: synth}
}

func (f *testFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, w.Code)

	var resp healthResponse
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, pipeline.HealthHealthy, resp.Health.Overall)
	assert.Contains(t, resp.Stages, metrics.StageRecognition)
	assert.Equal(t, 0, resp.Sessions)
	assert.Positive(t, resp.System.Goroutines)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "voicegate_active_sessions")
}

func TestSessionListAndGet(t *testing.T) {
	f := newFixture(t)
	_, err := f.arena.Create("call-1", testFormat)
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "call-1")

	w = f.do(t, http.MethodGet, "/api/sessions/call-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"connecting"`)
}

func TestSessionGetUnknown(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/sessions/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionDelete(t *testing.T) {
	f := newFixture(t)
	_, err := f.arena.Create("call-1", testFormat)
	require.NoError(t, err)

	w := f.do(t, http.MethodDelete, "/api/sessions/call-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, f.arena.Len())

	w = f.do(t, http.MethodDelete, "/api/sessions/call-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCacheWarmAndClear(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/cache/warm", `{"phrases":["Please hold.","One moment."]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), f.synth.Calls.Load())

	w = f.do(t, http.MethodPost, "/api/cache/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCacheWarmRejectsEmptyBody(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/cache/warm", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/cache/warm", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
