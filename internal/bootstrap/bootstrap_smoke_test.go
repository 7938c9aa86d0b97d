package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformconfig "voicegate-server-go/internal/platform/config"
	"voicegate-server-go/internal/platform/logging"
)

// fakeConfig selects the in-process fake backends so assembly needs no
// credentials and no network.
func fakeConfig() *platformconfig.Config {
	cfg := platformconfig.DefaultConfig()
	cfg.Selected = platformconfig.SelectedConfig{STT: "fake", TTS: "fake", Reply: "fake"}
	cfg.STT = map[string]platformconfig.BackendConfig{"fake": {Type: "fake"}}
	cfg.TTS = map[string]platformconfig.TTSBackendConfig{"fake": {Type: "fake"}}
	cfg.Reply = map[string]platformconfig.BackendConfig{"fake": {Type: "fake"}}
	cfg.QuickReply.Enabled = false
	return cfg
}

func TestSmokeAssemble(t *testing.T) {
	cfg := fakeConfig()
	require.NoError(t, cfg.Validate())

	state, err := assemble(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer state.close()

	assert.NotNil(t, state.engine)
	assert.NotNil(t, state.arena)
	assert.NotNil(t, state.wsServer)
	assert.NotNil(t, state.webServer)
	assert.NotNil(t, state.recMgr)
	assert.NotNil(t, state.synthMgr)
	assert.Nil(t, state.redis)
	assert.Equal(t, cfg.Pool.MinSize, state.sttPool.Idle())
	assert.Equal(t, cfg.Pool.MinSize, state.ttsPool.Idle())
}

func TestSmokeAssembleWithoutWeb(t *testing.T) {
	cfg := fakeConfig()
	cfg.Web.Enabled = false

	state, err := assemble(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer state.close()

	assert.Nil(t, state.webServer)
}

func TestSmokeAssembleUnknownBackendFails(t *testing.T) {
	cfg := fakeConfig()
	cfg.STT["fake"] = platformconfig.BackendConfig{Type: "nonexistent"}

	_, err := assemble(context.Background(), cfg, logging.Discard())
	require.Error(t, err)
}

func TestSmokeQuickReplyWarmup(t *testing.T) {
	cfg := fakeConfig()

	state, err := assemble(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer state.close()

	require.NoError(t, state.synthMgr.Warm(context.Background(),
		[]string{"Please hold for a moment."}))
	assert.Equal(t, 1, state.synthMgr.CacheStats().WarmEntries)
}
