package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_UnmarshalForms(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte("1500ms"), &d))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	require.NoError(t, yaml.Unmarshal([]byte("2000000000"), &d))
	assert.Equal(t, 2*time.Second, d.Std())

	require.Error(t, yaml.Unmarshal([]byte("soon"), &d))
}

func TestLoader_DefaultsWhenFileMissing(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).WithDotEnv(false)

	result, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, result.Config.Session.HeartbeatInterval.Std())
	assert.Equal(t, 10, result.Config.Synthesis.Workers)
	assert.Equal(t, 5, result.Config.Breaker.Threshold)
	assert.Equal(t, 0.10, result.Config.Health.DegradedErrorRate)
}

func TestLoader_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
synthesis:
  workers: 4
session:
  heartbeat_interval: 15s
vad:
  window_size: 20
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	result, err := NewLoader(path).WithDotEnv(false).Load()
	require.NoError(t, err)

	assert.Equal(t, 4, result.Config.Synthesis.Workers)
	assert.Equal(t, 15*time.Second, result.Config.Session.HeartbeatInterval.Std())
	assert.Equal(t, 20, result.Config.VAD.WindowSize)
	// Untouched fields keep defaults.
	assert.Equal(t, 5*time.Second, result.Config.Recognition.TurnTimeout.Std())
}

func TestLoader_EnvOverridesCredentials(t *testing.T) {
	t.Setenv("VG_OPENAI_API_KEY", "sk-test")
	t.Setenv("VG_REDIS_ADDR", "10.0.0.1:6379")

	result, err := NewLoader("").WithDotEnv(false).Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", result.Config.STT["openai"].APIKey)
	assert.Equal(t, "sk-test", result.Config.Reply["openai"].APIKey)
	assert.True(t, result.Config.Cache.Redis.Enabled)
	assert.Equal(t, "10.0.0.1:6379", result.Config.Cache.Redis.Addr)
}

func TestConfig_ValidateRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Selected.STT = "missing"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestConfig_ValidateRejectsBadHealthRates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Health.DegradedErrorRate = 0.5
	cfg.Health.DownErrorRate = 0.2

	require.Error(t, cfg.Validate())
}
