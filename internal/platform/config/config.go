package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	platformerrors "voicegate-server-go/internal/platform/errors"
)

// Duration wraps time.Duration so YAML accepts "30s" style strings as
// well as bare nanosecond integers.
type Duration time.Duration

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return platformerrors.New(platformerrors.KindConfig, "duration",
			fmt.Sprintf("cannot parse %q as duration", value.Value))
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "duration",
			"cannot parse "+asString, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Server      ServerConfig                `yaml:"server"`
	Log         LogConfig                   `yaml:"log"`
	Web         WebConfig                   `yaml:"web"`
	Transport   TransportConfig             `yaml:"transport"`
	Session     SessionConfig               `yaml:"session"`
	Audio       AudioConfig                 `yaml:"audio"`
	VAD         VADConfig                   `yaml:"vad"`
	Recognition RecognitionConfig           `yaml:"recognition"`
	Synthesis   SynthesisConfig             `yaml:"synthesis"`
	Generation  GenerationConfig            `yaml:"generation"`
	Cache       CacheConfig                 `yaml:"cache"`
	Breaker     BreakerConfig               `yaml:"breaker"`
	Health      HealthConfig                `yaml:"health"`
	Pool        PoolConfig                  `yaml:"pool_config"`
	QuickReply  QuickReplyConfig            `yaml:"quick_reply"`
	Selected    SelectedConfig              `yaml:"selected_backends"`
	STT         map[string]BackendConfig    `yaml:"STT"`
	TTS         map[string]TTSBackendConfig `yaml:"TTS"`
	Reply       map[string]BackendConfig    `yaml:"Reply"`
}

type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
}

// WebConfig covers the HTTP control/diagnostic surface.
type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type TransportConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type WebSocketConfig struct {
	IP               string   `yaml:"ip"`
	Port             int      `yaml:"port"`
	Path             string   `yaml:"path"`
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
}

// SessionConfig controls the per-call lifecycle state machine.
type SessionConfig struct {
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	ReconnectGrace    Duration `yaml:"reconnect_grace"`
	MaxSessions       int      `yaml:"max_sessions"`
	SweepInterval     Duration `yaml:"sweep_interval"`
}

// AudioConfig describes the canonical PCM format every chunk is
// normalized to before conditioning.
type AudioConfig struct {
	SampleRate    int `yaml:"sample_rate"`
	Channels      int `yaml:"channels"`
	BitsPerSample int `yaml:"bits_per_sample"`
}

type VADConfig struct {
	WindowSize         int      `yaml:"window_size"`
	EnergyThreshold    float64  `yaml:"energy_threshold"`
	MinSpeechDuration  Duration `yaml:"min_speech_duration"`
	MaxSilenceDuration Duration `yaml:"max_silence_duration"`
	ConditionerBudget  Duration `yaml:"conditioner_budget"`
}

type RecognitionConfig struct {
	TurnTimeout      Duration `yaml:"turn_timeout"`
	SweepInterval    Duration `yaml:"sweep_interval"`
	MaxDuration      Duration `yaml:"max_duration"`
	IdleTimeout      Duration `yaml:"idle_timeout"`
	QualityThreshold float64  `yaml:"quality_threshold"`
	PartialInterval  Duration `yaml:"partial_interval"`
	Language         string   `yaml:"language"`
}

type SynthesisConfig struct {
	Workers    int      `yaml:"workers"`
	Timeout    Duration `yaml:"timeout"`
	Voice      string   `yaml:"voice"`
	Format     string   `yaml:"format"`
	SampleRate int      `yaml:"sample_rate"`
}

type GenerationConfig struct {
	Timeout Duration `yaml:"timeout"`
}

type CacheConfig struct {
	LocalMaxSize  int         `yaml:"local_max_size"`
	SynthesisTTL  Duration    `yaml:"synthesis_ttl"`
	TranscriptTTL Duration    `yaml:"transcript_ttl"`
	Redis         RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type BreakerConfig struct {
	Threshold    int      `yaml:"threshold"`
	ResetTimeout Duration `yaml:"reset_timeout"`
}

type HealthConfig struct {
	Interval          Duration `yaml:"interval"`
	DegradedErrorRate float64  `yaml:"degraded_error_rate"`
	DownErrorRate     float64  `yaml:"down_error_rate"`
}

// PoolConfig bounds the backend provider pools shared across sessions.
type PoolConfig struct {
	MinSize       int      `yaml:"pool_min_size"`
	MaxSize       int      `yaml:"pool_max_size"`
	CheckInterval Duration `yaml:"pool_check_interval"`
}

// QuickReplyConfig lists phrases kept permanently warm in the synthesis
// cache.
type QuickReplyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Words   []string `yaml:"words"`
}

type SelectedConfig struct {
	STT   string `yaml:"STT"`
	TTS   string `yaml:"TTS"`
	Reply string `yaml:"Reply"`
}

// BackendConfig is the generic backend block shared by STT and reply
// generators.
type BackendConfig struct {
	Type      string                 `yaml:"type"`
	APIKey    string                 `yaml:"api_key"`
	BaseURL   string                 `yaml:"url"`
	ModelName string                 `yaml:"model_name"`
	Extra     map[string]interface{} `yaml:",inline"`
}

type TTSBackendConfig struct {
	Type   string  `yaml:"type"`
	Voice  string  `yaml:"voice"`
	Format string  `yaml:"format"`
	APIKey string  `yaml:"api_key"`
	Rate   float64 `yaml:"rate"`
	Pitch  float64 `yaml:"pitch"`
	Volume float64 `yaml:"volume"`
}

// Validate rejects configurations that cannot possibly serve traffic.
// Missing backend credentials are fatal at startup rather than surfacing
// as per-request failures.
func (c *Config) Validate() error {
	if c.Selected.STT == "" {
		return platformerrors.New(platformerrors.KindConfig, "validate", "no STT backend selected")
	}
	if _, ok := c.STT[c.Selected.STT]; !ok {
		return platformerrors.New(platformerrors.KindConfig, "validate",
			"selected STT backend "+c.Selected.STT+" is not configured")
	}
	if c.Selected.TTS == "" {
		return platformerrors.New(platformerrors.KindConfig, "validate", "no TTS backend selected")
	}
	if _, ok := c.TTS[c.Selected.TTS]; !ok {
		return platformerrors.New(platformerrors.KindConfig, "validate",
			"selected TTS backend "+c.Selected.TTS+" is not configured")
	}
	if c.Selected.Reply != "" {
		if _, ok := c.Reply[c.Selected.Reply]; !ok {
			return platformerrors.New(platformerrors.KindConfig, "validate",
				"selected reply backend "+c.Selected.Reply+" is not configured")
		}
	}
	if c.Synthesis.Workers <= 0 {
		return platformerrors.New(platformerrors.KindConfig, "validate", "synthesis worker count must be positive")
	}
	if c.Health.DegradedErrorRate >= c.Health.DownErrorRate {
		return platformerrors.New(platformerrors.KindConfig, "validate",
			"degraded error rate must be below down error rate")
	}
	return nil
}
