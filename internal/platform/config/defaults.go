package config

import "time"

// DefaultConfig returns the configuration the server boots with when the
// YAML file omits a field. Every duration here is a latency-budget or
// lifecycle default the pipeline depends on.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8000,
		},
		Log: LogConfig{
			Level: "info",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Transport: TransportConfig{
			WebSocket: WebSocketConfig{
				IP:               "0.0.0.0",
				Port:             8000,
				Path:             "/ws",
				HandshakeTimeout: Duration(10 * time.Second),
			},
		},
		Session: SessionConfig{
			HeartbeatInterval: Duration(30 * time.Second),
			ReconnectGrace:    Duration(30 * time.Second),
			MaxSessions:       500,
			SweepInterval:     Duration(10 * time.Second),
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			Channels:      1,
			BitsPerSample: 16,
		},
		VAD: VADConfig{
			WindowSize:         10,
			EnergyThreshold:    0.02,
			MinSpeechDuration:  Duration(200 * time.Millisecond),
			MaxSilenceDuration: Duration(1000 * time.Millisecond),
			ConditionerBudget:  Duration(5 * time.Millisecond),
		},
		Recognition: RecognitionConfig{
			TurnTimeout:      Duration(5 * time.Second),
			SweepInterval:    Duration(30 * time.Second),
			MaxDuration:      Duration(5 * time.Minute),
			IdleTimeout:      Duration(60 * time.Second),
			QualityThreshold: 0.3,
			PartialInterval:  Duration(2 * time.Second),
			Language:         "en-US",
		},
		Synthesis: SynthesisConfig{
			Workers:    10,
			Timeout:    Duration(10 * time.Second),
			Voice:      "en-US-AriaNeural",
			Format:     "pcm",
			SampleRate: 16000,
		},
		Generation: GenerationConfig{
			Timeout: Duration(5 * time.Second),
		},
		Cache: CacheConfig{
			LocalMaxSize:  1000,
			SynthesisTTL:  Duration(6 * time.Hour),
			TranscriptTTL: Duration(15 * time.Minute),
			Redis: RedisConfig{
				Enabled: false,
				Addr:    "127.0.0.1:6379",
				Prefix:  "voicegate",
			},
		},
		Breaker: BreakerConfig{
			Threshold:    5,
			ResetTimeout: Duration(60 * time.Second),
		},
		Health: HealthConfig{
			Interval:          Duration(10 * time.Second),
			DegradedErrorRate: 0.10,
			DownErrorRate:     0.20,
		},
		Pool: PoolConfig{
			MinSize:       2,
			MaxSize:       20,
			CheckInterval: Duration(60 * time.Second),
		},
		QuickReply: QuickReplyConfig{
			Enabled: true,
			Words: []string{
				"Please hold for a moment.",
				"I'm sorry, I didn't catch that.",
				"Thank you for calling, goodbye.",
			},
		},
		Selected: SelectedConfig{
			STT:   "openai",
			TTS:   "edge",
			Reply: "openai",
		},
		STT: map[string]BackendConfig{
			"openai": {
				Type:      "openai",
				ModelName: "whisper-1",
			},
		},
		TTS: map[string]TTSBackendConfig{
			"edge": {
				Type:   "edge",
				Voice:  "en-US-AriaNeural",
				Format: "pcm",
				Rate:   1.0,
				Volume: 1.0,
			},
		},
		Reply: map[string]BackendConfig{
			"openai": {
				Type:      "openai",
				ModelName: "gpt-4o-mini",
			},
		},
	}
}
