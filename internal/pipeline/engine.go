package pipeline

import (
	"context"
	"time"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/backends"
	"voicegate-server-go/internal/dsp"
	"voicegate-server-go/internal/eventbus"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
	"voicegate-server-go/internal/platform/metrics"
	"voicegate-server-go/internal/recognition"
	"voicegate-server-go/internal/synthesis"
)

// ReplyFunc is the reply backend as the engine sees it, breaker-wrapped
// by the bootstrap.
type ReplyFunc func(ctx context.Context, history []backends.Turn, userText string) (string, error)

// Config tunes per-call pipelines.
type Config struct {
	// Format is the canonical PCM format everything downstream of the
	// conditioner chain consumes.
	Format audio.Format
	// VAD tunes speech segmentation.
	VAD dsp.VADConfig
	// ConditionerBudget is the per-conditioner latency budget; overruns
	// are logged, not enforced.
	ConditionerBudget time.Duration
	// RecognitionTimeout bounds the final transcription of a turn.
	RecognitionTimeout time.Duration
	// GenerationTimeout bounds reply generation.
	GenerationTimeout time.Duration
	// SynthesisTimeout bounds synthesis of the reply.
	SynthesisTimeout time.Duration
	// MaxHistoryTurns caps the conversation context sent to the reply
	// backend.
	MaxHistoryTurns int
	// FallbackNoInput is spoken when recognition fails or times out.
	FallbackNoInput string
	// FallbackBackend is spoken when reply generation fails.
	FallbackBackend string
}

func (c *Config) fillDefaults() {
	if !c.Format.Valid() {
		c.Format = audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	}
	if c.RecognitionTimeout <= 0 {
		c.RecognitionTimeout = 5 * time.Second
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 5 * time.Second
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = 10 * time.Second
	}
	if c.MaxHistoryTurns <= 0 {
		c.MaxHistoryTurns = 20
	}
	if c.FallbackNoInput == "" {
		c.FallbackNoInput = "I'm sorry, I didn't catch that."
	}
	if c.FallbackBackend == "" {
		c.FallbackBackend = "Please hold for a moment."
	}
}

// Engine owns the process-wide pipeline dependencies and stamps out one
// Call per phone call.
type Engine struct {
	cfg         Config
	recognizer  *recognition.Manager
	synthesizer *synthesis.Manager
	reply       ReplyFunc
	metrics     *metrics.Registry
	health      *HealthMonitor
	bus         *eventbus.Bus
	logger      *logging.Logger
}

func NewEngine(cfg Config, rec *recognition.Manager, synth *synthesis.Manager, reply ReplyFunc,
	reg *metrics.Registry, health *HealthMonitor, bus *eventbus.Bus, logger *logging.Logger) *Engine {
	cfg.fillDefaults()
	return &Engine{
		cfg:         cfg,
		recognizer:  rec,
		synthesizer: synth,
		reply:       reply,
		metrics:     reg,
		health:      health,
		bus:         bus,
		logger:      logger,
	}
}

// Health exposes the monitor for the transport layer.
func (e *Engine) Health() *HealthMonitor { return e.health }

// Metrics exposes the instrument registry.
func (e *Engine) Metrics() *metrics.Registry { return e.metrics }

// Recognition exposes the recognition manager for admin surfaces.
func (e *Engine) Recognition() *recognition.Manager { return e.recognizer }

// Synthesis exposes the synthesis manager for admin surfaces.
func (e *Engine) Synthesis() *synthesis.Manager { return e.synthesizer }

// NewCall assembles the per-call processing chain and opens the
// recognition session.
func (e *Engine) NewCall(callID string, inbound audio.Format) (*Call, error) {
	if callID == "" {
		return nil, errors.New(errors.KindInvalid, "pipeline.newcall", "empty call id")
	}
	if !inbound.Valid() {
		return nil, errors.New(errors.KindInvalid, "pipeline.newcall", "invalid inbound format")
	}

	converter, err := audio.NewConverter(e.cfg.Format)
	if err != nil {
		return nil, err
	}

	recSession, err := e.recognizer.Start(callID, e.cfg.Format)
	if err != nil {
		return nil, err
	}

	vad := dsp.NewVAD(e.cfg.VAD)
	echo := dsp.NewEchoSuppressor()
	chain := dsp.NewChain(e.logger, e.cfg.ConditionerBudget,
		dsp.NewNoiseReducer(),
		echo,
		vad,
		dsp.NewFormatConditioner(converter),
	)

	preRoll := e.cfg.VAD.MinSpeechDuration
	if preRoll <= 0 {
		preRoll = 200 * time.Millisecond
	}

	c := &Call{
		engine:       e,
		callID:       callID,
		chain:        chain,
		vad:          vad,
		echo:         echo,
		recSession:   recSession,
		events:       make(chan Event, 256),
		preSpeechMax: preRoll,
	}

	c.forwardWG.Add(1)
	go c.forwardPartials()

	e.metrics.ActiveSessions.Inc()
	e.logger.InfoTag("PIPELINE", "call started: %s", callID)
	return c, nil
}
