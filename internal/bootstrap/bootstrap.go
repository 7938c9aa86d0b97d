package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/backends"
	"voicegate-server-go/internal/breaker"
	"voicegate-server-go/internal/cache"
	"voicegate-server-go/internal/callsession"
	"voicegate-server-go/internal/dsp"
	"voicegate-server-go/internal/eventbus"
	"voicegate-server-go/internal/pipeline"
	platformconfig "voicegate-server-go/internal/platform/config"
	platformerrors "voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
	"voicegate-server-go/internal/platform/metrics"
	"voicegate-server-go/internal/recognition"
	"voicegate-server-go/internal/synthesis"
	httptransport "voicegate-server-go/internal/transport/http"
	"voicegate-server-go/internal/transport/ws"

	// Backend implementations register themselves with the factory
	// registry on import.
	_ "voicegate-server-go/internal/backends/edge"
	_ "voicegate-server-go/internal/backends/fake"
	_ "voicegate-server-go/internal/backends/openai"
)

const warmupTimeout = 60 * time.Second

// appState carries everything assembled during startup so shutdown can
// unwind it.
type appState struct {
	cfg    *platformconfig.Config
	logger *logging.Logger
	bus    *eventbus.Bus

	redis     *redis.Client
	sttPool   *backends.Pool[backends.Recognizer]
	ttsPool   *backends.Pool[backends.Synthesizer]
	replier   backends.ReplyGenerator
	recMgr    *recognition.Manager
	synthMgr  *synthesis.Manager
	health    *pipeline.HealthMonitor
	engine    *pipeline.Engine
	arena     *callsession.Arena
	wsServer  *ws.Server
	webServer *httptransport.Server
}

// Run starts the whole service lifecycle: load configuration, assemble
// the pipeline, serve, and unwind gracefully on SIGINT/SIGTERM.
func Run(ctx context.Context, configPath string) error {
	result, err := platformconfig.NewLoader(configPath).Load()
	if err != nil {
		return err
	}
	cfg := result.Config

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level})
	if err != nil {
		return err
	}
	logger.InfoTag("BOOT", "configuration loaded (%s)", result.Path)

	state, err := assemble(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer state.close()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)
	startServices(state, group, groupCtx)

	logger.InfoTag("BOOT", "voicegate-server is up")

	select {
	case <-signalCtx.Done():
		logger.InfoTag("BOOT", "shutdown signal received")
	case <-groupCtx.Done():
	}
	cancel()

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.InfoTag("BOOT", "shutdown complete")
	return nil
}

func assemble(ctx context.Context, cfg *platformconfig.Config, logger *logging.Logger) (*appState, error) {
	state := &appState{
		cfg:    cfg,
		logger: logger,
		bus:    eventbus.New(),
	}
	registry := metrics.NewRegistry()

	state.redis = connectRedis(ctx, cfg, logger)

	prefix := cfg.Cache.Redis.Prefix
	synthCache := cache.NewTiered(state.redis, cache.Config{
		LocalMaxSize: cfg.Cache.LocalMaxSize,
		LocalTTL:     cfg.Cache.SynthesisTTL.Std(),
		RedisTTL:     cfg.Cache.SynthesisTTL.Std(),
		Prefix:       prefix + ":tts:",
	}, logger)
	transcriptCache := cache.NewTiered(state.redis, cache.Config{
		LocalMaxSize: cfg.Cache.LocalMaxSize,
		LocalTTL:     cfg.Cache.TranscriptTTL.Std(),
		RedisTTL:     cfg.Cache.TranscriptTTL.Std(),
		Prefix:       prefix + ":stt:",
	}, logger)
	synthCache.Instrument(registry.CacheHits, registry.CacheMisses)
	transcriptCache.Instrument(registry.CacheHits, registry.CacheMisses)

	transcribe, err := buildRecognition(state, registry)
	if err != nil {
		return nil, err
	}
	synthesize, synthStream, err := buildSynthesis(state, registry)
	if err != nil {
		return nil, err
	}
	reply, err := buildReply(state, registry)
	if err != nil {
		return nil, err
	}

	sttCfg := cfg.STT[cfg.Selected.STT]
	state.recMgr = recognition.NewManager(recognition.Config{
		SweepInterval:    cfg.Recognition.SweepInterval.Std(),
		MaxDuration:      cfg.Recognition.MaxDuration.Std(),
		IdleTimeout:      cfg.Recognition.IdleTimeout.Std(),
		QualityThreshold: cfg.Recognition.QualityThreshold,
		PartialInterval:  cfg.Recognition.PartialInterval.Std(),
		Language:         cfg.Recognition.Language,
		Model:            sttCfg.ModelName,
	}, transcribe, transcriptCache, recognition.DefaultConfidence, logger)

	ttsCfg := cfg.TTS[cfg.Selected.TTS]
	voice := ttsCfg.Voice
	if voice == "" {
		voice = cfg.Synthesis.Voice
	}
	state.synthMgr = synthesis.NewManager(synthesis.Config{
		Workers:    cfg.Synthesis.Workers,
		Timeout:    cfg.Synthesis.Timeout.Std(),
		Voice:      voice,
		Format:     cfg.Synthesis.Format,
		SampleRate: cfg.Synthesis.SampleRate,
		Rate:       formatRatio(ttsCfg.Rate),
		Pitch:      formatRatio(ttsCfg.Pitch),
		Volume:     formatRatio(ttsCfg.Volume),
	}, synthesize, synthCache, state.bus, logger)
	state.synthMgr.SetStreamer(synthStream)

	state.health = pipeline.NewHealthMonitor(pipeline.HealthConfig{
		Interval:          cfg.Health.Interval.Std(),
		DegradedErrorRate: cfg.Health.DegradedErrorRate,
		DownErrorRate:     cfg.Health.DownErrorRate,
	}, state.bus, logger)

	state.engine = pipeline.NewEngine(pipeline.Config{
		Format: audio.Format{
			SampleRate:    cfg.Audio.SampleRate,
			Channels:      cfg.Audio.Channels,
			BitsPerSample: cfg.Audio.BitsPerSample,
		},
		VAD: dsp.VADConfig{
			WindowSize:         cfg.VAD.WindowSize,
			EnergyThreshold:    cfg.VAD.EnergyThreshold,
			MinSpeechDuration:  cfg.VAD.MinSpeechDuration.Std(),
			MaxSilenceDuration: cfg.VAD.MaxSilenceDuration.Std(),
		},
		ConditionerBudget:  cfg.VAD.ConditionerBudget.Std(),
		RecognitionTimeout: cfg.Recognition.TurnTimeout.Std(),
		GenerationTimeout:  cfg.Generation.Timeout.Std(),
		SynthesisTimeout:   cfg.Synthesis.Timeout.Std(),
	}, state.recMgr, state.synthMgr, reply, registry, state.health, state.bus, logger)

	state.arena = callsession.NewArena(callsession.Config{
		HeartbeatInterval: cfg.Session.HeartbeatInterval.Std(),
		ReconnectGrace:    cfg.Session.ReconnectGrace.Std(),
		MaxSessions:       cfg.Session.MaxSessions,
		SweepInterval:     cfg.Session.SweepInterval.Std(),
	}, state.engine, logger)

	wsIP := cfg.Transport.WebSocket.IP
	if wsIP == "" {
		wsIP = cfg.Server.IP
	}
	wsPort := cfg.Transport.WebSocket.Port
	if wsPort == 0 {
		wsPort = cfg.Server.Port
	}
	hub := ws.NewHub(logger)
	router := ws.NewRouter(hub, logger, ws.RouterOptions{
		HandshakeTimeout: cfg.Transport.WebSocket.HandshakeTimeout.Std(),
	})
	state.wsServer = ws.NewServer(ws.ServerConfig{
		Addr:             fmt.Sprintf("%s:%d", wsIP, wsPort),
		Path:             cfg.Transport.WebSocket.Path,
		HandshakeTimeout: cfg.Transport.WebSocket.HandshakeTimeout.Std(),
	}, router, hub, logger)
	state.wsServer.SetHandlerBuilder(ws.NewHandlerBuilder(state.arena, logger))

	if cfg.Web.Enabled {
		webRouter := httptransport.Build(httptransport.Options{
			LogLevel: cfg.Log.Level,
			Logger:   logger,
		})
		httptransport.NewService(state.arena, state.engine, logger).Register(webRouter)
		state.webServer = httptransport.NewServer(
			fmt.Sprintf("%s:%d", cfg.Server.IP, cfg.Web.Port), webRouter, logger)
	}

	subscribeOperationalEvents(state)
	return state, nil
}

// connectRedis returns nil when Redis is disabled or unreachable; the
// caches degrade to local-only mode.
func connectRedis(ctx context.Context, cfg *platformconfig.Config, logger *logging.Logger) *redis.Client {
	if !cfg.Cache.Redis.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.WarnTag("BOOT", "redis unreachable at %s, caches run local-only: %v", cfg.Cache.Redis.Addr, err)
		_ = client.Close()
		return nil
	}
	logger.InfoTag("BOOT", "redis connected at %s", cfg.Cache.Redis.Addr)
	return client
}

// buildRecognition wires the recognizer pool behind a circuit breaker
// and exposes the combination as a plain transcribe function.
func buildRecognition(state *appState, registry *metrics.Registry) (recognition.TranscribeFunc, error) {
	cfg := state.cfg
	sttCfg := cfg.STT[cfg.Selected.STT]

	pool := backends.NewPool[backends.Recognizer]("stt", cfg.Pool.MaxSize, state.logger,
		func() (backends.Recognizer, error) {
			return backends.CreateRecognizer(sttCfg.Type, sttCfg, state.logger)
		},
		nil,
		func(r backends.Recognizer) { _ = r.Close() })
	if err := pool.Warmup(cfg.Pool.MinSize); err != nil {
		return nil, err
	}
	state.sttPool = pool

	brk := newBreaker("recognition", cfg, state.logger, registry)
	return func(ctx context.Context, pcm []byte, format audio.Format) (*backends.TranscriptResult, error) {
		rec, err := pool.Get(ctx)
		if err != nil {
			return nil, err
		}
		defer pool.Put(rec)

		var result *backends.TranscriptResult
		err = brk.Do(func() error {
			var callErr error
			result, callErr = rec.Transcribe(ctx, pcm, format)
			return callErr
		})
		return result, err
	}, nil
}

// buildSynthesis wires the synthesizer pool behind a circuit breaker,
// exposing both the one-shot and the incremental form. Backends without
// the streaming capability render fully and emit once; the manager
// re-chunks either way.
func buildSynthesis(state *appState, registry *metrics.Registry) (synthesis.SynthesizeFunc, synthesis.StreamFunc, error) {
	cfg := state.cfg
	ttsCfg := cfg.TTS[cfg.Selected.TTS]

	pool := backends.NewPool[backends.Synthesizer]("tts", cfg.Pool.MaxSize, state.logger,
		func() (backends.Synthesizer, error) {
			return backends.CreateSynthesizer(ttsCfg.Type, ttsCfg, state.logger)
		},
		nil,
		func(s backends.Synthesizer) { _ = s.Close() })
	if err := pool.Warmup(cfg.Pool.MinSize); err != nil {
		return nil, nil, err
	}
	state.ttsPool = pool

	brk := newBreaker("synthesis", cfg, state.logger, registry)
	oneShot := func(ctx context.Context, req backends.SynthesizeRequest) ([]byte, error) {
		synth, err := pool.Get(ctx)
		if err != nil {
			return nil, err
		}
		defer pool.Put(synth)

		var rendered []byte
		err = brk.Do(func() error {
			var callErr error
			rendered, callErr = synth.Synthesize(ctx, req)
			return callErr
		})
		return rendered, err
	}
	streaming := func(ctx context.Context, req backends.SynthesizeRequest, emit func(chunk []byte) error) error {
		synth, err := pool.Get(ctx)
		if err != nil {
			return err
		}
		defer pool.Put(synth)

		return brk.Do(func() error {
			if streamer, ok := synth.(backends.StreamingSynthesizer); ok {
				return streamer.SynthesizeStreaming(ctx, req, emit)
			}
			rendered, callErr := synth.Synthesize(ctx, req)
			if callErr != nil {
				return callErr
			}
			return emit(rendered)
		})
	}
	return oneShot, streaming, nil
}

// buildReply uses a single shared generator instance; chat backends are
// stateless clients, so pooling buys nothing there.
func buildReply(state *appState, registry *metrics.Registry) (pipeline.ReplyFunc, error) {
	cfg := state.cfg
	if cfg.Selected.Reply == "" {
		state.logger.WarnTag("BOOT", "no reply backend selected, every turn speaks the fallback phrase")
		return func(ctx context.Context, history []backends.Turn, userText string) (string, error) {
			return "", platformerrors.New(platformerrors.KindBackend, "bootstrap.reply", "no reply backend configured")
		}, nil
	}

	replyCfg := cfg.Reply[cfg.Selected.Reply]
	generator, err := backends.CreateReplyGenerator(replyCfg.Type, replyCfg, state.logger)
	if err != nil {
		return nil, err
	}
	state.replier = generator

	brk := newBreaker("generation", cfg, state.logger, registry)
	return func(ctx context.Context, history []backends.Turn, userText string) (string, error) {
		var text string
		err := brk.Do(func() error {
			var callErr error
			text, callErr = generator.Reply(ctx, history, userText)
			return callErr
		})
		return text, err
	}, nil
}

// formatRatio turns a prosody multiplier into its cache-key form. Zero
// means unset and stays out of the key.
func formatRatio(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func newBreaker(name string, cfg *platformconfig.Config, logger *logging.Logger, registry *metrics.Registry) *breaker.Breaker {
	return breaker.New(name, breaker.Config{
		Threshold:    cfg.Breaker.Threshold,
		ResetTimeout: cfg.Breaker.ResetTimeout.Std(),
		OnStateChange: func(backend string, from, to breaker.State) {
			registry.BreakerState.WithLabelValues(backend).Set(float64(to))
		},
	}, logger)
}

func subscribeOperationalEvents(state *appState) {
	logger := state.logger
	_ = state.bus.SubscribeHealthChanged(func(ev eventbus.HealthChangedEvent) {
		logger.WarnTag("HEALTH", "%s: %s -> %s", ev.Backend, ev.From, ev.To)
	})
	_ = state.bus.SubscribeCacheThrashing(func(ev eventbus.CacheThrashingEvent) {
		logger.WarnTag("CACHE", "%s thrashing at %.1f evictions/s", ev.Cache, ev.EvictionRate)
	})
	_ = state.bus.SubscribeSessionClosed(func(ev eventbus.SessionClosedEvent) {
		logger.InfoTag("SESSION", "pipeline released for %s (%s)", ev.CallID, ev.Reason)
	})
}

func startServices(state *appState, group *errgroup.Group, ctx context.Context) {
	group.Go(func() error {
		return state.wsServer.Start(ctx)
	})
	if state.webServer != nil {
		group.Go(func() error {
			return state.webServer.Start(ctx)
		})
	}
	group.Go(func() error {
		state.arena.Run(ctx)
		return nil
	})
	group.Go(func() error {
		state.recMgr.Run(ctx)
		return nil
	})
	group.Go(func() error {
		state.health.Run(ctx)
		return nil
	})
	group.Go(func() error {
		state.sttPool.Maintain(ctx, state.cfg.Pool.CheckInterval.Std(), state.cfg.Pool.MinSize)
		return nil
	})
	group.Go(func() error {
		state.ttsPool.Maintain(ctx, state.cfg.Pool.CheckInterval.Std(), state.cfg.Pool.MinSize)
		return nil
	})

	if state.cfg.QuickReply.Enabled && len(state.cfg.QuickReply.Words) > 0 {
		group.Go(func() error {
			warmCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
			defer cancel()
			if err := state.synthMgr.Warm(warmCtx, state.cfg.QuickReply.Words); err != nil {
				state.logger.WarnTag("BOOT", "quick reply warmup incomplete: %v", err)
			}
			return nil
		})
	}
}

func (s *appState) close() {
	if s.wsServer != nil {
		_ = s.wsServer.Stop()
	}
	if s.webServer != nil {
		_ = s.webServer.Stop()
	}
	if s.sttPool != nil {
		s.sttPool.Close()
	}
	if s.ttsPool != nil {
		s.ttsPool.Close()
	}
	if s.replier != nil {
		_ = s.replier.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.bus != nil {
		s.bus.WaitAsync()
	}
}
