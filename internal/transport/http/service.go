package httptransport

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"voicegate-server-go/internal/callsession"
	"voicegate-server-go/internal/pipeline"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
	"voicegate-server-go/internal/platform/metrics"
	"voicegate-server-go/internal/recognition"
	"voicegate-server-go/internal/synthesis"
)

// Service exposes the diagnostic and admin surface: health, metrics,
// session administration and cache control.
type Service struct {
	arena  *callsession.Arena
	engine *pipeline.Engine
	logger *logging.Logger
}

// NewService builds the control surface over a running engine and arena.
func NewService(arena *callsession.Arena, engine *pipeline.Engine, logger *logging.Logger) *Service {
	return &Service{
		arena:  arena,
		engine: engine,
		logger: logger,
	}
}

// Register wires every route into the router.
func (s *Service) Register(router *Router) {
	router.Engine.GET("/healthz", s.handleHealth)
	router.Engine.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(s.engine.Metrics().Gatherer(), promhttp.HandlerOpts{})))

	router.API.GET("/sessions", s.handleSessionList)
	router.API.GET("/sessions/:id", s.handleSessionGet)
	router.API.DELETE("/sessions/:id", s.handleSessionDelete)
	router.API.POST("/cache/clear", s.handleCacheClear)
	router.API.POST("/cache/warm", s.handleCacheWarm)

	s.logger.InfoTag("HTTP", "control routes registered")
}

// healthResponse is the /healthz payload.
type healthResponse struct {
	Health      pipeline.HealthSnapshot        `json:"health"`
	Stages      map[string]metrics.Percentiles `json:"stages"`
	Sessions    int                            `json:"sessions"`
	Recognition recognition.Stats              `json:"recognition"`
	Synthesis   synthesis.Stats                `json:"synthesis"`
	System      systemSnapshot                 `json:"system"`
}

type systemSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	Goroutines    int     `json:"goroutines"`
}

func (s *Service) handleHealth(c *gin.Context) {
	reg := s.engine.Metrics()
	resp := healthResponse{
		Health: s.engine.Health().Snapshot(),
		Stages: map[string]metrics.Percentiles{
			metrics.StagePreprocess:  reg.StagePercentiles(metrics.StagePreprocess),
			metrics.StageRecognition: reg.StagePercentiles(metrics.StageRecognition),
			metrics.StageGeneration:  reg.StagePercentiles(metrics.StageGeneration),
			metrics.StageSynthesis:   reg.StagePercentiles(metrics.StageSynthesis),
		},
		Sessions:    s.arena.Len(),
		Recognition: s.engine.Recognition().Stats(),
		Synthesis:   s.engine.Synthesis().CacheStats(),
		System:      snapshotSystem(),
	}

	status := http.StatusOK
	if resp.Health.Overall == pipeline.HealthDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func snapshotSystem() systemSnapshot {
	snap := systemSnapshot{Goroutines: runtime.NumGoroutine()}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
		snap.MemoryUsedMB = vm.Used / 1024 / 1024
	}
	return snap
}

func (s *Service) handleSessionList(c *gin.Context) {
	respondSuccess(c, http.StatusOK, s.arena.List(), "")
}

func (s *Service) handleSessionGet(c *gin.Context) {
	id := c.Param("id")
	session, ok := s.arena.Get(id)
	if !ok {
		respondError(c, errors.New(errors.KindSession, "http.sessions", "no session for call: "+id))
		return
	}
	respondSuccess(c, http.StatusOK, session.Snapshot(), "")
}

func (s *Service) handleSessionDelete(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.arena.Get(id); !ok {
		respondError(c, errors.New(errors.KindSession, "http.sessions", "no session for call: "+id))
		return
	}
	s.arena.Close(id, "admin close")
	respondSuccess(c, http.StatusOK, nil, "session closed")
}

func (s *Service) handleCacheClear(c *gin.Context) {
	if err := s.engine.Synthesis().ClearCache(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, nil, "cache cleared")
}

type warmRequest struct {
	Phrases []string `json:"phrases"`
}

func (s *Service) handleCacheWarm(c *gin.Context) {
	var req warmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(errors.KindInvalid, "http.cache", "malformed warm request", err))
		return
	}
	if len(req.Phrases) == 0 {
		respondError(c, errors.New(errors.KindInvalid, "http.cache", "no phrases to warm"))
		return
	}
	if err := s.engine.Synthesis().Warm(c.Request.Context(), req.Phrases); err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"phrases": len(req.Phrases)}, "cache warmed")
}
