package callsession

import (
	"context"
	"sync"
	"time"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/pipeline"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

// Config tunes the session arena.
type Config struct {
	// HeartbeatInterval is the expected client heartbeat cadence. A
	// session silent for a full interval is force-closed.
	HeartbeatInterval time.Duration
	// ReconnectGrace keeps a disconnected session alive so a client
	// riding out a network blip resumes the same call.
	ReconnectGrace time.Duration
	// MaxSessions rejects new calls beyond this count.
	MaxSessions int
	// SweepInterval is how often liveness is checked.
	SweepInterval time.Duration
}

func (c *Config) fillDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectGrace <= 0 {
		c.ReconnectGrace = 30 * time.Second
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1000
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
}

// Arena owns every live call session, keyed by call id.
type Arena struct {
	cfg    Config
	engine *pipeline.Engine
	logger *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewArena(cfg Config, engine *pipeline.Engine, logger *logging.Logger) *Arena {
	cfg.fillDefaults()
	return &Arena{
		cfg:      cfg,
		engine:   engine,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session and its pipeline for a new call.
func (a *Arena) Create(callID string, format audio.Format) (*Session, error) {
	a.mu.Lock()
	if _, exists := a.sessions[callID]; exists {
		a.mu.Unlock()
		return nil, errors.New(errors.KindSession, "arena.create", "call id already in use: "+callID)
	}
	if len(a.sessions) >= a.cfg.MaxSessions {
		a.mu.Unlock()
		return nil, errors.New(errors.KindBusy, "arena.create", "session limit reached")
	}
	a.mu.Unlock()

	call, err := a.engine.NewCall(callID, format)
	if err != nil {
		return nil, err
	}

	s := newSession(callID, call, format)
	a.mu.Lock()
	if _, exists := a.sessions[callID]; exists {
		a.mu.Unlock()
		call.Close("duplicate call id")
		return nil, errors.New(errors.KindSession, "arena.create", "call id already in use: "+callID)
	}
	a.sessions[callID] = s
	a.mu.Unlock()

	a.logger.InfoTag("SESSION", "created: %s", callID)
	return s, nil
}

// Get looks up a live session.
func (a *Arena) Get(callID string) (*Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[callID]
	return s, ok
}

// Detach marks the session's transport as gone and starts the grace
// window. The pipeline stays intact for a reconnect.
func (a *Arena) Detach(callID string) {
	s, ok := a.Get(callID)
	if !ok {
		return
	}
	s.mu.Lock()
	s.attached = false
	s.disconnectedAt = time.Now()
	if s.state == StateActive {
		_ = s.transitionLocked(StateDraining)
	}
	s.mu.Unlock()
	a.logger.InfoTag("SESSION", "detached: %s, grace %v", callID, a.cfg.ReconnectGrace)
}

// Attach resumes a session for a reconnecting client. Outside the grace
// window the session is gone and the client must start a new call.
func (a *Arena) Attach(callID string) (*Session, error) {
	s, ok := a.Get(callID)
	if !ok {
		return nil, errors.New(errors.KindSession, "arena.attach", "no session for call: "+callID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateError {
		return nil, errors.New(errors.KindSession, "arena.attach", "session already closed: "+callID)
	}
	if !s.attached && time.Since(s.disconnectedAt) > a.cfg.ReconnectGrace {
		return nil, errors.New(errors.KindSession, "arena.attach", "reconnect grace expired: "+callID)
	}

	s.attached = true
	s.disconnectedAt = time.Time{}
	s.lastHeartbeat = time.Now()
	if s.state == StateDraining {
		if err := s.transitionLocked(StateActive); err != nil {
			return nil, err
		}
	}
	a.logger.InfoTag("SESSION", "reattached: %s", callID)
	return s, nil
}

// Close drains and removes a session. Idempotent.
func (a *Arena) Close(callID, reason string) {
	a.mu.Lock()
	s, ok := a.sessions[callID]
	if ok {
		delete(a.sessions, callID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.state == StateActive {
		_ = s.transitionLocked(StateDraining)
	}
	_ = s.transitionLocked(StateClosed)
	s.mu.Unlock()

	s.call.Close(reason)
	a.logger.InfoTag("SESSION", "closed: %s (%s)", callID, reason)
}

// Fail closes a session recording an error cause.
func (a *Arena) Fail(callID string, cause error) {
	a.mu.Lock()
	s, ok := a.sessions[callID]
	if ok {
		delete(a.sessions, callID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.cause = cause
	if s.state == StateActive {
		_ = s.transitionLocked(StateDraining)
	}
	_ = s.transitionLocked(StateError)
	s.mu.Unlock()

	s.call.Close("error: " + cause.Error())
	a.logger.WarnTag("SESSION", "failed: %s: %v", callID, cause)
}

// Len reports live session count.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// List snapshots all sessions for the admin API.
func (a *Arena) List() []Snapshot {
	a.mu.Lock()
	sessions := make([]*Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Run sweeps for dead sessions until ctx ends.
func (a *Arena) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

// sweep closes sessions whose client stopped heartbeating and detached
// sessions whose grace window expired.
func (a *Arena) sweep() {
	now := time.Now()
	deadline := a.cfg.HeartbeatInterval

	a.mu.Lock()
	type victim struct {
		id     string
		reason string
	}
	var victims []victim
	for id, s := range a.sessions {
		s.mu.Lock()
		switch {
		case s.attached && now.Sub(s.lastHeartbeat) > deadline:
			victims = append(victims, victim{id, "heartbeat timeout"})
		case !s.attached && now.Sub(s.disconnectedAt) > a.cfg.ReconnectGrace:
			victims = append(victims, victim{id, "reconnect grace expired"})
		}
		s.mu.Unlock()
	}
	a.mu.Unlock()

	for _, v := range victims {
		a.logger.InfoTag("SESSION", "sweeping %s: %s", v.id, v.reason)
		a.Close(v.id, v.reason)
	}
}
