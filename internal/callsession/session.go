package callsession

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/pipeline"
	"voicegate-server-go/internal/platform/errors"
)

// State of one call session. Transitions only move forward except for
// the reconnect path, which re-attaches a Draining session.
type State string

const (
	// StateConnecting is the window between transport accept and the
	// client's hello.
	StateConnecting State = "connecting"
	// StateInitialized means the hello was accepted and the pipeline
	// is assembled, but audio is not yet allowed.
	StateInitialized State = "initialized"
	// StateActive accepts audio.
	StateActive State = "active"
	// StateDraining finishes in-flight turns; no new audio. A client
	// reconnecting within the grace window returns to Active.
	StateDraining State = "draining"
	// StateClosed is terminal.
	StateClosed State = "closed"
	// StateError is terminal with a recorded cause.
	StateError State = "error"
)

var validTransitions = map[State][]State{
	StateConnecting:  {StateInitialized, StateClosed, StateError},
	StateInitialized: {StateActive, StateClosed, StateError},
	StateActive:      {StateDraining, StateClosed, StateError},
	StateDraining:    {StateActive, StateClosed, StateError},
	StateClosed:      {},
	StateError:       {},
}

// Session binds one call id to its pipeline instance and tracks
// liveness across transport connections.
type Session struct {
	id     string
	call   *pipeline.Call
	format audio.Format

	seq atomic.Uint64

	mu             sync.Mutex
	state          State
	cause          error
	createdAt      time.Time
	lastHeartbeat  time.Time
	disconnectedAt time.Time
	attached       bool
}

// Snapshot is the admin view of a session.
type Snapshot struct {
	ID            string    `json:"id"`
	State         State     `json:"state"`
	Attached      bool      `json:"attached"`
	CreatedAt     time.Time `json:"created_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Turns         int       `json:"turns"`
}

func newSession(id string, call *pipeline.Call, format audio.Format) *Session {
	now := time.Now()
	return &Session{
		id:            id,
		call:          call,
		format:        format,
		state:         StateConnecting,
		createdAt:     now,
		lastHeartbeat: now,
		attached:      true,
	}
}

// ID returns the call identifier.
func (s *Session) ID() string { return s.id }

// Call exposes the pipeline instance, e.g. for the transport to consume
// its event stream.
func (s *Session) Call() *pipeline.Call { return s.call }

// Format returns the inbound audio format negotiated at call setup.
func (s *Session) Format() audio.Format { return s.format }

// Backlog reports pipeline events waiting for the transport to drain.
func (s *Session) Backlog() int { return s.call.Backlog() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the recorded cause for StateError sessions.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to State) error {
	for _, allowed := range validTransitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return errors.New(errors.KindSession, "session.transition",
		"invalid transition "+string(s.state)+" -> "+string(to)+" for "+s.id)
}

// Initialize acknowledges the client hello.
func (s *Session) Initialize() error { return s.transition(StateInitialized) }

// Activate opens the audio path.
func (s *Session) Activate() error { return s.transition(StateActive) }

// Process forwards one audio chunk into the pipeline. Audio outside the
// Active state is rejected; the transport reports this to the client
// without tearing the session down.
func (s *Session) Process(ctx context.Context, chunk *audio.Chunk) error {
	s.mu.Lock()
	if s.state != StateActive {
		state := s.state
		s.mu.Unlock()
		return errors.New(errors.KindSession, "session.process",
			"session not ready: "+s.id+" is "+string(state))
	}
	s.mu.Unlock()
	return s.call.ProcessChunk(ctx, chunk)
}

// NextSeq hands out the next chunk sequence number for transports whose
// clients do not number frames themselves. The counter lives on the
// session so it survives a reconnect.
func (s *Session) NextSeq() uint64 {
	return s.seq.Add(1)
}

// Heartbeat records client liveness.
func (s *Session) Heartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = time.Now()
}

// Snapshot captures current state for the admin API.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.id,
		State:         s.state,
		Attached:      s.attached,
		CreatedAt:     s.createdAt,
		LastHeartbeat: s.lastHeartbeat,
		Turns:         s.call.Turns(),
	}
}
