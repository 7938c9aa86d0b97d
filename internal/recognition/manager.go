package recognition

import (
	"bytes"
	"context"
	"sync"
	"time"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/backends"
	"voicegate-server-go/internal/cache"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

// TranscribeFunc is the recognition backend as the manager sees it. The
// bootstrap wraps the pooled backend with a circuit breaker behind this
// signature, so the manager never deals with backend plumbing.
type TranscribeFunc func(ctx context.Context, pcm []byte, format audio.Format) (*backends.TranscriptResult, error)

// Config tunes recognition sessions.
type Config struct {
	// SweepInterval is how often abandoned sessions are collected.
	SweepInterval time.Duration
	// MaxDuration force-stops a session regardless of activity.
	MaxDuration time.Duration
	// IdleTimeout stops a session that received no audio.
	IdleTimeout time.Duration
	// QualityThreshold marks chunks below this score as degraded input.
	QualityThreshold float64
	// PartialInterval is how much new audio accumulates before an
	// interim transcription is attempted.
	PartialInterval time.Duration
	// Language hints the backend; empty means autodetect.
	Language string
	// Model names the recognition model for cache keying.
	Model string
}

func (c *Config) fillDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 5 * time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = 0.3
	}
	if c.PartialInterval <= 0 {
		c.PartialInterval = 2 * time.Second
	}
}

// Stats is a snapshot of manager state.
type Stats struct {
	ActiveSessions int    `json:"active_sessions"`
	TotalSessions  uint64 `json:"total_sessions"`
	Finals         uint64 `json:"finals"`
	Partials       uint64 `json:"partials"`
	CacheHits      uint64 `json:"cache_hits"`
	SweptSessions  uint64 `json:"swept_sessions"`
	DegradedChunks uint64 `json:"degraded_chunks"`
}

// Session accumulates one call's utterance audio and delivers
// transcripts over its channels. All methods are called through the
// manager.
type Session struct {
	callID string
	format audio.Format

	mu           sync.Mutex
	buffer       bytes.Buffer
	utterance    int
	history      []Transcript
	startedAt    time.Time
	lastActivity time.Time
	lastQuality  audio.QualityScore
	sincePartial time.Duration
	partialBusy  bool
	closed       bool

	partials chan Transcript
	finals   chan Transcript
}

// Partials delivers interim transcripts. Slow consumers lose older
// partials, never finals.
func (s *Session) Partials() <-chan Transcript { return s.partials }

// Finals delivers one transcript per completed utterance.
func (s *Session) Finals() <-chan Transcript { return s.finals }

// History returns completed transcripts oldest first.
func (s *Session) History() []Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transcript, len(s.history))
	copy(out, s.history)
	return out
}

// LastQuality reports the most recent chunk's input quality.
func (s *Session) LastQuality() audio.QualityScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuality
}

// Manager owns all live recognition sessions for the process.
type Manager struct {
	cfg         Config
	transcribe  TranscribeFunc
	transcripts *cache.Tiered
	confidence  ConfidenceFunc
	logger      *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	totalSessions  uint64
	finalsCount    uint64
	partialsCount  uint64
	cacheHits      uint64
	sweptSessions  uint64
	degradedChunks uint64
}

// NewManager builds the manager. transcripts may be nil to disable
// transcript caching; confidence may be nil for DefaultConfidence.
func NewManager(cfg Config, transcribe TranscribeFunc, transcripts *cache.Tiered, confidence ConfidenceFunc, logger *logging.Logger) *Manager {
	cfg.fillDefaults()
	if confidence == nil {
		confidence = DefaultConfidence
	}
	return &Manager{
		cfg:         cfg,
		transcribe:  transcribe,
		transcripts: transcripts,
		confidence:  confidence,
		logger:      logger,
		sessions:    make(map[string]*Session),
	}
}

// Start opens a recognition session for a call. Starting an already
// started call is a session error.
func (m *Manager) Start(callID string, format audio.Format) (*Session, error) {
	if !format.Valid() {
		return nil, errors.New(errors.KindInvalid, "recognition.start", "invalid audio format")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[callID]; exists {
		return nil, errors.New(errors.KindSession, "recognition.start", "session already active: "+callID)
	}

	now := time.Now()
	s := &Session{
		callID:       callID,
		format:       format,
		startedAt:    now,
		lastActivity: now,
		partials:     make(chan Transcript, 8),
		finals:       make(chan Transcript, 4),
	}
	m.sessions[callID] = s
	m.totalSessions++
	m.logger.InfoTag("STT", "session started: %s", callID)
	return s, nil
}

// Feed appends conditioned audio to the call's current utterance. When
// enough new audio has accumulated an interim transcription runs in the
// background and lands on the partials channel.
func (m *Manager) Feed(ctx context.Context, callID string, chunk *audio.Chunk) error {
	s, err := m.lookup(callID)
	if err != nil {
		return err
	}

	quality := audio.ScoreQuality(chunk.Data)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New(errors.KindSession, "recognition.feed", "session closed: "+callID)
	}
	s.buffer.Write(chunk.Data)
	s.lastActivity = time.Now()
	s.lastQuality = quality
	s.sincePartial += chunk.Duration()

	runPartial := s.sincePartial >= m.cfg.PartialInterval && !s.partialBusy
	var pcm []byte
	if runPartial {
		s.sincePartial = 0
		s.partialBusy = true
		pcm = append([]byte(nil), s.buffer.Bytes()...)
	}
	s.mu.Unlock()

	if quality.Score < m.cfg.QualityThreshold {
		m.mu.Lock()
		m.degradedChunks++
		m.mu.Unlock()
		m.logger.DebugTag("STT", "degraded input on %s: score=%.2f snr=%.1fdB", callID, quality.Score, quality.SNR)
	}

	if runPartial {
		go m.emitPartial(ctx, s, pcm, quality)
	}
	return nil
}

func (m *Manager) emitPartial(ctx context.Context, s *Session, pcm []byte, quality audio.QualityScore) {
	defer func() {
		s.mu.Lock()
		s.partialBusy = false
		s.mu.Unlock()
	}()

	result, err := m.transcribe(ctx, pcm, s.format)
	if err != nil {
		m.logger.DebugTag("STT", "interim transcription failed on %s: %v", s.callID, err)
		return
	}

	s.mu.Lock()
	utterance := s.utterance
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	t := Transcript{
		CallID:     s.callID,
		Utterance:  utterance,
		Text:       result.Text,
		Confidence: m.confidence(result, quality),
		Language:   result.Language,
		CreatedAt:  time.Now(),
	}

	m.mu.Lock()
	m.partialsCount++
	m.mu.Unlock()

	// Drop the oldest partial rather than block the recognizer.
	select {
	case s.partials <- t:
	default:
		select {
		case <-s.partials:
		default:
		}
		select {
		case s.partials <- t:
		default:
		}
	}
}

// Flush closes the current utterance: the buffered audio is
// transcribed, cache first, and the final transcript is returned and
// delivered on the finals channel.
func (m *Manager) Flush(ctx context.Context, callID string) (*Transcript, error) {
	s, err := m.lookup(callID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New(errors.KindSession, "recognition.flush", "session closed: "+callID)
	}
	pcm := append([]byte(nil), s.buffer.Bytes()...)
	s.buffer.Reset()
	s.sincePartial = 0
	utterance := s.utterance
	s.utterance++
	quality := s.lastQuality
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if len(pcm) == 0 {
		return nil, errors.New(errors.KindInvalid, "recognition.flush", "no buffered audio for "+callID)
	}

	audioDuration := time.Duration(len(pcm)/s.format.BytesPerFrame()) * time.Second / time.Duration(s.format.SampleRate)

	key := cache.TranscriptKey(pcm, m.cfg.Language, m.cfg.Model)
	if m.transcripts != nil {
		if entry, ok := m.transcripts.Get(ctx, key); ok {
			m.mu.Lock()
			m.cacheHits++
			m.finalsCount++
			m.mu.Unlock()
			t := m.finalize(s, utterance, entry.Text, 1.0, m.cfg.Language, true, audioDuration)
			return &t, nil
		}
	}

	result, err := m.transcribe(ctx, pcm, s.format)
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "recognition.flush", "transcribe utterance", err)
	}

	if m.transcripts != nil && result.Text != "" {
		if cerr := m.transcripts.Set(ctx, key, &cache.Entry{Text: result.Text}); cerr != nil {
			m.logger.WarnTag("STT", "transcript cache write failed: %v", cerr)
		}
	}

	m.mu.Lock()
	m.finalsCount++
	m.mu.Unlock()

	t := m.finalize(s, utterance, result.Text, m.confidence(result, quality), result.Language, false, audioDuration)
	return &t, nil
}

func (m *Manager) finalize(s *Session, utterance int, text string, confidence float64, language string, cached bool, duration time.Duration) Transcript {
	t := Transcript{
		CallID:     s.callID,
		Utterance:  utterance,
		Text:       text,
		Confidence: confidence,
		Language:   language,
		Final:      true,
		Cached:     cached,
		Duration:   duration,
		CreatedAt:  time.Now(),
	}

	s.mu.Lock()
	s.history = append(s.history, t)
	closed := s.closed
	s.mu.Unlock()

	if !closed {
		select {
		case s.finals <- t:
		default:
			m.logger.WarnTag("STT", "finals channel full on %s, consumer stalled", s.callID)
		}
	}
	return t
}

// Stop tears down a call's session and returns the final transcripts
// it accumulated, oldest first. Idempotent; a repeated stop returns
// nil.
func (m *Manager) Stop(callID string) []Transcript {
	m.mu.Lock()
	s, ok := m.sessions[callID]
	if ok {
		delete(m.sessions, callID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.partials)
		close(s.finals)
	}
	history := append([]Transcript(nil), s.history...)
	s.mu.Unlock()
	m.logger.InfoTag("STT", "session stopped: %s", callID)
	return history
}

// Stats snapshots manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		ActiveSessions: len(m.sessions),
		TotalSessions:  m.totalSessions,
		Finals:         m.finalsCount,
		Partials:       m.partialsCount,
		CacheHits:      m.cacheHits,
		SweptSessions:  m.sweptSessions,
		DegradedChunks: m.degradedChunks,
	}
}

// Run drives the background sweep until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep stops sessions that exceeded their maximum lifetime or went
// idle. The pipeline observes the closed finals channel and winds the
// call down.
func (m *Manager) sweep() {
	now := time.Now()

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		s.mu.Lock()
		expired := now.Sub(s.startedAt) > m.cfg.MaxDuration || now.Sub(s.lastActivity) > m.cfg.IdleTimeout
		s.mu.Unlock()
		if expired {
			stale = append(stale, id)
		}
	}
	m.sweptSessions += uint64(len(stale))
	m.mu.Unlock()

	for _, id := range stale {
		m.logger.InfoTag("STT", "sweeping stale session: %s", id)
		m.Stop(id)
	}
}

func (m *Manager) lookup(callID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	if !ok {
		return nil, errors.New(errors.KindSession, "recognition", "no session for call: "+callID)
	}
	return s, nil
}
