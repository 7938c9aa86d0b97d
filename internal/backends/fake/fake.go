package fake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/backends"
	"voicegate-server-go/internal/platform/config"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

// Deterministic in-memory backends for tests and local development.
// Registered like real backends so the whole wiring path, registry
// included, is exercised without network access.

func init() {
	backends.RegisterRecognizer("fake", func(cfg config.BackendConfig, logger *logging.Logger) (backends.Recognizer, error) {
		return NewRecognizer(), nil
	})
	backends.RegisterSynthesizer("fake", func(cfg config.TTSBackendConfig, logger *logging.Logger) (backends.Synthesizer, error) {
		return NewSynthesizer(), nil
	})
	backends.RegisterReplyGenerator("fake", func(cfg config.BackendConfig, logger *logging.Logger) (backends.ReplyGenerator, error) {
		return NewReplyGenerator(), nil
	})
}

// Recognizer returns scripted transcripts in order, then a generic one.
type Recognizer struct {
	mu      sync.Mutex
	scripts []backends.TranscriptResult
	next    int

	Delay time.Duration
	Fail  atomic.Bool
	Calls atomic.Int64
}

func NewRecognizer(scripts ...backends.TranscriptResult) *Recognizer {
	return &Recognizer{scripts: scripts}
}

func (r *Recognizer) Name() string { return "fake" }

func (r *Recognizer) Transcribe(ctx context.Context, pcm []byte, format audio.Format) (*backends.TranscriptResult, error) {
	r.Calls.Add(1)
	if r.Fail.Load() {
		return nil, errors.New(errors.KindBackend, "fake.transcribe", "scripted failure")
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, errors.Wrap(errors.KindBackend, "fake.transcribe", "canceled", ctx.Err())
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next < len(r.scripts) {
		result := r.scripts[r.next]
		r.next++
		return &result, nil
	}
	return &backends.TranscriptResult{
		Text:       fmt.Sprintf("utterance of %d bytes", len(pcm)),
		Confidence: 0.95,
		Language:   "en",
	}, nil
}

func (r *Recognizer) Close() error { return nil }

// Synthesizer produces one deterministic byte per input character, so
// tests can assert on payload identity without real audio.
type Synthesizer struct {
	Delay time.Duration
	Fail  atomic.Bool
	Calls atomic.Int64

	// StreamGate, when set, makes SynthesizeStreaming pause after its
	// first chunk until the gate closes, so tests can observe delivery
	// while the render is still in flight.
	StreamGate chan struct{}
}

func NewSynthesizer() *Synthesizer { return &Synthesizer{} }

func (s *Synthesizer) Name() string { return "fake" }

func (s *Synthesizer) Synthesize(ctx context.Context, req backends.SynthesizeRequest) ([]byte, error) {
	s.Calls.Add(1)
	if s.Fail.Load() {
		return nil, errors.New(errors.KindBackend, "fake.synthesize", "scripted failure")
	}
	if req.Text == "" {
		return nil, errors.New(errors.KindInvalid, "fake.synthesize", "empty text")
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, errors.Wrap(errors.KindBackend, "fake.synthesize", "canceled", ctx.Err())
		}
	}
	return []byte(req.Voice + "|" + req.Text), nil
}

// SynthesizeStreaming emits the rendering in 4-byte pieces.
func (s *Synthesizer) SynthesizeStreaming(ctx context.Context, req backends.SynthesizeRequest, emit func(chunk []byte) error) error {
	s.Calls.Add(1)
	if s.Fail.Load() {
		return errors.New(errors.KindBackend, "fake.synthesize", "scripted failure")
	}
	if req.Text == "" {
		return errors.New(errors.KindInvalid, "fake.synthesize", "empty text")
	}

	rendered := []byte(req.Voice + "|" + req.Text)
	for offset := 0; offset < len(rendered); offset += 4 {
		end := offset + 4
		if end > len(rendered) {
			end = len(rendered)
		}
		if err := emit(append([]byte(nil), rendered[offset:end]...)); err != nil {
			return err
		}
		if offset == 0 && s.StreamGate != nil {
			select {
			case <-s.StreamGate:
			case <-ctx.Done():
				return errors.Wrap(errors.KindBackend, "fake.synthesize", "canceled", ctx.Err())
			}
		}
	}
	return nil
}

func (s *Synthesizer) Close() error { return nil }

// ReplyGenerator echoes the caller with a fixed prefix.
type ReplyGenerator struct {
	Delay time.Duration
	Fail  atomic.Bool
	Calls atomic.Int64
}

func NewReplyGenerator() *ReplyGenerator { return &ReplyGenerator{} }

func (g *ReplyGenerator) Name() string { return "fake" }

func (g *ReplyGenerator) Reply(ctx context.Context, history []backends.Turn, userText string) (string, error) {
	g.Calls.Add(1)
	if g.Fail.Load() {
		return "", errors.New(errors.KindBackend, "fake.reply", "scripted failure")
	}
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return "", errors.Wrap(errors.KindBackend, "fake.reply", "canceled", ctx.Err())
		}
	}
	return "You said: " + userText, nil
}

func (g *ReplyGenerator) Close() error { return nil }
