package edge

import (
	"context"

	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"voicegate-server-go/internal/backends"
	"voicegate-server-go/internal/platform/config"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

func init() {
	backends.RegisterSynthesizer("edge", NewSynthesizer)
}

// Synthesizer renders text through the Edge neural voices. The service
// needs no credentials, which makes it the default synthesis backend.
type Synthesizer struct {
	voice  string
	logger *logging.Logger
}

func NewSynthesizer(cfg config.TTSBackendConfig, logger *logging.Logger) (backends.Synthesizer, error) {
	voice := cfg.Voice
	if voice == "" {
		voice = "en-US-AriaNeural"
	}
	return &Synthesizer{voice: voice, logger: logger}, nil
}

func (s *Synthesizer) Name() string { return "edge" }

func (s *Synthesizer) Synthesize(ctx context.Context, req backends.SynthesizeRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, errors.New(errors.KindInvalid, "edge.synthesize", "empty text")
	}

	voice := req.Voice
	if voice == "" {
		voice = s.voice
	}

	communicate, err := edge_tts.NewCommunicate(req.Text, edge_tts.SetVoice(voice))
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "edge.synthesize", "open communicator", err)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, oerr := communicate.Stream()
		done <- result{data: data, err: oerr}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(errors.KindBackend, "edge.synthesize", "synthesis canceled", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, errors.Wrap(errors.KindBackend, "edge.synthesize", "render audio", res.err)
		}
		if len(res.data) == 0 {
			return nil, errors.New(errors.KindBackend, "edge.synthesize", "backend returned no audio")
		}
		return res.data, nil
	}
}

func (s *Synthesizer) Close() error { return nil }
