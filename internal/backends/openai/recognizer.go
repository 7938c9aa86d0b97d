package openai

import (
	"bytes"
	"context"

	goopenai "github.com/sashabaranov/go-openai"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/backends"
	"voicegate-server-go/internal/platform/config"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

func init() {
	backends.RegisterRecognizer("openai", NewRecognizer)
	backends.RegisterReplyGenerator("openai", NewReplyGenerator)
}

// Recognizer transcribes finished utterances through the OpenAI audio
// transcription endpoint.
type Recognizer struct {
	client   *goopenai.Client
	model    string
	language string
	logger   *logging.Logger
}

func NewRecognizer(cfg config.BackendConfig, logger *logging.Logger) (backends.Recognizer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.KindConfig, "openai.recognizer", "missing API key")
	}

	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := cfg.ModelName
	if model == "" {
		model = goopenai.Whisper1
	}

	language := ""
	if v, ok := cfg.Extra["language"].(string); ok {
		language = v
	}

	return &Recognizer{
		client:   goopenai.NewClientWithConfig(clientConfig),
		model:    model,
		language: language,
		logger:   logger,
	}, nil
}

func (r *Recognizer) Name() string { return "openai" }

func (r *Recognizer) Transcribe(ctx context.Context, pcm []byte, format audio.Format) (*backends.TranscriptResult, error) {
	if len(pcm) == 0 {
		return nil, errors.New(errors.KindInvalid, "openai.transcribe", "empty utterance")
	}

	resp, err := r.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    r.model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(audio.EncodeWAV(pcm, format)),
		Language: r.language,
		Format:   goopenai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindBackend, "openai.transcribe", "transcription request", err)
	}

	// Fold per-segment log probabilities into one [0,1] score. Without
	// segments the backend gave no signal and the score stays neutral.
	confidence := 0.9
	if len(resp.Segments) > 0 {
		var sum float64
		for _, seg := range resp.Segments {
			// AvgLogprob is at most 0; closer to 0 means more confident.
			p := 1.0 + seg.AvgLogprob
			if p < 0 {
				p = 0
			}
			if p > 1 {
				p = 1
			}
			sum += p * (1.0 - seg.NoSpeechProb)
		}
		confidence = sum / float64(len(resp.Segments))
	}

	return &backends.TranscriptResult{
		Text:       resp.Text,
		Confidence: confidence,
		Language:   resp.Language,
	}, nil
}

func (r *Recognizer) Close() error { return nil }
