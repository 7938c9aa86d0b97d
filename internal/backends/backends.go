package backends

import (
	"context"

	"voicegate-server-go/internal/audio"
)

// TranscriptResult is one recognition outcome for a complete utterance.
type TranscriptResult struct {
	Text       string
	Confidence float64
	Language   string
}

// Recognizer transcribes a finished utterance. Implementations must be
// safe for use from one goroutine at a time; callers needing parallelism
// take instances from a Pool.
type Recognizer interface {
	Name() string
	Transcribe(ctx context.Context, pcm []byte, format audio.Format) (*TranscriptResult, error)
	Close() error
}

// SynthesizeRequest carries the text and every parameter that affects
// the produced audio.
type SynthesizeRequest struct {
	Text       string
	Voice      string
	Format     string
	SampleRate int
	Rate       string
	Pitch      string
	Volume     string
}

// Synthesizer renders reply text to audio.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req SynthesizeRequest) ([]byte, error)
	Close() error
}

// StreamingSynthesizer is an optional capability. Backends that can
// render incrementally call emit for each piece of audio as it is
// produced, so playback starts before the full utterance is rendered.
// An error returned by emit aborts the render.
type StreamingSynthesizer interface {
	Synthesizer
	SynthesizeStreaming(ctx context.Context, req SynthesizeRequest, emit func(chunk []byte) error) error
}

// Turn is one entry of a call's conversation history.
type Turn struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleCaller    = "user"
	RoleAssistant = "assistant"
)

// ReplyGenerator produces the next assistant utterance. History is
// oldest first and excludes userText.
type ReplyGenerator interface {
	Name() string
	Reply(ctx context.Context, history []Turn, userText string) (string, error)
	Close() error
}
