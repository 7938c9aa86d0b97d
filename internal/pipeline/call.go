package pipeline

import (
	"context"
	"sync"
	"time"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/backends"
	"voicegate-server-go/internal/dsp"
	"voicegate-server-go/internal/eventbus"
	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/metrics"
	"voicegate-server-go/internal/recognition"
)

// EventKind discriminates pipeline events delivered to the transport.
type EventKind string

const (
	// EventPartial carries an interim transcript.
	EventPartial EventKind = "partial"
	// EventFinal carries the final transcript of an utterance.
	EventFinal EventKind = "final"
	// EventAudio carries one playback chunk of the synthesized reply.
	EventAudio EventKind = "audio"
	// EventStatus carries a human-readable pipeline state change.
	EventStatus EventKind = "status"
	// EventTurn carries the full report of a completed turn.
	EventTurn EventKind = "turn"
)

// Event is one item on a call's outbound stream.
type Event struct {
	Kind       EventKind
	Transcript *recognition.Transcript
	Audio      []byte
	Status     string
	Turn       *TurnReport
}

// TurnReport summarizes one completed turn for clients and operators.
type TurnReport struct {
	CallID           string           `json:"call_id"`
	Turn             int              `json:"turn"`
	Transcript       string           `json:"transcript"`
	TranscriptCached bool             `json:"transcript_cached"`
	ReplyText        string           `json:"reply_text"`
	AudioBytes       int              `json:"audio_bytes"`
	SynthesisCached  bool             `json:"synthesis_cached"`
	Fallback         bool             `json:"fallback"`
	Latency          LatencyBreakdown `json:"latency"`
	Quality          QualityMetrics   `json:"quality"`
}

// Call is one phone call's pipeline instance. ProcessChunk is called
// from the transport read loop, one goroutine at a time; turns run on
// their own goroutines and deliver results via Events.
type Call struct {
	engine     *Engine
	callID     string
	chain      *dsp.Chain
	vad        *dsp.VAD
	echo       *dsp.EchoSuppressor
	recSession *recognition.Session

	events    chan Event
	forwardWG sync.WaitGroup
	turnWG    sync.WaitGroup

	// Pre-speech ring, touched only from the transport read loop. The
	// VAD confirms speech after MinSpeechDuration of energy, so the
	// onset chunks land here and are flushed to recognition when the
	// SpeechStart boundary fires.
	preSpeech    []*audio.Chunk
	preSpeechDur time.Duration
	preSpeechMax time.Duration

	mu         sync.Mutex
	history    []backends.Turn
	turns      int
	preprocess time.Duration
	lastSeq    uint64
	hasSeq     bool
	dropped    uint64
	closed     bool
}

// Events is the outbound stream. It closes after Close returns.
func (c *Call) Events() <-chan Event { return c.events }

// ID returns the call identifier.
func (c *Call) ID() string { return c.callID }

// Backlog reports undelivered events waiting on the stream.
func (c *Call) Backlog() int { return len(c.events) }

// Turns reports completed turns so far.
func (c *Call) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns
}

// ProcessChunk runs one inbound chunk through conditioning and VAD,
// feeds speech to recognition, and kicks off a turn when the caller
// stops talking. Chunks with a sequence number at or below the last
// accepted one are duplicates from transport retries and are dropped.
func (c *Call) ProcessChunk(ctx context.Context, chunk *audio.Chunk) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New(errors.KindSession, "pipeline.chunk", "call closed: "+c.callID)
	}
	if c.hasSeq && chunk.Sequence <= c.lastSeq {
		c.mu.Unlock()
		c.engine.metrics.ChunksTotal.WithLabelValues("duplicate").Inc()
		return nil
	}
	c.lastSeq = chunk.Sequence
	c.hasSeq = true
	c.mu.Unlock()

	start := time.Now()
	conditioned := c.chain.Process(chunk)
	elapsed := time.Since(start)
	c.engine.metrics.ObserveStage(metrics.StagePreprocess, elapsed)
	c.engine.metrics.ChunksTotal.WithLabelValues("processed").Inc()

	c.mu.Lock()
	c.preprocess += elapsed
	c.mu.Unlock()

	boundaries := c.vad.TakeBoundaries()
	speechStarted := false
	speechEnded := false
	for _, b := range boundaries {
		switch b.Kind {
		case dsp.SpeechStart:
			// The caller interrupting playback is barge-in: stop
			// talking and listen.
			c.engine.synthesizer.StopStreaming(c.callID)
			c.emit(Event{Kind: EventStatus, Status: "listening"})
			speechStarted = true
		case dsp.SpeechEnd:
			speechEnded = true
		}
	}

	if speechStarted {
		if err := c.flushPreSpeech(ctx); err != nil {
			return err
		}
	}

	if c.vad.InSpeech() || speechEnded {
		if err := c.engine.recognizer.Feed(ctx, c.callID, conditioned); err != nil {
			return err
		}
	} else {
		c.bufferPreSpeech(conditioned)
	}

	if speechEnded {
		c.emit(Event{Kind: EventStatus, Status: "thinking"})
		c.turnWG.Add(1)
		go c.runTurn(context.WithoutCancel(ctx))
	}
	return nil
}

// bufferPreSpeech keeps the most recent silence-classified chunks so
// the ramp before a confirmed SpeechStart is not lost.
func (c *Call) bufferPreSpeech(chunk *audio.Chunk) {
	c.preSpeech = append(c.preSpeech, chunk)
	c.preSpeechDur += chunk.Duration()
	for len(c.preSpeech) > 0 && c.preSpeechDur > c.preSpeechMax {
		c.preSpeechDur -= c.preSpeech[0].Duration()
		c.preSpeech = c.preSpeech[1:]
	}
}

// flushPreSpeech feeds the buffered onset into recognition, in arrival
// order, ahead of the chunk that confirmed the speech.
func (c *Call) flushPreSpeech(ctx context.Context) error {
	for _, chunk := range c.preSpeech {
		if err := c.engine.recognizer.Feed(ctx, c.callID, chunk); err != nil {
			return err
		}
	}
	c.preSpeech = nil
	c.preSpeechDur = 0
	return nil
}

// runTurn executes recognition, reply generation and synthesis for one
// utterance, emitting events as results land.
func (c *Call) runTurn(ctx context.Context) {
	defer c.turnWG.Done()

	e := c.engine
	turnStart := time.Now()

	c.mu.Lock()
	lat := LatencyBreakdown{Preprocess: c.preprocess}
	c.preprocess = 0
	c.turns++
	turn := c.turns
	c.mu.Unlock()

	fallback := false
	confidence := 0.0
	transcriptText := ""
	transcriptCached := false

	recCtx, recCancel := context.WithTimeout(ctx, e.cfg.RecognitionTimeout)
	recStart := time.Now()
	final, err := e.recognizer.Flush(recCtx, c.callID)
	recCancel()
	lat.Recognition = time.Since(recStart)
	e.metrics.ObserveStage(metrics.StageRecognition, lat.Recognition)
	e.health.Record("recognition", err)
	if err != nil {
		e.metrics.StageErrors.WithLabelValues(metrics.StageRecognition).Inc()
		e.logger.WarnTag("PIPELINE", "recognition failed on %s turn %d: %v", c.callID, turn, err)
		fallback = true
	} else {
		confidence = final.Confidence
		transcriptText = final.Text
		transcriptCached = final.Cached
		c.emit(Event{Kind: EventFinal, Transcript: final})
	}

	replyText := ""
	if fallback || transcriptText == "" {
		fallback = true
		replyText = e.cfg.FallbackNoInput
	} else {
		genCtx, genCancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
		genStart := time.Now()
		history := c.snapshotHistory()
		text, gerr := e.reply(genCtx, history, transcriptText)
		genCancel()
		lat.Generation = time.Since(genStart)
		e.metrics.ObserveStage(metrics.StageGeneration, lat.Generation)
		e.health.Record("generation", gerr)
		if gerr != nil {
			e.metrics.StageErrors.WithLabelValues(metrics.StageGeneration).Inc()
			e.logger.WarnTag("PIPELINE", "reply generation failed on %s turn %d: %v", c.callID, turn, gerr)
			fallback = true
			replyText = e.cfg.FallbackBackend
		} else {
			replyText = text
			c.appendHistory(transcriptText, replyText)
		}
	}

	audioBytes := 0
	synthesisCached := false
	synthCtx, synthCancel := context.WithTimeout(ctx, e.cfg.SynthesisTimeout)
	synthStart := time.Now()
	stream, result, serr := e.synthesizer.SynthesizeStream(synthCtx, c.callID, replyText)
	e.health.Record("synthesis", serr)
	if serr != nil {
		synthCancel()
		lat.Synthesis = time.Since(synthStart)
		e.metrics.ObserveStage(metrics.StageSynthesis, lat.Synthesis)
		e.metrics.StageErrors.WithLabelValues(metrics.StageSynthesis).Inc()
		e.logger.ErrorTag("PIPELINE", "synthesis failed on %s turn %d: %v", c.callID, turn, serr)
	} else {
		lat.Synthesis = time.Since(synthStart)
		e.metrics.ObserveStage(metrics.StageSynthesis, lat.Synthesis)
		synthesisCached = result.Cached
		c.emit(Event{Kind: EventStatus, Status: "speaking"})
		for chunk := range stream {
			audioBytes += len(chunk)
			c.echo.NotifyPlayback(c.playbackDuration(len(chunk)))
			c.emit(Event{Kind: EventAudio, Audio: chunk})
		}
		synthCancel()
	}

	lat.finish(time.Since(turnStart))
	quality := gradeTurn(confidence, c.recSession.LastQuality().Score, lat.Total)

	e.metrics.TurnsTotal.Inc()

	c.emit(Event{Kind: EventTurn, Turn: &TurnReport{
		CallID:           c.callID,
		Turn:             turn,
		Transcript:       transcriptText,
		TranscriptCached: transcriptCached,
		ReplyText:        replyText,
		AudioBytes:       audioBytes,
		SynthesisCached:  synthesisCached,
		Fallback:         fallback,
		Latency:          lat,
		Quality:          quality,
	}})
}

func (c *Call) playbackDuration(bytes int) time.Duration {
	f := c.engine.cfg.Format
	frames := bytes / f.BytesPerFrame()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

func (c *Call) snapshotHistory() []backends.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]backends.Turn, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Call) appendHistory(userText, replyText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history,
		backends.Turn{Role: backends.RoleCaller, Content: userText},
		backends.Turn{Role: backends.RoleAssistant, Content: replyText},
	)
	if max := c.engine.cfg.MaxHistoryTurns * 2; len(c.history) > max {
		c.history = c.history[len(c.history)-max:]
	}
}

// forwardPartials relays interim transcripts from recognition onto the
// call's event stream until the recognition session closes.
func (c *Call) forwardPartials() {
	defer c.forwardWG.Done()
	for t := range c.recSession.Partials() {
		partial := t
		c.emit(Event{Kind: EventPartial, Transcript: &partial})
	}
}

// emit delivers without blocking the pipeline. A full channel means the
// transport stopped consuming; dropping is preferable to stalling audio
// processing for a dead client.
func (c *Call) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.events <- ev:
	default:
		c.dropped++
		if c.dropped%64 == 1 {
			c.engine.logger.WarnTag("PIPELINE", "event stream congested on %s, dropped=%d", c.callID, c.dropped)
		}
	}
}

// Close tears the call down: in-flight turns finish, recognition stops,
// the conditioner chain is destroyed and the event stream closes.
func (c *Call) Close(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.engine.synthesizer.StopStreaming(c.callID)
	c.turnWG.Wait()

	c.engine.recognizer.Stop(c.callID)
	c.forwardWG.Wait()

	c.mu.Lock()
	c.closed = true
	close(c.events)
	c.mu.Unlock()
	c.chain.Destroy()
	c.engine.metrics.ActiveSessions.Dec()
	c.engine.logger.InfoTag("PIPELINE", "call closed: %s (%s)", c.callID, reason)
	if c.engine.bus != nil {
		c.engine.bus.PublishSessionClosed(eventbus.SessionClosedEvent{CallID: c.callID, Reason: reason})
	}
}
