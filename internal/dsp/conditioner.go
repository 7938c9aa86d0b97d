package dsp

import (
	"time"

	"voicegate-server-go/internal/audio"
	"voicegate-server-go/internal/platform/logging"
)

// Conditioner is one stateful per-call audio transform. Implementations
// are not safe for concurrent use; each call session owns its own chain
// and feeds it chunks in arrival order.
type Conditioner interface {
	Name() string
	Process(chunk *audio.Chunk) (*audio.Chunk, error)
	Reset()
	Destroy()
}

// Chain applies conditioners in a fixed order. A conditioner failure is
// contained: the chunk continues down the chain unmodified rather than
// being dropped (recognition accuracy degrades, the call does not).
type Chain struct {
	conditioners []Conditioner
	budget       time.Duration
	logger       *logging.Logger
}

// NewChain builds the chain in the given order.
func NewChain(logger *logging.Logger, budget time.Duration, conditioners ...Conditioner) *Chain {
	return &Chain{
		conditioners: conditioners,
		budget:       budget,
		logger:       logger,
	}
}

// Process runs the chunk through every conditioner. Per-conditioner
// timing is checked against the micro-budget; overruns are logged, never
// blocked on.
func (c *Chain) Process(chunk *audio.Chunk) *audio.Chunk {
	for _, cond := range c.conditioners {
		out, err := c.processOne(cond, chunk)
		if err != nil {
			c.logger.WarnTag("DSP", "conditioner %s failed open: %v", cond.Name(), err)
			continue
		}
		chunk = out
	}
	return chunk
}

func (c *Chain) processOne(cond Conditioner, chunk *audio.Chunk) (out *audio.Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &panicError{name: cond.Name(), value: r}
		}
	}()

	start := time.Now()
	out, err = cond.Process(chunk)
	if elapsed := time.Since(start); c.budget > 0 && elapsed > c.budget {
		c.logger.WarnTag("DSP", "conditioner %s exceeded budget: %v > %v", cond.Name(), elapsed, c.budget)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = chunk
	}
	return out, nil
}

// Reset clears all per-call state, e.g. between reconnects of the same call.
func (c *Chain) Reset() {
	for _, cond := range c.conditioners {
		cond.Reset()
	}
}

// Destroy releases conditioner resources. The chain is unusable afterwards.
func (c *Chain) Destroy() {
	for _, cond := range c.conditioners {
		cond.Destroy()
	}
	c.conditioners = nil
}

type panicError struct {
	name  string
	value any
}

func (e *panicError) Error() string {
	return "conditioner " + e.name + " panicked"
}
