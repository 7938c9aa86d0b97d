package breaker

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

// State of one backend's breaker.
type State int

const (
	// StateClosed passes calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls immediately without touching the backend.
	StateOpen
	// StateHalfOpen admits exactly one probe call after the cooldown.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes one breaker instance.
type Config struct {
	// Threshold is the consecutive failure count that trips the breaker.
	Threshold int
	// ResetTimeout is how long the breaker stays open before admitting
	// a probe.
	ResetTimeout time.Duration
	// OnStateChange fires on every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// Breaker guards one backend. Any number of goroutines may share it;
// rejection in the open state is a mutex check and a comparison, no
// allocation and no backend traffic.
type Breaker struct {
	name   string
	cfg    Config
	logger *logging.Logger

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probeInUse bool
}

func New(name string, cfg Config, logger *logging.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger,
		state:  StateClosed,
	}
}

// Do runs fn under the breaker. In the open state it fails fast with a
// KindBusy error. In the half-open state a single probe is admitted;
// concurrent callers are rejected until the probe settles.
func (b *Breaker) Do(fn func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn()
	b.settle(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return errors.New(errors.KindBusy, "breaker."+b.name, "backend unavailable, breaker open")
		}
		b.transition(StateHalfOpen)
		b.probeInUse = true
		return nil

	case StateHalfOpen:
		if b.probeInUse {
			return errors.New(errors.KindBusy, "breaker."+b.name, "probe in flight, breaker half-open")
		}
		b.probeInUse = true
		return nil

	default:
		return errors.New(errors.KindUnknown, "breaker."+b.name, "invalid breaker state")
	}
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !countsAsFailure(err) {
		b.onSuccess()
		return
	}
	b.onFailure()
}

// countsAsFailure filters out errors the backend is not responsible
// for. Malformed input, a dead session, or the caller cancelling
// mid-call says nothing about backend health and must not trip the
// breaker. Deadline overruns still count.
func countsAsFailure(err error) bool {
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	switch errors.KindOf(err) {
	case errors.KindInvalid, errors.KindSession, errors.KindConfig:
		return false
	default:
		return true
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probeInUse = false
		b.failures = 0
		b.transition(StateClosed)
		b.logger.InfoTag("BREAKER", "%s recovered, breaker closed", b.name)
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.openedAt = time.Now()
			b.transition(StateOpen)
			b.logger.WarnTag("BREAKER", "%s tripped after %d consecutive failures", b.name, b.failures)
		}
	case StateHalfOpen:
		b.probeInUse = false
		b.openedAt = time.Now()
		b.transition(StateOpen)
		b.logger.WarnTag("BREAKER", "%s probe failed, breaker reopened", b.name)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil && from != to {
		go b.cfg.OnStateChange(b.name, from, to)
	}
}

// State reports the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name identifies the guarded backend.
func (b *Breaker) Name() string { return b.name }

// Reset forces the breaker closed, e.g. from an admin action after the
// backend is known healthy again.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probeInUse = false
	b.transition(StateClosed)
}
