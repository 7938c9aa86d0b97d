package backends

import (
	"context"
	"time"

	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

// Pool keeps warm backend instances so a call never pays connection or
// client setup cost on the hot path. Get prefers an idle instance and
// falls back to creating one; Put returns the instance after resetting
// its per-call state.
type Pool[T any] struct {
	name    string
	create  func() (T, error)
	reset   func(T) error
	destroy func(T)
	idle    chan T
	logger  *logging.Logger
}

func NewPool[T any](name string, size int, logger *logging.Logger,
	create func() (T, error), reset func(T) error, destroy func(T)) *Pool[T] {
	if size <= 0 {
		size = 4
	}
	return &Pool[T]{
		name:    name,
		create:  create,
		reset:   reset,
		destroy: destroy,
		idle:    make(chan T, size),
		logger:  logger,
	}
}

// Warmup pre-creates up to n idle instances. A failure stops the warmup
// and is returned; instances created so far stay in the pool.
func (p *Pool[T]) Warmup(n int) error {
	if n > cap(p.idle) {
		n = cap(p.idle)
	}
	for i := 0; i < n; i++ {
		inst, err := p.create()
		if err != nil {
			return errors.Wrap(errors.KindBackend, "pool."+p.name, "warmup", err)
		}
		select {
		case p.idle <- inst:
		default:
			p.destroy(inst)
			return nil
		}
	}
	p.logger.InfoTag("POOL", "%s warmed with %d instances", p.name, n)
	return nil
}

// Maintain refills the pool back up to min idle instances on a fixed
// interval, replacing instances destroyed after reset failures. It
// blocks until ctx is cancelled.
func (p *Pool[T]) Maintain(ctx context.Context, interval time.Duration, min int) {
	if interval <= 0 || min <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refill(min)
		}
	}
}

func (p *Pool[T]) refill(min int) {
	for p.Idle() < min {
		inst, err := p.create()
		if err != nil {
			p.logger.WarnTag("POOL", "%s refill failed: %v", p.name, err)
			return
		}
		select {
		case p.idle <- inst:
		default:
			p.destroy(inst)
			return
		}
	}
}

func (p *Pool[T]) Get(ctx context.Context) (T, error) {
	select {
	case inst := <-p.idle:
		return inst, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, errors.Wrap(errors.KindBusy, "pool."+p.name, "acquire", err)
	}
	inst, err := p.create()
	if err != nil {
		var zero T
		return zero, errors.Wrap(errors.KindBackend, "pool."+p.name, "create", err)
	}
	return inst, nil
}

// Put returns an instance to the pool. Instances that fail to reset,
// and instances beyond pool capacity, are destroyed.
func (p *Pool[T]) Put(inst T) {
	if p.reset != nil {
		if err := p.reset(inst); err != nil {
			p.logger.WarnTag("POOL", "%s instance reset failed, destroying: %v", p.name, err)
			p.destroy(inst)
			return
		}
	}
	select {
	case p.idle <- inst:
	default:
		p.destroy(inst)
	}
}

// Close destroys all idle instances. Instances currently checked out
// are destroyed by their holders via Put after Close drains.
func (p *Pool[T]) Close() {
	for {
		select {
		case inst := <-p.idle:
			p.destroy(inst)
		default:
			return
		}
	}
}

// Idle reports how many instances are parked.
func (p *Pool[T]) Idle() int {
	return len(p.idle)
}
