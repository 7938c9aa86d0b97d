package breaker

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate-server-go/internal/platform/errors"
	"voicegate-server-go/internal/platform/logging"
)

var errBackend = stderrors.New("backend unreachable")

func newTestBreaker(threshold int, reset time.Duration) *Breaker {
	return New("stt", Config{Threshold: threshold, ResetTimeout: reset}, logging.Discard())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		_ = b.Do(func() error { return errBackend })
		assert.Equal(t, StateClosed, b.State())
	}

	_ = b.Do(func() error { return errBackend })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })
	require.NoError(t, b.Do(func() error { return nil }))
	_ = b.Do(func() error { return errBackend })
	_ = b.Do(func() error { return errBackend })

	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not trip the breaker")
}

func TestBreakerRejectsFastWhileOpen(t *testing.T) {
	b := newTestBreaker(1, time.Minute)
	_ = b.Do(func() error { return errBackend })
	require.Equal(t, StateOpen, b.State())

	called := false
	start := time.Now()
	err := b.Do(func() error { called = true; return nil })
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindBusy))
	assert.False(t, called, "open breaker must not touch the backend")
	assert.Less(t, elapsed, time.Millisecond)
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	b := newTestBreaker(1, 20*time.Millisecond)
	_ = b.Do(func() error { return errBackend })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Do(func() error {
			close(probeStarted)
			<-probeRelease
			return nil
		})
	}()

	<-probeStarted
	assert.Equal(t, StateHalfOpen, b.State())

	// A second caller while the probe is in flight is rejected.
	err := b.Do(func() error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindBusy))

	close(probeRelease)
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)
	_ = b.Do(func() error { return errBackend })
	time.Sleep(20 * time.Millisecond)

	_ = b.Do(func() error { return errBackend })
	assert.Equal(t, StateOpen, b.State())

	// The failed probe restarts the cooldown.
	err := b.Do(func() error { return nil })
	require.Error(t, err)
}

func TestBreakerIgnoresCallerErrors(t *testing.T) {
	b := newTestBreaker(2, time.Minute)

	for i := 0; i < 10; i++ {
		_ = b.Do(func() error {
			return errors.New(errors.KindInvalid, "stt.feed", "empty utterance")
		})
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	b := newTestBreaker(2, time.Minute)

	// A caller hanging up or barging in mid-call aborts the backend
	// request; that is not the backend's fault.
	for i := 0; i < 10; i++ {
		_ = b.Do(func() error {
			return errors.Wrap(errors.KindBackend, "tts.render", "canceled", context.Canceled)
		})
	}
	assert.Equal(t, StateClosed, b.State())

	_ = b.Do(func() error {
		return errors.Wrap(errors.KindBackend, "tts.render", "timed out", context.DeadlineExceeded)
	})
	_ = b.Do(func() error {
		return errors.Wrap(errors.KindBackend, "tts.render", "timed out", context.DeadlineExceeded)
	})
	assert.Equal(t, StateOpen, b.State(), "deadline overruns still count against the backend")
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []State
	done := make(chan struct{}, 4)

	b := New("tts", Config{
		Threshold:    1,
		ResetTimeout: 10 * time.Millisecond,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
			done <- struct{}{}
		},
	}, logging.Discard())

	_ = b.Do(func() error { return errBackend })
	<-done
	time.Sleep(20 * time.Millisecond)
	_ = b.Do(func() error { return nil })
	<-done
	<-done

	// Callbacks run on their own goroutines, so only membership is
	// asserted, not arrival order.
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreakerReset(t *testing.T) {
	b := newTestBreaker(1, time.Hour)
	_ = b.Do(func() error { return errBackend })
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Do(func() error { return nil }))
}
