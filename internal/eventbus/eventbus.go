package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Topics for process-wide events. Per-session data flows over typed
// channels owned by the session; the bus carries only cross-cutting
// notifications any component may care about.
const (
	TopicHealthChanged  = "health.changed"
	TopicCacheThrashing = "cache.thrashing"
	TopicSessionClosed  = "session.closed"
)

// HealthChangedEvent fires when a backend's health status transitions.
type HealthChangedEvent struct {
	Backend string
	From    string
	To      string
}

// CacheThrashingEvent fires when eviction rate suggests the local cache
// is undersized.
type CacheThrashingEvent struct {
	Cache        string
	EvictionRate float64
}

// SessionClosedEvent fires after a call session is fully torn down.
type SessionClosedEvent struct {
	CallID string
	Reason string
}

// Bus is a typed facade over the underlying event bus, so publishers
// and subscribers share one signature per topic.
type Bus struct {
	inner evbus.Bus
}

func New() *Bus {
	return &Bus{inner: evbus.New()}
}

func (b *Bus) PublishHealthChanged(ev HealthChangedEvent) {
	b.inner.Publish(TopicHealthChanged, ev)
}

func (b *Bus) SubscribeHealthChanged(fn func(HealthChangedEvent)) error {
	return b.inner.SubscribeAsync(TopicHealthChanged, fn, false)
}

func (b *Bus) PublishCacheThrashing(ev CacheThrashingEvent) {
	b.inner.Publish(TopicCacheThrashing, ev)
}

func (b *Bus) SubscribeCacheThrashing(fn func(CacheThrashingEvent)) error {
	return b.inner.SubscribeAsync(TopicCacheThrashing, fn, false)
}

func (b *Bus) PublishSessionClosed(ev SessionClosedEvent) {
	b.inner.Publish(TopicSessionClosed, ev)
}

func (b *Bus) SubscribeSessionClosed(fn func(SessionClosedEvent)) error {
	return b.inner.SubscribeAsync(TopicSessionClosed, fn, false)
}

// WaitAsync blocks until queued async deliveries settle, used during
// shutdown so events are not dropped mid-flight.
func (b *Bus) WaitAsync() {
	b.inner.WaitAsync()
}
