package indexer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/R3E-Network/agent-registry-indexer/infrastructure/metrics"
)

// busCapacity is the minimum per-subscriber buffer size required by spec §4.G ("capacity >= 1000").
const busCapacity = 1024

// busMetricsLabel is the broadcast_subscribers chain_id label used by the bus. A single Bus
// instance is shared across every chain's syncer, so subscriber count cannot be attributed to
// an individual chain; chain_id=0 stands for "all chains" rather than mislabeling the metric
// with one arbitrary chain's ID.
const busMetricsLabel = 0

// Bus is a multi-producer, multi-consumer in-process broadcast channel for freshly persisted
// events. Publish never blocks on a slow subscriber: if a subscriber's buffer is full, Bus drops
// that subscriber's oldest buffered event to make room for the new one ("drop-oldest"), so slow
// readers never backpressure the indexer loop. The bus is purely in-process and is never
// persisted; history is recovered, if needed, through the storage layer's paginated query API.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	metrics     *metrics.Metrics
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]chan Event)}
}

// SetMetrics attaches a metrics collector; nil-safe, so Bus works unmodified in tests that never
// call it.
func (b *Bus) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
}

func (b *Bus) recordSubscriberCount() {
	if b.metrics == nil {
		return
	}
	b.metrics.SetBroadcastSubscribers(busMetricsLabel, len(b.subscribers))
}

// Subscribe registers a new subscriber and returns its event channel plus an unsubscribe func.
// The caller must keep draining the channel; Unsubscribe closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, busCapacity)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.recordSubscriberCount()
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
			b.recordSubscriberCount()
		}
	}
	return ch, unsubscribe
}

// Publish sends e to every current subscriber, preserving send order within this single
// publisher (spec §5: "a subscriber sees the same prefix"). Non-fatal and effectively a no-op
// if there are no subscribers.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		publishDropOldest(ch, e)
	}
}

// publishDropOldest performs a non-blocking send, and if the channel is full, discards the
// oldest buffered value before retrying so slow consumers never block the publisher.
func publishDropOldest(ch chan Event, e Event) {
	select {
	case ch <- e:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}

	select {
	case ch <- e:
	default:
		// Another goroutine raced us and refilled the buffer; dropping this event is
		// acceptable per spec (history remains queryable via the storage layer).
	}
}

// SubscriberCount reports the current number of live subscribers. The broadcast_subscribers metric
// is recorded separately, from the subscriber map, inside Subscribe and unsubscribe.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
