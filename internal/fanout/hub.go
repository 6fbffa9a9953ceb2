// Package fanout delivers ranking events to live subscribers. Delivery is
// best effort and at most once per subscriber: the hub never blocks the
// aggregator's write path on a slow consumer.
package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"arp/internal/score"
)

// TopicLeaderboard carries every ranking-affecting agent event.
const TopicLeaderboard = "leaderboard"

// DefaultBuffer is the per-subscriber event buffer. Once it is full the
// subscriber starts losing events instead of slowing everyone else down.
const DefaultBuffer = 16

var (
	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arp",
		Subsystem: "fanout",
		Name:      "subscribers",
		Help:      "Currently connected subscribers.",
	})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arp",
		Subsystem: "fanout",
		Name:      "dropped_events_total",
		Help:      "Events dropped because a subscriber buffer was full.",
	})
)

// Subscription is one subscriber's view of the hub. Events arrive on C until
// Unsubscribe, which closes it.
type Subscription struct {
	C      chan score.Event
	topics []string
	once   sync.Once
}

// Hub is a topic-scoped publish/subscribe fanout.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	logger *slog.Logger
	buffer int
}

// NewHub creates a hub with the given per-subscriber buffer size; zero means
// DefaultBuffer.
func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		logger: logger,
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber on the given topics.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		C:      make(chan score.Event, h.buffer),
		topics: topics,
	}

	h.mu.Lock()
	for _, topic := range topics {
		set, ok := h.topics[topic]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.topics[topic] = set
		}
		set[sub] = struct{}{}
	}
	h.mu.Unlock()

	subscribersGauge.Inc()
	return sub
}

// Unsubscribe removes the subscriber from every topic and closes its channel.
// Idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		for _, topic := range sub.topics {
			if set, ok := h.topics[topic]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.topics, topic)
				}
			}
		}
		h.mu.Unlock()

		subscribersGauge.Dec()
		close(sub.C)
	})
}

// Publish fans the event out to the leaderboard topic. Sends are
// non-blocking; a full subscriber buffer drops that subscriber's copy.
// Per-agent ordering holds because the aggregator publishes from the
// serialized per-agent path.
func (h *Hub) Publish(ctx context.Context, event score.Event) {
	h.publish(ctx, TopicLeaderboard, event)
}

func (h *Hub) publish(ctx context.Context, topic string, event score.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.topics[topic] {
		select {
		case sub.C <- event:
		default:
			droppedTotal.Inc()
			h.logger.DebugContext(ctx, "dropped event for slow subscriber",
				slog.String("topic", topic),
				slog.String("event", string(event.Type)),
				slog.String("address", event.Address),
			)
		}
	}
}
