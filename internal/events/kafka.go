// Package events streams ranking events to Kafka for downstream consumers.
// Delivery is fire-and-forget from the aggregator's point of view: a broker
// outage degrades the stream, never the write path.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"

	"arp/internal/score"
)

// Topic carries every ranking event, keyed by wallet address so one agent's
// events land on one partition in order.
const Topic = "arp.reputation.events"

var publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "arp",
	Subsystem: "events",
	Name:      "published_total",
	Help:      "Kafka event publications by outcome.",
}, []string{"outcome"})

// Publisher writes ranking events to Kafka. A nil Publisher is valid and
// publishes nothing, so Kafka stays optional in deployments without a broker.
type Publisher struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewPublisher connects to the given brokers. An empty broker list returns
// (nil, nil): the caller wires the nil publisher and the stream is off.
func NewPublisher(brokers []string, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(Topic),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{client: client, logger: logger}, nil
}

// Publish sends one event, keyed by wallet address. Failures are logged and
// counted, never returned to the aggregator.
func (p *Publisher) Publish(ctx context.Context, event score.Event) {
	if p == nil {
		return
	}

	value, err := json.Marshal(event)
	if err != nil {
		publishedTotal.WithLabelValues("encode_error").Inc()
		p.logger.ErrorContext(ctx, "failed to encode ranking event",
			slog.String("event", string(event.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	record := &kgo.Record{
		Topic: Topic,
		Key:   []byte(event.Address),
		Value: value,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			publishedTotal.WithLabelValues("error").Inc()
			p.logger.ErrorContext(ctx, "failed to publish ranking event",
				slog.String("event", string(event.Type)),
				slog.String("address", event.Address),
				slog.String("error", err.Error()),
			)
			return
		}
		publishedTotal.WithLabelValues("success").Inc()
	})
}

// Close flushes buffered records and releases the client.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.client.Close()
}
