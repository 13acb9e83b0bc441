package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"attestor/internal/events"
)

// KafkaPublisher ships lifecycle events to a topic for downstream compliance
// consumers. It is a best-effort sink alongside the durable chain, so
// produce failures are logged and dropped, never surfaced to the lifecycle.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher connects to the given brokers. Callers wire the returned
// publisher onto the event bus and Close it on shutdown.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

// Handle implements events.Handler. Records are keyed by attestation id so
// per-attestation ordering survives partitioning.
func (p *KafkaPublisher) Handle(ctx context.Context, ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "kafka audit encode failed", "error", err)
		return
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.AttestationID),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("kafka audit produce failed",
				"eventType", string(ev.Type),
				"attestationId", ev.AttestationID,
				"error", err,
			)
		}
	})
}

// Close flushes outstanding records and releases the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}
