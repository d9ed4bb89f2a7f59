package repository

import (
	"context"
	"fmt"

	"CandleSync/internal/domain/models"
	pkgkafka "CandleSync/pkg/kafka"
)

// KafkaPublisher emits candle lifecycle events to a single topic, keyed by
// (source, instrument, timeframe) so per-series ordering is preserved
// within a partition.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishCandleEvent(ctx context.Context, ev *models.CandleEvent) error {
	key := fmt.Sprintf("%s:%s:%s", ev.Source, ev.Instrument, ev.Timeframe)
	return p.producer.Publish(ctx, p.topic, []byte(key), ev)
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
