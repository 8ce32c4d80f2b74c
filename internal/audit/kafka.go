package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher fans audit events out to a Kafka topic, keyed by
// symbol so every event for a given symbol lands on the same
// partition and downstream consumers see them in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	key := eventKey(ev)
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: marshal kafka event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func eventKey(ev Event) string {
	switch {
	case ev.Order != nil:
		return ev.Order.Symbol
	case ev.Fill != nil:
		return ev.Fill.Symbol
	case ev.Suppression != nil:
		return ev.Suppression.Symbol
	default:
		return "unknown"
	}
}
