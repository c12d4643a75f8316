package producer

import (
	"context"

	"github.com/segmentio/kafka-go"

	skafka "github.com/radieske/dice-settlement/internal/shared/kafka"
)

// KafkaPublisher entrega as mensagens da outbox no tópico de cada uma
type KafkaPublisher struct {
	Writer *kafka.Writer
}

func NewKafkaPublisher(w *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{Writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return skafka.WriteJSON(ctx, p.Writer, topic, key, payload)
}

func (p *KafkaPublisher) Close() error { return p.Writer.Close() }
