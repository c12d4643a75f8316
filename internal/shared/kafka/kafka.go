package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Writer = kafka.Writer

// NewWriter cria um writer sem tópico fixo: cada mensagem informa o seu
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
	}
}

// NewReader consome um ou mais tópicos no mesmo consumer group
func NewReader(brokers []string, groupID string, topics ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupTopics:    topics,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
}

// WriteJSON envia um payload já serializado; a chave define a partição
func WriteJSON(ctx context.Context, w *kafka.Writer, topic, key string, payload []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	}

	return w.WriteMessages(ctx, msg)
}
