package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes outbox records to Kafka. All security events go to one topic
// unless topicByEvent routes a type elsewhere.
type KafkaPublisher struct {
	writer       *kafka.Writer
	defaultTopic string
	topicByEvent map[string]string
}

func NewKafkaPublisher(brokers []string, defaultTopic string, topicByEvent map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if defaultTopic == "" {
		return nil, fmt.Errorf("kafka publisher requires a default topic")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		},
		defaultTopic: defaultTopic,
		topicByEvent: topicByEvent,
	}, nil
}

func (p *KafkaPublisher) topicFor(eventType string) string {
	if mapped, ok := p.topicByEvent[eventType]; ok && mapped != "" {
		return mapped
	}
	return p.defaultTopic
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topicFor(eventType),
		Key:   []byte(partitionKey),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
		Time: time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
