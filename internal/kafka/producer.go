package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/snappy-loop/magicstory/internal/events"
)

// messageWriter is the part of kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes story events to Kafka
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer creates an asynchronous Kafka producer. Delivery failures are
// only logged.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn().
					Err(err).
					Str("topic", topic).
					Int("messages", len(messages)).
					Msg("Failed to deliver events to Kafka")
			}
		},
	}

	log.Info().
		Strs("brokers", brokers).
		Str("topic", topic).
		Msg("Kafka producer initialized")

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// Publish implements events.Publisher. Messages are keyed by run ID so one
// run's events stay ordered within a partition.
func (p *Producer) Publish(ctx context.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.Key()),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event to kafka: %w", err)
	}

	log.Debug().
		Str("key", e.Key()).
		Str("type", e.Type).
		Str("state", e.State).
		Str("topic", p.topic).
		Msg("Event queued for Kafka")

	return nil
}

// Close flushes pending messages and closes the producer
func (p *Producer) Close() error {
	log.Info().Msg("Closing Kafka producer")
	return p.writer.Close()
}
