package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"
)

func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Net.MaxOpenRequests = 1
	cfg.Metadata.Retry.Max = 5
	cfg.Metadata.Retry.Backoff = 2 * time.Second
	return cfg
}

// NewProducer creates a Sarama SyncProducer.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(brokers, NewSaramaConfig())
}

// KafkaPublisher writes transaction events to a topic keyed by reference, so
// every event for one transaction lands on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(_ context.Context, event TransactionEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Transaction.Reference),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(event.Type)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		log.Error().Err(err).Str("reference", event.Transaction.Reference).Msg("kafka publish failed")
		return err
	}
	log.Debug().Str("topic", p.topic).Int32("partition", partition).Int64("offset", offset).Msg("transaction event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
