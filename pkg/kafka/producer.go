package kafka

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/order-processing-api/pkg/logger"
)

// Producer publishes order lifecycle records synchronously
type Producer struct {
	producer sarama.SyncProducer
	logger   logger.Logger
}

// NewConfig returns idempotent, fully acknowledged producer settings.
// Records with the same key always hash to the same partition.
func NewConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_1_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 10
	config.Producer.Retry.Backoff = 500 * time.Millisecond
	config.Producer.Timeout = 5 * time.Second
	config.Net.MaxOpenRequests = 1

	return config
}

// NewProducer dials the brokers and returns a ready Producer
func NewProducer(brokers []string, logger logger.Logger) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewConfig())

	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer for %v: %w", brokers, err)
	}

	return NewProducerFromSync(producer, logger), nil
}

// NewProducerFromSync wraps an existing sync producer
func NewProducerFromSync(producer sarama.SyncProducer, logger logger.Logger) *Producer {
	return &Producer{
		producer: producer,
		logger:   logger,
	}
}

// SendMessage publishes one record and waits for the brokers to acknowledge it
func (p *Producer) SendMessage(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(newRecord(topic, key, value, headers))

	if err != nil {
		p.logger.Error("Kafka rejected record",
			"error", err,
			"topic", topic,
			"key", key)
		return fmt.Errorf("failed to send record to %s: %w", topic, err)
	}

	p.logger.Debug("Kafka acknowledged record",
		"topic", topic,
		"key", key,
		"partition", partition,
		"offset", offset)

	return nil
}

// Close flushes and closes the underlying producer
func (p *Producer) Close() error {
	return p.producer.Close()
}

func newRecord(topic, key string, value []byte, headers map[string]string) *sarama.ProducerMessage {
	record := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}

	if key != "" {
		record.Key = sarama.StringEncoder(key)
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		record.Headers = append(record.Headers, sarama.RecordHeader{
			Key:   []byte(name),
			Value: []byte(headers[name]),
		})
	}

	return record
}
