package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/vaidashi/order-processing-api/internal/models"
	"github.com/vaidashi/order-processing-api/pkg/logger"
	"github.com/vaidashi/order-processing-api/pkg/retry"
)

// Publisher sends a keyed record to a topic
type Publisher interface {
	SendMessage(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// KafkaHandler publishes outbox messages to Kafka
type KafkaHandler struct {
	publisher Publisher
	topic     string
	retry     *retry.RetryConfig
	logger    logger.Logger
}

// NewKafkaHandler creates a new KafkaHandler
func NewKafkaHandler(publisher Publisher, topic string, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		publisher: publisher,
		topic:     topic,
		retry: &retry.RetryConfig{
			MaxAttempts: 3,
			BackoffStrategy: &retry.ExponentialBackoff{
				InitialInterval: 200 * time.Millisecond,
				MaxInterval:     2 * time.Second,
				Multiplier:      2.0,
				JitterFactor:    0.1,
			},
			Logger: logger,
		},
		logger: logger,
	}
}

// HandleMessage publishes the payload keyed by order id, so every event of
// one order lands on the same partition in commit order
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	headers := map[string]string{
		"event_type":     message.EventType,
		"aggregate_type": message.AggregateType,
	}

	err := retry.Retry(ctx, func(ctx context.Context) error {
		return h.publisher.SendMessage(ctx, h.topic, message.AggregateID, message.Payload, headers)
	}, h.retry)

	if err != nil {
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Debug("Published outbox message",
		"topic", h.topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	return nil
}
