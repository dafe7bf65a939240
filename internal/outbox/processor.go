package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/order-processing-api/internal/models"
	"github.com/vaidashi/order-processing-api/pkg/logger"
)

// MessageHandler defines the interface for handling outbox messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, message *models.OutboxMessage) error
}

// Store is the part of the outbox repository the processor drives
type Store interface {
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*models.OutboxMessage, error)
	MarkAsCompleted(ctx context.Context, id int64) error
	MarkForRetry(ctx context.Context, id int64, errorMessage string) error
	MarkAsFailed(ctx context.Context, id int64, errorMessage string) error
}

// markTimeout bounds each status write. Those writes run on their own context
// so that a message is never left in processing when the batch context ends.
const markTimeout = 5 * time.Second

// Processor publishes lifecycle events written to the outbox table
type Processor struct {
	store           Store
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	claimLease      time.Duration
	logger          logger.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// ProcessorConfig holds the configuration for the Processor
type ProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
	// ClaimLease is how long a claimed message may stay in processing before
	// another poll takes it over. Defaults to ten polling intervals.
	ClaimLease time.Duration
}

// NewProcessor creates a new Processor
func NewProcessor(store Store, config ProcessorConfig, logger logger.Logger) *Processor {
	if config.ClaimLease <= 0 {
		config.ClaimLease = 10 * config.PollingInterval
	}

	return &Processor{
		store:           store,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		claimLease:      config.ClaimLease,
		logger:          logger,
	}
}

// RegisterHandler registers a message handler for a specific event type
func (p *Processor) RegisterHandler(eventType string, handler MessageHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handlers[eventType] = handler
}

// Start starts the outbox processor
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.processOutbox()
	}()

	p.logger.Info("Outbox processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize)
}

// Stop stops the outbox processor
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) processOutbox() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(p.ctx, p.pollingInterval)

			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("Failed to process outbox batch", "error", err)
			}

			cancel()
		}
	}
}

// ProcessBatch claims one batch of pending messages and dispatches each.
// It returns how many messages were published.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	messages, err := p.store.ClaimPending(ctx, p.batchSize, p.claimLease)

	if err != nil {
		return 0, fmt.Errorf("failed to claim pending messages: %w", err)
	}

	if len(messages) == 0 {
		return 0, nil
	}

	p.logger.Debug("Processing batch of outbox messages", "count", len(messages))

	published := 0

	for i, msg := range messages {
		if err := ctx.Err(); err != nil {
			p.release(messages[i:], err)
			return published, fmt.Errorf("outbox batch interrupted after %d of %d messages: %w", i, len(messages), err)
		}

		if err := p.processMessage(ctx, msg); err != nil {
			p.logger.Error("Failed to process message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType)
			continue
		}
		published++
	}

	return published, nil
}

// release hands unprocessed messages back to pending
func (p *Processor) release(messages []*models.OutboxMessage, cause error) {
	for _, msg := range messages {
		if err := p.mark(func(ctx context.Context) error {
			return p.store.MarkForRetry(ctx, msg.ID, "batch interrupted: "+cause.Error())
		}); err != nil {
			p.logger.Error("Failed to release claimed message", "error", err, "messageID", msg.ID)
		}
	}
}

// mark runs a status write on a fresh context bounded by markTimeout
func (p *Processor) mark(write func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
	defer cancel()

	return write(ctx)
}

func (p *Processor) processMessage(ctx context.Context, msg *models.OutboxMessage) error {
	p.mu.Lock()
	handler, exists := p.handlers[msg.EventType]
	p.mu.Unlock()

	if !exists {
		errorMsg := fmt.Sprintf("no handler registered for event type: %s", msg.EventType)

		if err := p.mark(func(ctx context.Context) error {
			return p.store.MarkAsFailed(ctx, msg.ID, errorMsg)
		}); err != nil {
			p.logger.Error("Failed to mark message as failed", "error", err, "messageID", msg.ID)
		}

		return errors.New(errorMsg)
	}

	if err := handler.HandleMessage(ctx, msg); err != nil {
		// An interrupted batch is not the message's fault, so it never counts towards failing it
		if msg.ProcessingAttempts >= p.maxRetries && ctx.Err() == nil {
			errorMsg := fmt.Sprintf("max retries reached: %s", err.Error())

			if markErr := p.mark(func(ctx context.Context) error {
				return p.store.MarkAsFailed(ctx, msg.ID, errorMsg)
			}); markErr != nil {
				p.logger.Error("Failed to mark message as failed", "error", markErr, "messageID", msg.ID)
			}

			return fmt.Errorf("message failed after %d attempts: %w", msg.ProcessingAttempts, err)
		}

		p.logger.Warn("Message processing failed, will retry",
			"error", err,
			"messageID", msg.ID,
			"attempt", msg.ProcessingAttempts)

		if markErr := p.mark(func(ctx context.Context) error {
			return p.store.MarkForRetry(ctx, msg.ID, err.Error())
		}); markErr != nil {
			p.logger.Error("Failed to return message to pending", "error", markErr, "messageID", msg.ID)
		}

		return err
	}

	if err := p.mark(func(ctx context.Context) error {
		return p.store.MarkAsCompleted(ctx, msg.ID)
	}); err != nil {
		return fmt.Errorf("failed to mark message as completed: %w", err)
	}

	p.logger.Debug("Successfully processed message",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)

	return nil
}
