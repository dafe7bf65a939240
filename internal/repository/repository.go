package repository

import (
	"context"
	"errors"

	"github.com/vaidashi/order-processing-api/internal/models"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDatabase     = errors.New("database error")
	ErrStaleVersion = errors.New("record was modified concurrently")
)

// OrderStore is the durable storage contract for orders and their items
type OrderStore interface {
	// Save inserts the order when it has no ID, otherwise updates it guarded by Version
	Save(ctx context.Context, order *models.Order) error
	// SaveItem inserts an item that references an already persisted order
	SaveItem(ctx context.Context, item *models.OrderItem) error
	FindByID(ctx context.Context, id int64) (*models.Order, error)
	FindByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error)
	FindAllWithItems(ctx context.Context) ([]*models.Order, error)
}

// OutboxStore appends lifecycle events
type OutboxStore interface {
	Create(ctx context.Context, message *models.OutboxMessage) error
}

// TxRepos exposes stores bound to a single transaction
type TxRepos interface {
	Orders() OrderStore
	Outbox() OutboxStore
}

// TransactionManager runs fn in a transaction, committing only when fn returns nil
type TransactionManager interface {
	WithinTx(ctx context.Context, fn func(r TxRepos) error) error
}
