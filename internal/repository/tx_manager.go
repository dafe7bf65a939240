package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vaidashi/order-processing-api/internal/database"
	"github.com/vaidashi/order-processing-api/pkg/logger"
)

// TxManager opens sqlx transactions and hands out stores bound to them
type TxManager struct {
	db     *database.Database
	logger logger.Logger
}

// NewTxManager creates a new TxManager
func NewTxManager(db *database.Database, logger logger.Logger) *TxManager {
	return &TxManager{
		db:     db,
		logger: logger,
	}
}

type txRepos struct {
	orders *OrderRepository
	outbox *OutboxRepository
}

func (r *txRepos) Orders() OrderStore  { return r.orders }
func (r *txRepos) Outbox() OutboxStore { return r.outbox }

// WithinTx runs fn inside a transaction, rolling back on error or panic
func (m *TxManager) WithinTx(ctx context.Context, fn func(r TxRepos) error) (err error) {
	tx, err := m.db.DB.BeginTxx(ctx, nil)

	if err != nil {
		m.logger.Error("Failed to begin transaction", "error", err)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}

		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				m.logger.Error("Failed to rollback transaction", "error", rbErr)
			}
		}
	}()

	repos := &txRepos{
		orders: &OrderRepository{q: tx, logger: m.logger},
		outbox: &OutboxRepository{q: tx, logger: m.logger},
	}

	if err = fn(repos); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		m.logger.Error("Failed to commit transaction", "error", err)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}
