//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vaidashi/order-processing-api/internal/database"
	"github.com/vaidashi/order-processing-api/internal/models"
	"github.com/vaidashi/order-processing-api/pkg/logger"
)

type PostgresSuite struct {
	suite.Suite

	ctx       context.Context
	container *postgres.PostgresContainer
	db        *database.Database
	orders    *OrderRepository
	outbox    *OutboxRepository
	tx        *TxManager
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.ctx = context.Background()

	var err error
	s.container, err = postgres.Run(
		s.ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("orders_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)

	dsn, err := s.container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.db, err = database.Connect(s.ctx, dsn, logger.NewNop())
	s.Require().NoError(err)
	s.Require().NoError(s.db.RunMigrations())

	s.orders = NewOrderRepository(s.db, logger.NewNop())
	s.outbox = NewOutboxRepository(s.db, logger.NewNop())
	s.tx = NewTxManager(s.db, logger.NewNop())
}

func (s *PostgresSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		if err := s.container.Terminate(s.ctx); err != nil {
			s.T().Logf("Failed to terminate postgres container: %v", err)
		}
	}
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.db.DB.ExecContext(s.ctx, "TRUNCATE orders, order_items, outbox_messages RESTART IDENTITY CASCADE")
	s.Require().NoError(err)
}

func (s *PostgresSuite) createOrder(customer string, prices ...string) *models.Order {
	var order *models.Order

	err := s.tx.WithinTx(s.ctx, func(r TxRepos) error {
		order = models.NewOrder(customer, "Customer "+customer)
		if err := r.Orders().Save(s.ctx, order); err != nil {
			return err
		}

		for i, p := range prices {
			item := models.NewOrderItem("Product", decimal.RequireFromString(p), i+1)
			item.OrderID = order.ID
			if err := r.Orders().SaveItem(s.ctx, &item); err != nil {
				return err
			}
			order.Items = append(order.Items, item)
			order.TotalAmount = order.TotalAmount.Add(item.Total)
		}

		return r.Orders().Save(s.ctx, order)
	})
	s.Require().NoError(err)

	return order
}

func (s *PostgresSuite) TestRoundTrip() {
	created := s.createOrder("C1", "10.00", "15.00")

	found, err := s.orders.FindByID(s.ctx, created.ID)
	s.Require().NoError(err)

	s.Equal(models.OrderStatusPending, found.Status)
	s.Equal(2, found.Version)
	s.True(found.TotalAmount.Equal(decimal.RequireFromString("40.00")))
	s.Require().Len(found.Items, 2)
	s.True(found.Items[1].Total.Equal(decimal.RequireFromString("30.00")))
}

func (s *PostgresSuite) TestVersionGuard() {
	created := s.createOrder("C1", "1.00")

	first, err := s.orders.FindByID(s.ctx, created.ID)
	s.Require().NoError(err)
	second, err := s.orders.FindByID(s.ctx, created.ID)
	s.Require().NoError(err)

	first.Status = models.OrderStatusCancelled
	s.Require().NoError(s.orders.Save(s.ctx, first))

	second.Status = models.OrderStatusProcessing
	s.ErrorIs(s.orders.Save(s.ctx, second), ErrStaleVersion)

	stored, err := s.orders.FindByID(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(models.OrderStatusCancelled, stored.Status)

	missing := &models.Order{ID: 999, Status: models.OrderStatusCancelled, Version: 1}
	s.ErrorIs(s.orders.Save(s.ctx, missing), ErrNotFound)
}

func (s *PostgresSuite) TestSaveItemRequiresOrder() {
	item := models.NewOrderItem("Orphan", decimal.NewFromInt(1), 1)
	item.OrderID = 12345

	s.ErrorIs(s.orders.SaveItem(s.ctx, &item), ErrNotFound)
}

func (s *PostgresSuite) TestFindByStatusAndAll() {
	a := s.createOrder("A", "1.00")
	s.createOrder("B", "2.00", "3.00")
	s.createOrder("C")

	a.Status = models.OrderStatusCancelled
	s.Require().NoError(s.orders.Save(s.ctx, a))

	pending, err := s.orders.FindByStatus(s.ctx, models.OrderStatusPending)
	s.Require().NoError(err)
	s.Len(pending, 2)

	all, err := s.orders.FindAllWithItems(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Len(all[0].Items, 1)
	s.Len(all[1].Items, 2)
	s.Empty(all[2].Items)
}

func (s *PostgresSuite) TestRollbackDiscardsEverything() {
	err := s.tx.WithinTx(s.ctx, func(r TxRepos) error {
		order := models.NewOrder("C1", "Alice")
		if err := r.Orders().Save(s.ctx, order); err != nil {
			return err
		}

		item := models.NewOrderItem("Widget", decimal.NewFromInt(-1), 1)
		item.OrderID = order.ID
		return r.Orders().SaveItem(s.ctx, &item)
	})
	s.Require().Error(err)

	all, err := s.orders.FindAllWithItems(s.ctx)
	s.Require().NoError(err)
	s.Empty(all)
}

func (s *PostgresSuite) TestOutboxClaimLifecycle() {
	order := s.createOrder("C1", "1.00")

	msg, err := models.NewOrderCreatedEvent(order)
	s.Require().NoError(err)
	s.Require().NoError(s.outbox.Create(s.ctx, msg))

	claimed, err := s.outbox.ClaimPending(s.ctx, 10, time.Minute)
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)
	s.Equal(1, claimed[0].ProcessingAttempts)

	again, err := s.outbox.ClaimPending(s.ctx, 10, time.Minute)
	s.Require().NoError(err)
	s.Empty(again)

	s.Require().NoError(s.outbox.MarkForRetry(s.ctx, msg.ID, "broker down"))

	retried, err := s.outbox.ClaimPending(s.ctx, 10, time.Minute)
	s.Require().NoError(err)
	s.Require().Len(retried, 1)
	s.Equal(2, retried[0].ProcessingAttempts)

	s.Require().NoError(s.outbox.MarkAsCompleted(s.ctx, msg.ID))

	var stored models.OutboxMessage
	s.Require().NoError(s.db.DB.GetContext(s.ctx, &stored,
		`SELECT `+outboxColumns+` FROM outbox_messages WHERE id = $1`, msg.ID))
	s.Equal(models.OutboxStatusCompleted, stored.Status)
	s.NotNil(stored.ProcessedAt)
}

func (s *PostgresSuite) TestOutboxReclaimsExpiredClaims() {
	order := s.createOrder("C1", "1.00")

	msg, err := models.NewOrderCreatedEvent(order)
	s.Require().NoError(err)
	s.Require().NoError(s.outbox.Create(s.ctx, msg))

	claimed, err := s.outbox.ClaimPending(s.ctx, 10, time.Minute)
	s.Require().NoError(err)
	s.Require().Len(claimed, 1)
	s.Require().NotNil(claimed[0].ClaimedAt)

	// The claiming processor died without marking the message
	_, err = s.db.DB.ExecContext(s.ctx,
		`UPDATE outbox_messages SET claimed_at = NOW() - INTERVAL '10 minutes' WHERE id = $1`, msg.ID)
	s.Require().NoError(err)

	live, err := s.outbox.ClaimPending(s.ctx, 10, time.Hour)
	s.Require().NoError(err)
	s.Empty(live)

	reclaimed, err := s.outbox.ClaimPending(s.ctx, 10, time.Minute)
	s.Require().NoError(err)
	s.Require().Len(reclaimed, 1)
	s.Equal(msg.ID, reclaimed[0].ID)
	s.Equal(2, reclaimed[0].ProcessingAttempts)
}
