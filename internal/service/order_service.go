package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/order-processing-api/internal/models"
	"github.com/vaidashi/order-processing-api/internal/repository"
	apperrors "github.com/vaidashi/order-processing-api/pkg/errors"
	"github.com/vaidashi/order-processing-api/pkg/logger"
)

// maxTransitionAttempts bounds how often a transition re-reads after losing a version race
const maxTransitionAttempts = 3

// ItemInput is one requested line of a new order
type ItemInput struct {
	ProductName string
	Price       decimal.Decimal
	Quantity    int
}

// SweepResult summarises one pending to processing sweep
type SweepResult struct {
	Candidates int           `json:"candidates"`
	Promoted   int           `json:"promoted"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// LifecycleRecorder receives lifecycle counters, see pkg/metrics
type LifecycleRecorder interface {
	OrderCreated()
	StatusChanged(from, to string)
	SweepCompleted(promoted, skipped, failed int, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) OrderCreated()                               {}
func (noopRecorder) StatusChanged(string, string)                {}
func (noopRecorder) SweepCompleted(int, int, int, time.Duration) {}

// OrderService owns order creation and every status transition
type OrderService struct {
	orders   repository.OrderStore
	tx       repository.TransactionManager
	recorder LifecycleRecorder
	logger   logger.Logger
}

// NewOrderService creates a new OrderService. recorder may be nil.
func NewOrderService(
	orders repository.OrderStore,
	tx repository.TransactionManager,
	recorder LifecycleRecorder,
	logger logger.Logger,
) *OrderService {
	if recorder == nil {
		recorder = noopRecorder{}
	}

	return &OrderService{
		orders:   orders,
		tx:       tx,
		recorder: recorder,
		logger:   logger,
	}
}

// CreateOrder persists a PENDING order with its items and computed total.
// The shell is saved first to obtain the id the items reference, then the
// order is saved again with its total, all inside one transaction.
func (s *OrderService) CreateOrder(
	ctx context.Context,
	customerID string,
	customerName string,
	items []ItemInput,
) (*models.Order, error) {
	if err := validateNewOrder(customerID, customerName, items); err != nil {
		return nil, err
	}

	var created *models.Order

	err := s.tx.WithinTx(ctx, func(r repository.TxRepos) error {
		order := models.NewOrder(strings.TrimSpace(customerID), strings.TrimSpace(customerName))

		if err := r.Orders().Save(ctx, order); err != nil {
			return err
		}

		total := decimal.Zero
		saved := make([]models.OrderItem, 0, len(items))

		for _, in := range items {
			item := models.NewOrderItem(strings.TrimSpace(in.ProductName), in.Price, in.Quantity)
			item.OrderID = order.ID

			if err := r.Orders().SaveItem(ctx, &item); err != nil {
				return err
			}

			total = total.Add(item.Total)
			saved = append(saved, item)
		}

		order.Items = saved
		order.TotalAmount = total

		if err := r.Orders().Save(ctx, order); err != nil {
			return err
		}

		event, err := models.NewOrderCreatedEvent(order)

		if err != nil {
			return fmt.Errorf("failed to create outbox message: %w", err)
		}

		if err := r.Outbox().Create(ctx, event); err != nil {
			return err
		}

		created = order
		return nil
	})

	if err != nil {
		s.logger.Error("Failed to create order", "error", err, "customerID", customerID)
		return nil, s.translate(err, 0, "create order")
	}

	s.recorder.OrderCreated()
	s.logger.Info("Order created",
		"orderID", created.ID,
		"customerID", created.CustomerID,
		"items", len(created.Items),
		"totalAmount", created.TotalAmount.StringFixed(2))

	return created, nil
}

// GetOrderByID retrieves an order with its items
func (s *OrderService) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	if id <= 0 {
		return nil, apperrors.NewValidationError("order id must be a positive integer").
			WithContext("orderId", id)
	}

	order, err := s.orders.FindByID(ctx, id)

	if err != nil {
		return nil, s.translate(err, id, "get order")
	}

	return order, nil
}

// GetAllOrders retrieves every order with its items
func (s *OrderService) GetAllOrders(ctx context.Context) ([]*models.Order, error) {
	orders, err := s.orders.FindAllWithItems(ctx)

	if err != nil {
		return nil, s.translate(err, 0, "list orders")
	}

	return orders, nil
}

// GetOrdersByStatus retrieves the orders currently in status
func (s *OrderService) GetOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error) {
	if !status.IsValid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown order status %q", status))
	}

	orders, err := s.orders.FindByStatus(ctx, status)

	if err != nil {
		return nil, s.translate(err, 0, "list orders by status")
	}

	return orders, nil
}

// CancelOrder moves a PENDING order to CANCELLED. It is deliberately not
// idempotent: cancelling an already cancelled order is an invalid transition.
func (s *OrderService) CancelOrder(ctx context.Context, id int64) (*models.Order, error) {
	if id <= 0 {
		return nil, apperrors.NewValidationError("order id must be a positive integer").
			WithContext("orderId", id)
	}

	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		order, err := s.orders.FindByID(ctx, id)

		if err != nil {
			return nil, s.translate(err, id, "cancel order")
		}

		updated, err := s.transition(ctx, order, models.OrderStatusCancelled, "cancelled", "cancelled by request")

		if errors.Is(err, repository.ErrStaleVersion) {
			s.logger.Warn("Order changed while cancelling, re-reading", "orderID", id, "attempt", attempt)
			continue
		}

		if err != nil {
			return nil, s.translate(err, id, "cancel order")
		}

		s.logger.Info("Order cancelled", "orderID", id)
		return updated, nil
	}

	return nil, apperrors.NewConflictError(
		fmt.Sprintf("order %d kept changing while being cancelled, try again", id)).
		WithContext("orderId", id)
}

// UpdateOrderStatusToProcessing promotes every PENDING order to PROCESSING.
// Each order commits on its own: a failure leaves that order PENDING and the
// sweep moves on. Orders changed since they were read are skipped.
func (s *OrderService) UpdateOrderStatusToProcessing(ctx context.Context) (SweepResult, error) {
	start := time.Now()

	pending, err := s.orders.FindByStatus(ctx, models.OrderStatusPending)

	if err != nil {
		return SweepResult{}, s.translate(err, 0, "sweep pending orders")
	}

	result := SweepResult{Candidates: len(pending)}
	var errs []error

	for _, order := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("sweep interrupted: %w", err))
			break
		}

		_, err := s.transition(ctx, order, models.OrderStatusProcessing, "moved to PROCESSING", "scheduled sweep")

		switch {
		case err == nil:
			result.Promoted++
		case errors.Is(err, repository.ErrStaleVersion),
			errors.Is(err, repository.ErrNotFound),
			apperrors.KindOf(err) == apperrors.KindInvalidStateTransition:
			result.Skipped++
			s.logger.Debug("Order changed before promotion, skipping", "orderID", order.ID)
		default:
			result.Failed++
			errs = append(errs, fmt.Errorf("order %d: %w", order.ID, err))
			s.logger.Error("Failed to promote order", "error", err, "orderID", order.ID)
		}
	}

	result.Duration = time.Since(start)
	s.recorder.SweepCompleted(result.Promoted, result.Skipped, result.Failed, result.Duration)

	s.logger.Info("Pending order sweep finished",
		"candidates", result.Candidates,
		"promoted", result.Promoted,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", result.Duration)

	if len(errs) > 0 {
		return result, apperrors.NewInternalError(
			fmt.Sprintf("sweep failed for %d of %d orders", result.Failed, result.Candidates),
			errors.Join(errs...))
	}

	return result, nil
}

// transition checks the lifecycle table, then writes the new status and its
// event in one transaction. The write is guarded by the version read with order.
func (s *OrderService) transition(
	ctx context.Context,
	order *models.Order,
	target models.OrderStatus,
	action string,
	reason string,
) (*models.Order, error) {
	if !order.Status.CanTransitionTo(target) {
		return nil, apperrors.NewInvalidStateTransitionError(order.ID, string(order.Status), string(target), action)
	}

	next := order.Clone()
	from := next.Status
	next.Status = target

	err := s.tx.WithinTx(ctx, func(r repository.TxRepos) error {
		if err := r.Orders().Save(ctx, next); err != nil {
			return err
		}

		event, err := models.NewOrderStatusChangedEvent(next, from, reason)

		if err != nil {
			return fmt.Errorf("failed to create outbox message: %w", err)
		}

		return r.Outbox().Create(ctx, event)
	})

	if err != nil {
		return nil, err
	}

	s.recorder.StatusChanged(string(from), string(target))
	s.logger.Debug("Order status changed", "orderID", next.ID, "from", from, "to", target)

	return next, nil
}

// translate turns store errors into typed application errors
func (s *OrderService) translate(err error, orderID int64, op string) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFoundError(fmt.Sprintf("Order not found with id: %d", orderID)).
			WithContext("orderId", orderID)
	case errors.Is(err, repository.ErrStaleVersion):
		return apperrors.NewConflictError(fmt.Sprintf("order %d was modified concurrently", orderID)).
			WithContext("orderId", orderID)
	default:
		return apperrors.NewInternalError(fmt.Sprintf("failed to %s", op), err)
	}
}
