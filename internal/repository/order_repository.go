package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/vaidashi/order-processing-api/internal/database"
	"github.com/vaidashi/order-processing-api/internal/models"
	"github.com/vaidashi/order-processing-api/pkg/logger"
)

// foreign_key_violation
const pqForeignKeyViolation = "23503"

const orderColumns = `id, customer_id, customer_name, status, total_amount, version, created_at, updated_at`

// OrderRepository handles database operations for orders
type OrderRepository struct {
	q      sqlx.ExtContext
	logger logger.Logger
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *database.Database, logger logger.Logger) *OrderRepository {
	return &OrderRepository{
		q:      db.DB,
		logger: logger,
	}
}

// Save inserts a new order or updates an existing one
func (r *OrderRepository) Save(ctx context.Context, order *models.Order) error {
	if order.ID == 0 {
		return r.insert(ctx, order)
	}
	return r.update(ctx, order)
}

func (r *OrderRepository) insert(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (customer_id, customer_name, status, total_amount, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		RETURNING id, version, created_at, updated_at
	`

	err := r.q.QueryRowxContext(
		ctx,
		query,
		order.CustomerID,
		order.CustomerName,
		order.Status,
		order.TotalAmount,
		models.GetCurrentTime(),
	).Scan(&order.ID, &order.Version, &order.CreatedAt, &order.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to create order", "error", err, "customerID", order.CustomerID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

func (r *OrderRepository) update(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders
		SET customer_id = $1, customer_name = $2, status = $3, total_amount = $4,
			version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7
		RETURNING version, updated_at
	`

	err := r.q.QueryRowxContext(
		ctx,
		query,
		order.CustomerID,
		order.CustomerName,
		order.Status,
		order.TotalAmount,
		models.GetCurrentTime(),
		order.ID,
		order.Version,
	).Scan(&order.Version, &order.UpdatedAt)

	if err == nil {
		return nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		r.logger.Error("Failed to update order", "error", err, "orderID", order.ID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	// Nothing matched: either the row is gone or someone bumped the version
	exists, err := r.exists(ctx, order.ID)

	if err != nil {
		return err
	}

	if !exists {
		return ErrNotFound
	}

	r.logger.Warn("Order version conflict", "orderID", order.ID, "version", order.Version)
	return ErrStaleVersion
}

func (r *OrderRepository) exists(ctx context.Context, id int64) (bool, error) {
	var exists bool

	err := sqlx.GetContext(ctx, r.q, &exists, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id)

	if err != nil {
		r.logger.Error("Failed to check order existence", "error", err, "orderID", id)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return exists, nil
}

// SaveItem inserts an order item, its order must already exist
func (r *OrderRepository) SaveItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_name, price, quantity, total)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.q.QueryRowxContext(
		ctx,
		query,
		item.OrderID,
		item.ProductName,
		item.Price,
		item.Quantity,
		item.Total,
	).Scan(&item.ID)

	if err != nil {
		var pqErr *pq.Error

		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return fmt.Errorf("%w: order %d", ErrNotFound, item.OrderID)
		}

		r.logger.Error("Failed to create order item", "error", err, "orderID", item.OrderID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// FindByID retrieves an order and its items
func (r *OrderRepository) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	var order models.Order
	err := sqlx.GetContext(ctx, r.q, &order, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get order by ID", "error", err, "orderID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	orders := []*models.Order{&order}

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	return &order, nil
}

// FindByStatus retrieves every order in the given status
func (r *OrderRepository) FindByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY id`

	orders := []*models.Order{}
	err := sqlx.SelectContext(ctx, r.q, &orders, query, status)

	if err != nil {
		r.logger.Error("Failed to get orders by status", "error", err, "status", status)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// loadItems fills the items of all given orders with one query
func (r *OrderRepository) loadItems(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(orders))
	byID := make(map[int64]*models.Order, len(orders))

	for _, o := range orders {
		o.Items = []models.OrderItem{}
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}

	query, args, err := sqlx.In(`
		SELECT id, order_id, product_name, price, quantity, total
		FROM order_items
		WHERE order_id IN (?)
		ORDER BY order_id, id
	`, ids)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	var items []models.OrderItem

	if err := sqlx.SelectContext(ctx, r.q, &items, sqlx.Rebind(sqlx.DOLLAR, query), args...); err != nil {
		r.logger.Error("Failed to load order items", "error", err, "orders", len(ids))
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	for _, item := range items {
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	return nil
}

// orderItemRow is one row of the orders x order_items join
type orderItemRow struct {
	models.Order
	ItemID          sql.NullInt64       `db:"item_id"`
	ItemProductName sql.NullString      `db:"item_product_name"`
	ItemPrice       decimal.NullDecimal `db:"item_price"`
	ItemQuantity    sql.NullInt64       `db:"item_quantity"`
	ItemTotal       decimal.NullDecimal `db:"item_total"`
}

// FindAllWithItems retrieves every order with its items in a single join
func (r *OrderRepository) FindAllWithItems(ctx context.Context) ([]*models.Order, error) {
	query := `
		SELECT o.id, o.customer_id, o.customer_name, o.status, o.total_amount, o.version,
			o.created_at, o.updated_at,
			i.id AS item_id, i.product_name AS item_product_name, i.price AS item_price,
			i.quantity AS item_quantity, i.total AS item_total
		FROM orders o
		LEFT JOIN order_items i ON i.order_id = o.id
		ORDER BY o.id, i.id
	`

	var rows []orderItemRow

	if err := sqlx.SelectContext(ctx, r.q, &rows, query); err != nil {
		r.logger.Error("Failed to get all orders", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	orders := []*models.Order{}
	var current *models.Order

	for _, row := range rows {
		if current == nil || current.ID != row.ID {
			order := row.Order
			order.Items = []models.OrderItem{}
			current = &order
			orders = append(orders, current)
		}

		if !row.ItemID.Valid {
			continue
		}

		current.Items = append(current.Items, models.OrderItem{
			ID:          row.ItemID.Int64,
			OrderID:     row.ID,
			ProductName: row.ItemProductName.String,
			Price:       row.ItemPrice.Decimal,
			Quantity:    int(row.ItemQuantity.Int64),
			Total:       row.ItemTotal.Decimal,
		})
	}

	return orders, nil
}
