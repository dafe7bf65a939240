package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts go out as JSON numbers (35.00), not quoted strings
	decimal.MarshalJSONWithoutQuotes = true
}

// Column limits of the orders schema. Amounts are NUMERIC(14,2), quantities INT.
const (
	MaxQuantity         = math.MaxInt32
	MaxCustomerIDLength = 100
	MaxNameLength       = 255
)

// MaxAmount is the largest price, line total or order total the schema stores
var MaxAmount = decimal.RequireFromString("999999999999.99")

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// OrderStatuses lists every status in lifecycle order
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// transitions holds the only edges this service drives. SHIPPED and DELIVERED
// are reached by external fulfilment and have no outgoing edges here.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusProcessing, OrderStatusCancelled},
}

// ParseOrderStatus resolves a status name case-insensitively
func ParseOrderStatus(s string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))

	for _, status := range OrderStatuses {
		if status == candidate {
			return status, nil
		}
	}

	return "", fmt.Errorf("unknown order status %q", s)
}

// IsValid reports whether s is one of the known statuses
func (s OrderStatus) IsValid() bool {
	_, err := ParseOrderStatus(string(s))
	return err == nil
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order represents an order in the system
type Order struct {
	ID           int64           `db:"id" json:"id"`
	CustomerID   string          `db:"customer_id" json:"customerId"`
	CustomerName string          `db:"customer_name" json:"customerName"`
	Status       OrderStatus     `db:"status" json:"status"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"totalAmount"`
	Version      int             `db:"version" json:"version"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updatedAt"`
	Items        []OrderItem     `db:"-" json:"items"`
}

// OrderItem is a single product line owned by an order
type OrderItem struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"orderId"`
	ProductName string          `db:"product_name" json:"productName"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Quantity    int             `db:"quantity" json:"quantity"`
	Total       decimal.Decimal `db:"total" json:"total"`
}

// NewOrder creates an unsaved order shell in PENDING status
func NewOrder(customerID, customerName string) *Order {
	return &Order{
		CustomerID:   customerID,
		CustomerName: customerName,
		Status:       OrderStatusPending,
		TotalAmount:  decimal.Zero,
		Items:        []OrderItem{},
	}
}

// NewOrderItem creates an unsaved item with its line total computed
func NewOrderItem(productName string, price decimal.Decimal, quantity int) OrderItem {
	return OrderItem{
		ProductName: productName,
		Price:       price,
		Quantity:    quantity,
		Total:       LineTotal(price, quantity),
	}
}

// LineTotal returns price * quantity
func LineTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity)))
}

// Clone returns a deep copy so callers can mutate without aliasing the items slice
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	return &cp
}
