package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderInTransit OrderStatus = "in-transit"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
	OrderReturned  OrderStatus = "returned"
)

// ParseOrderStatus normalizes a client supplied status.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case OrderPending, OrderInTransit, OrderDelivered, OrderCancelled, OrderReturned:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, raw)
}

// Terminal reports whether no transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderCancelled || s == OrderReturned
}

type Order struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	TotalPrice   decimal.Decimal `json:"total_price" db:"total_price"`
	Status       OrderStatus     `json:"status" db:"status"`
	Version      int64           `json:"-" db:"version"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
	DeliveryDate *time.Time      `json:"delivery_date,omitempty" db:"delivery_date"`
	ReturnDate   *time.Time      `json:"return_date,omitempty" db:"return_date"`
	Items        []OrderItem     `json:"items,omitempty" db:"-"`
}

// OrderItem is a line item; price is the product price at placement time.
type OrderItem struct {
	OrderID   string          `json:"order_id" db:"order_id"`
	ProductID string          `json:"product_id" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
}

// CancelPolicy is the set of states an order may be cancelled from.
type CancelPolicy struct {
	from map[OrderStatus]bool
}

// DefaultCancelPolicy only allows cancelling pending orders.
func DefaultCancelPolicy() CancelPolicy {
	return CancelPolicy{from: map[OrderStatus]bool{OrderPending: true}}
}

// NewCancelPolicy builds a policy from pre-delivery states only.
func NewCancelPolicy(from ...OrderStatus) (CancelPolicy, error) {
	if len(from) == 0 {
		return CancelPolicy{}, fmt.Errorf("%w: cancel policy needs at least one state", ErrInvalidInput)
	}
	p := CancelPolicy{from: map[OrderStatus]bool{}}
	for _, s := range from {
		if s != OrderPending && s != OrderInTransit {
			return CancelPolicy{}, fmt.Errorf("%w: orders cannot be cancelled from %q", ErrInvalidInput, s)
		}
		p.from[s] = true
	}
	return p, nil
}

// Allows reports whether an order in state s may be cancelled.
func (p CancelPolicy) Allows(s OrderStatus) bool {
	return p.from[s]
}

// Empty reports whether p is the zero policy.
func (p CancelPolicy) Empty() bool {
	return len(p.from) == 0
}

// CheckTransition validates an administrative status change from -> to.
// The returned state is reached only through the return workflow.
func (p CancelPolicy) CheckTransition(from, to OrderStatus) error {
	if from.Terminal() {
		return fmt.Errorf("%w: order is already %s", ErrInvalidTransition, from)
	}
	ok := false
	switch to {
	case OrderInTransit:
		ok = from == OrderPending
	case OrderDelivered:
		ok = from == OrderInTransit
	case OrderCancelled:
		ok = p.Allows(from)
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
