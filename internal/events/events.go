package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names an order lifecycle event.
type Type string

const (
	OrderPlaced         Type = "order.placed"
	OrderStatusChanged  Type = "order.status_changed"
	ReturnRequested     Type = "return.requested"
	ReturnStatusChanged Type = "return.status_changed"
	StockChanged        Type = "stock.changed"
)

// Event is the payload sent to the queue and consumed by the worker.
type Event struct {
	ID             string    `json:"id"`
	Type           Type      `json:"type"`
	OccurredAt     time.Time `json:"occurred_at"`
	UserID         string    `json:"user_id,omitempty"`
	OrderID        string    `json:"order_id,omitempty"`
	ReturnID       string    `json:"return_id,omitempty"`
	ProductID      string    `json:"product_id,omitempty"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Amount         string    `json:"amount,omitempty"`
	Quantity       int       `json:"quantity,omitempty"`
	Stock          *int      `json:"stock,omitempty"`
}

// New stamps a fresh event of type t.
func New(t Type) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events after the state change they describe has been
// committed. Delivery is at least once.
type Publisher interface {
	Publish(ctx context.Context, evs ...Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
