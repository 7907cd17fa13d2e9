package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is unique per (user, product).
type CartItem struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	ProductID string    `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	Version   int64     `json:"-" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CartLine is a cart item joined with the product it points at.
type CartLine struct {
	ItemID    string          `json:"item_id"`
	Product   Product         `json:"product"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Cart struct {
	UserID     string          `json:"user_id"`
	Items      []CartLine      `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
}
