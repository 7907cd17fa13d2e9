package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus is derived from stock and never set independently.
type ProductStatus string

const (
	ProductInStock ProductStatus = "in-stock"
	ProductSold    ProductStatus = "sold"
)

// MaxStock is the largest stock a product may hold; stock columns are 32 bit.
const MaxStock = math.MaxInt32

// StatusForStock returns the status a product with the given stock must carry.
func StatusForStock(stock int) ProductStatus {
	if stock > 0 {
		return ProductInStock
	}
	return ProductSold
}

type Product struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description,omitempty" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Stock       int             `json:"stock" db:"stock"`
	Status      ProductStatus   `json:"status" db:"status"`
	Version     int64           `json:"-" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// MovementKind tells a debit from a credit in the stock ledger.
type MovementKind string

const (
	MovementDebit  MovementKind = "debit"
	MovementCredit MovementKind = "credit"
)

// StockMovement records one stock adjustment caused by an order line.
// At most one movement exists per (order, product, kind).
type StockMovement struct {
	OrderID   string       `json:"order_id" db:"order_id"`
	ProductID string       `json:"product_id" db:"product_id"`
	Kind      MovementKind `json:"kind" db:"kind"`
	Quantity  int          `json:"quantity" db:"quantity"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}
