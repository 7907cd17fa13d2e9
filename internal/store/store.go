package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/orderflow/internal/domain"
)

// ErrConflict means a Commit precondition no longer held: a version moved,
// a unique row already existed or a row to delete was gone. Nothing was
// written. Callers re-read and try again.
var ErrConflict = errors.New("optimistic concurrency conflict")

// Store is the persistence port shared by the inventory, cart, order and
// return workflows. Reads return domain.ErrNotFound (wrapped) for missing
// rows. Every write that depends on a previous read goes through Commit.
type Store interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, p *domain.Product) error

	ListCartItems(ctx context.Context, userID string) ([]domain.CartItem, error)
	GetCartItem(ctx context.Context, userID, itemID string) (*domain.CartItem, error)
	DeleteCartItem(ctx context.Context, userID, itemID string) error
	ClearCart(ctx context.Context, userID string) error
	ListCartItemsByProduct(ctx context.Context, productID string) ([]domain.CartItem, error)

	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]domain.Order, error)
	ListMovements(ctx context.Context, orderID string) ([]domain.StockMovement, error)

	GetReturn(ctx context.Context, id string) (*domain.ReturnRequest, error)
	GetReturnByOrder(ctx context.Context, orderID string) (*domain.ReturnRequest, error)
	ListReturns(ctx context.Context, f ReturnFilter) ([]domain.ReturnRequest, error)

	// Commit applies every part of m or none of it.
	Commit(ctx context.Context, m *Mutation) error

	Close() error
}

// OrderFilter narrows ListOrders. An empty UserID lists every order; a
// ProductID keeps only orders with a line for that product.
type OrderFilter struct {
	UserID    string
	ProductID string
}

// ReturnFilter narrows ListReturns. An empty UserID lists every return.
type ReturnFilter struct {
	UserID string
}

// Mutation is one atomic unit of work. Versions are the values read before
// the mutation was planned; a write bumps the stored version by one.
type Mutation struct {
	ProductChecks []VersionCheck
	StockWrites   []StockWrite
	Movements     []domain.StockMovement

	ProductEdit *ProductEdit
	// ProductDelete removes the product at Version. The cart lines that hold
	// it go in CartDeletes; the SQL and memory stores also drop any line
	// written after they were listed.
	ProductDelete *VersionCheck

	CartPut     *CartWrite
	CartDeletes []CartItemRef

	NewOrder    *domain.Order
	OrderUpdate *OrderUpdate

	NewReturn    *domain.ReturnRequest
	ReturnUpdate *ReturnUpdate
}

// Empty reports whether m carries no work.
func (m *Mutation) Empty() bool {
	return len(m.ProductChecks) == 0 && len(m.StockWrites) == 0 && len(m.Movements) == 0 &&
		m.ProductEdit == nil && m.ProductDelete == nil &&
		m.CartPut == nil && len(m.CartDeletes) == 0 && m.NewOrder == nil && m.OrderUpdate == nil &&
		m.NewReturn == nil && m.ReturnUpdate == nil
}

// VersionCheck asserts a product is unchanged without writing it.
type VersionCheck struct {
	ID      string
	Version int64
}

type StockWrite struct {
	ProductID string
	Version   int64
	Stock     int
	Status    domain.ProductStatus
	UpdatedAt time.Time
}

// ProductEdit replaces a product's catalog fields. Stock and status are only
// changed through StockWrite.
type ProductEdit struct {
	ID          string
	Version     int64
	Name        string
	Description string
	Price       decimal.Decimal
	UpdatedAt   time.Time
}

// CartWrite inserts Item when Version is zero (conflicting if the user
// already has a line for the product) and otherwise updates the line
// currently at Version.
type CartWrite struct {
	Item    domain.CartItem
	Version int64
}

type CartItemRef struct {
	ID        string
	UserID    string
	ProductID string
	Version   int64
}

// OrderUpdate changes status; nil dates are left untouched.
type OrderUpdate struct {
	ID           string
	Version      int64
	Status       domain.OrderStatus
	UpdatedAt    time.Time
	DeliveryDate *time.Time
	ReturnDate   *time.Time
}

type ReturnUpdate struct {
	ID        string
	Version   int64
	Status    domain.ReturnStatus
	UpdatedAt time.Time
}
