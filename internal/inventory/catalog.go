package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/store"
)

// NewProduct is the catalog input for CreateProduct.
type NewProduct struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
}

// ProductChanges lists the fields UpdateProduct replaces. Nil fields are
// left as they are.
type ProductChanges struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
}

func (c ProductChanges) catalog() bool {
	return c.Name != nil || c.Description != nil || c.Price != nil
}

// CreateProduct adds a product to the catalog with its status derived from
// the initial stock.
func (l *Ledger) CreateProduct(ctx context.Context, in NewProduct) (*domain.Product, error) {
	name, err := checkName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := checkPrice(in.Price); err != nil {
		return nil, err
	}
	if err := checkStock(in.Stock); err != nil {
		return nil, err
	}
	now := l.nowFunc().UTC()
	p := &domain.Product{
		ID:          uuid.NewString(),
		Name:        name,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		Status:      domain.StatusForStock(in.Stock),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	l.log.WithFields(logrus.Fields{"product_id": p.ID, "stock": p.Stock}).Info("product created")
	return p, nil
}

// UpdateProduct edits name, description and price in one version guarded
// write. A new stock level is written separately with the status derived
// from it. Orders already placed keep the price they were placed at.
func (l *Ledger) UpdateProduct(ctx context.Context, productID string, ch ProductChanges) (*domain.Product, error) {
	if ch.Name != nil {
		name, err := checkName(*ch.Name)
		if err != nil {
			return nil, err
		}
		ch.Name = &name
	}
	if ch.Price != nil {
		if err := checkPrice(*ch.Price); err != nil {
			return nil, err
		}
	}
	if ch.Stock != nil {
		if err := checkStock(*ch.Stock); err != nil {
			return nil, err
		}
	}

	var updated *domain.Product
	if ch.catalog() {
		err := store.Retry(ctx, l.attempts, func(ctx context.Context) error {
			p, err := l.store.GetProduct(ctx, productID)
			if err != nil {
				return err
			}
			e := &store.ProductEdit{
				ID:          p.ID,
				Version:     p.Version,
				Name:        p.Name,
				Description: p.Description,
				Price:       p.Price,
				UpdatedAt:   l.nowFunc().UTC(),
			}
			if ch.Name != nil {
				e.Name = *ch.Name
			}
			if ch.Description != nil {
				e.Description = *ch.Description
			}
			if ch.Price != nil {
				e.Price = *ch.Price
			}
			if err := l.store.Commit(ctx, &store.Mutation{ProductEdit: e}); err != nil {
				return err
			}
			next := *p
			next.Name, next.Description, next.Price = e.Name, e.Description, e.Price
			next.Version = p.Version + 1
			next.UpdatedAt = e.UpdatedAt
			updated = &next
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("update product %s: %w", productID, err)
		}
		l.log.WithFields(logrus.Fields{"product_id": productID, "price": updated.Price.StringFixed(2)}).Info("product updated")
	}

	if ch.Stock != nil {
		return l.setStock(ctx, productID, *ch.Stock)
	}
	if updated == nil {
		return l.store.GetProduct(ctx, productID)
	}
	return updated, nil
}

// DeleteProduct removes a product and the cart lines holding it. It fails
// with domain.ErrConflict while an order that is neither cancelled nor
// returned has a line for the product.
func (l *Ledger) DeleteProduct(ctx context.Context, productID string) error {
	err := store.Retry(ctx, l.attempts, func(ctx context.Context) error {
		p, err := l.store.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		orders, err := l.store.ListOrders(ctx, store.OrderFilter{ProductID: productID})
		if err != nil {
			return fmt.Errorf("list orders for product: %w", err)
		}
		for _, o := range orders {
			if !o.Status.Terminal() {
				return fmt.Errorf("%w: product %s is on %s order %s", domain.ErrConflict, productID, o.Status, o.ID)
			}
		}
		lines, err := l.store.ListCartItemsByProduct(ctx, productID)
		if err != nil {
			return fmt.Errorf("list cart lines for product: %w", err)
		}

		m := &store.Mutation{ProductDelete: &store.VersionCheck{ID: p.ID, Version: p.Version}}
		for _, it := range lines {
			m.CartDeletes = append(m.CartDeletes, store.CartItemRef{ID: it.ID, UserID: it.UserID, ProductID: it.ProductID, Version: it.Version})
		}
		return l.store.Commit(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("delete product %s: %w", productID, err)
	}
	l.log.WithField("product_id", productID).Info("product deleted")
	return nil
}

func (l *Ledger) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return l.store.GetProduct(ctx, id)
}

func (l *Ledger) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return l.store.ListProducts(ctx)
}

func checkName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", fmt.Errorf("%w: product name is required", domain.ErrInvalidInput)
	}
	return name, nil
}

func checkPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", domain.ErrInvalidInput)
	}
	return nil
}

func checkStock(stock int) error {
	if stock < 0 || stock > domain.MaxStock {
		return fmt.Errorf("%w: stock must be between 0 and %d", domain.ErrInvalidInput, domain.MaxStock)
	}
	return nil
}
