package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/store"
)

// Service is the per-user cart. Stock checks are made against a product
// version that must still hold when the cart line is written.
type Service struct {
	store    store.Store
	log      logrus.FieldLogger
	attempts int
	nowFunc  func() time.Time
}

func NewService(st store.Store, log logrus.FieldLogger, attempts int) *Service {
	return &Service{
		store:    st,
		log:      log,
		attempts: attempts,
		nowFunc:  time.Now,
	}
}

// Get returns the cart with live product prices.
func (s *Service) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	items, err := s.store.ListCartItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	cart := &domain.Cart{UserID: userID, Items: []domain.CartLine{}, TotalPrice: decimal.Zero}
	for _, it := range items {
		p, err := s.store.GetProduct(ctx, it.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.log.WithFields(logrus.Fields{"user_id": userID, "product_id": it.ProductID}).Warn("cart line points at a missing product")
				continue
			}
			return nil, fmt.Errorf("load cart product: %w", err)
		}
		total := p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		cart.Items = append(cart.Items, domain.CartLine{
			ItemID:    it.ID,
			Product:   *p,
			Quantity:  it.Quantity,
			LineTotal: total,
		})
		cart.TotalPrice = cart.TotalPrice.Add(total)
	}
	return cart, nil
}

// Add puts quantity units of a product in the cart, merging with an
// existing line. created reports whether a new line was made.
func (s *Service) Add(ctx context.Context, userID, productID string, quantity int) (item *domain.CartItem, created bool, err error) {
	if err := checkQuantity(quantity); err != nil {
		return nil, false, err
	}
	err = store.Retry(ctx, s.attempts, func(ctx context.Context) error {
		p, err := s.store.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		existing, err := s.findLine(ctx, userID, productID)
		if err != nil {
			return err
		}

		held := 0
		if existing != nil {
			held = existing.Quantity
		}
		if quantity > p.Stock-held {
			return fmt.Errorf("%w: product %s has %d left, %d in cart and %d more requested", domain.ErrInsufficientStock, p.ID, p.Stock, held, quantity)
		}

		now := s.nowFunc().UTC()
		w := &store.CartWrite{}
		if existing != nil {
			w.Item = *existing
			w.Item.Quantity += quantity
			w.Item.UpdatedAt = now
			w.Version = existing.Version
		} else {
			w.Item = domain.CartItem{
				ID:        uuid.NewString(),
				UserID:    userID,
				ProductID: productID,
				Quantity:  quantity,
				CreatedAt: now,
				UpdatedAt: now,
			}
		}
		m := &store.Mutation{
			ProductChecks: []store.VersionCheck{{ID: p.ID, Version: p.Version}},
			CartPut:       w,
		}
		if err := s.store.Commit(ctx, m); err != nil {
			return err
		}
		it := w.Item
		it.Version = w.Version + 1
		item, created = &it, existing == nil
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return item, created, nil
}

// Update sets the quantity of one of the user's cart lines.
func (s *Service) Update(ctx context.Context, userID, itemID string, quantity int) (*domain.CartItem, error) {
	if err := checkQuantity(quantity); err != nil {
		return nil, err
	}
	var item *domain.CartItem
	err := store.Retry(ctx, s.attempts, func(ctx context.Context) error {
		existing, err := s.store.GetCartItem(ctx, userID, itemID)
		if err != nil {
			return err
		}
		p, err := s.store.GetProduct(ctx, existing.ProductID)
		if err != nil {
			return err
		}
		if quantity > p.Stock {
			return fmt.Errorf("%w: product %s has %d left, %d requested", domain.ErrInsufficientStock, p.ID, p.Stock, quantity)
		}
		w := &store.CartWrite{Item: *existing, Version: existing.Version}
		w.Item.Quantity = quantity
		w.Item.UpdatedAt = s.nowFunc().UTC()
		m := &store.Mutation{
			ProductChecks: []store.VersionCheck{{ID: p.ID, Version: p.Version}},
			CartPut:       w,
		}
		if err := s.store.Commit(ctx, m); err != nil {
			return err
		}
		it := w.Item
		it.Version = w.Version + 1
		item = &it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Remove deletes one cart line owned by userID.
func (s *Service) Remove(ctx context.Context, userID, itemID string) error {
	return s.store.DeleteCartItem(ctx, userID, itemID)
}

// Clear empties the cart. Clearing an empty cart succeeds.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.store.ClearCart(ctx, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (s *Service) findLine(ctx context.Context, userID, productID string) (*domain.CartItem, error) {
	items, err := s.store.ListCartItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	for i := range items {
		if items[i].ProductID == productID {
			return &items[i], nil
		}
	}
	return nil, nil
}

func checkQuantity(q int) error {
	if q < 1 || q > domain.MaxStock {
		return fmt.Errorf("%w: quantity must be between 1 and %d", domain.ErrInvalidInput, domain.MaxStock)
	}
	return nil
}
