package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/auth"
	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/events"
	"github.com/imrishuroy/orderflow/internal/inventory"
	"github.com/imrishuroy/orderflow/internal/store"
)

// Config groups dependencies for the order service.
type Config struct {
	Store        store.Store
	Ledger       *inventory.Ledger
	Publisher    events.Publisher
	Logger       logrus.FieldLogger
	CancelPolicy domain.CancelPolicy
	MaxAttempts  int
}

// Service is the order state machine.
type Service struct {
	store    store.Store
	ledger   *inventory.Ledger
	events   events.Publisher
	log      logrus.FieldLogger
	policy   domain.CancelPolicy
	attempts int
	nowFunc  func() time.Time
}

// NewService creates a Service. A zero CancelPolicy means
// domain.DefaultCancelPolicy.
func NewService(cfg Config) *Service {
	policy := cfg.CancelPolicy
	if policy.Empty() {
		policy = domain.DefaultCancelPolicy()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = inventory.NewLedger(cfg.Store, pub, cfg.Logger, cfg.MaxAttempts)
	}
	return &Service{
		store:    cfg.Store,
		ledger:   ledger,
		events:   pub,
		log:      cfg.Logger,
		policy:   policy,
		attempts: cfg.MaxAttempts,
		nowFunc:  time.Now,
	}
}

// Place turns the caller's cart into a pending order. Stock for every line
// is debited, the order and its items are inserted and the cart lines are
// removed in one commit; if any product or cart line changed since it was
// read the whole cycle starts again.
func (s *Service) Place(ctx context.Context, actor auth.Identity) (*domain.Order, error) {
	var (
		order  *domain.Order
		writes []store.StockWrite
	)
	err := store.Retry(ctx, s.attempts, func(ctx context.Context) error {
		items, err := s.store.ListCartItems(ctx, actor.UserID)
		if err != nil {
			return fmt.Errorf("list cart items: %w", err)
		}
		if len(items) == 0 {
			return domain.ErrEmptyCart
		}

		now := s.nowFunc().UTC()
		o := &domain.Order{
			ID:         uuid.NewString(),
			UserID:     actor.UserID,
			TotalPrice: decimal.Zero,
			Status:     domain.OrderPending,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		m := &store.Mutation{NewOrder: o}
		for _, it := range items {
			p, err := s.store.GetProduct(ctx, it.ProductID)
			if err != nil {
				return err
			}
			if err := inventory.PlanDebit(m, *p, it.Quantity, o.ID, now); err != nil {
				return err
			}
			o.Items = append(o.Items, domain.OrderItem{
				OrderID:   o.ID,
				ProductID: p.ID,
				Quantity:  it.Quantity,
				Price:     p.Price,
			})
			o.TotalPrice = o.TotalPrice.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
			m.CartDeletes = append(m.CartDeletes, store.CartItemRef{ID: it.ID, UserID: it.UserID, ProductID: it.ProductID, Version: it.Version})
		}

		if err := s.store.Commit(ctx, m); err != nil {
			return err
		}
		order, writes = o, m.StockWrites
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"items":    len(order.Items),
		"total":    order.TotalPrice.StringFixed(2),
	}).Info("order placed")

	ev := events.New(events.OrderPlaced)
	ev.UserID = order.UserID
	ev.OrderID = order.ID
	ev.Status = string(order.Status)
	ev.Amount = order.TotalPrice.StringFixed(2)
	for _, it := range order.Items {
		ev.Quantity += it.Quantity
	}
	s.ledger.Publish(ctx, append([]events.Event{ev}, inventory.StockEvents(writes)...)...)
	return order, nil
}

// UpdateStatus is the administrative status change.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Identity, orderID, rawStatus string) (*domain.Order, error) {
	if err := auth.RequireRole(actor, auth.RoleAdmin); err != nil {
		return nil, err
	}
	to, err := domain.ParseOrderStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, orderID, to, func(*domain.Order) error { return nil })
}

// Cancel lets the owner or an administrator cancel an order whose status
// the cancel policy allows. Stock for every line is credited back.
func (s *Service) Cancel(ctx context.Context, actor auth.Identity, orderID string) (*domain.Order, error) {
	return s.transition(ctx, orderID, domain.OrderCancelled, func(o *domain.Order) error {
		return auth.RequireOwnerOrAdmin(actor, o.UserID)
	})
}

func (s *Service) transition(ctx context.Context, orderID string, to domain.OrderStatus, authorize func(*domain.Order) error) (*domain.Order, error) {
	var (
		updated *domain.Order
		prev    domain.OrderStatus
		writes  []store.StockWrite
	)
	err := store.Retry(ctx, s.attempts, func(ctx context.Context) error {
		o, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorize(o); err != nil {
			return err
		}
		if err := s.policy.CheckTransition(o.Status, to); err != nil {
			return err
		}

		now := s.nowFunc().UTC()
		u := &store.OrderUpdate{ID: o.ID, Version: o.Version, Status: to, UpdatedAt: now}
		m := &store.Mutation{OrderUpdate: u}
		switch to {
		case domain.OrderDelivered:
			u.DeliveryDate = &now
		case domain.OrderCancelled:
			if err := s.ledger.PlanReversal(ctx, o, now, m); err != nil {
				return err
			}
		}
		if err := s.store.Commit(ctx, m); err != nil {
			return err
		}
		prev, writes = o.Status, m.StockWrites
		updated = ApplyUpdate(o, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("order %s -> %s: %w", orderID, to, err)
	}

	s.log.WithFields(logrus.Fields{
		"order_id": updated.ID,
		"from":     prev,
		"to":       updated.Status,
	}).Info("order status changed")
	s.ledger.Publish(ctx, append([]events.Event{StatusEvent(updated, prev)}, inventory.StockEvents(writes)...)...)
	return updated, nil
}

// PlanReturned adds the return-completion transition of o to m: the order
// becomes returned, return_date is stamped and every debited line is
// credited back. o must be delivered.
func (s *Service) PlanReturned(ctx context.Context, o *domain.Order, now time.Time, m *store.Mutation) error {
	if o.Status != domain.OrderDelivered {
		return fmt.Errorf("%w: order %s is %s, not delivered", domain.ErrInvalidState, o.ID, o.Status)
	}
	m.OrderUpdate = &store.OrderUpdate{
		ID:         o.ID,
		Version:    o.Version,
		Status:     domain.OrderReturned,
		UpdatedAt:  now,
		ReturnDate: &now,
	}
	return s.ledger.PlanReversal(ctx, o, now, m)
}

// Get returns an order with its items to its owner or an administrator.
func (s *Service) Get(ctx context.Context, actor auth.Identity, orderID string) (*domain.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOwnerOrAdmin(actor, o.UserID); err != nil {
		return nil, err
	}
	return o, nil
}

// ListMine lists the caller's orders, newest first.
func (s *Service) ListMine(ctx context.Context, actor auth.Identity) ([]domain.Order, error) {
	return s.store.ListOrders(ctx, store.OrderFilter{UserID: actor.UserID})
}

// ListAll lists every order for an administrator.
func (s *Service) ListAll(ctx context.Context, actor auth.Identity) ([]domain.Order, error) {
	if err := auth.RequireRole(actor, auth.RoleAdmin); err != nil {
		return nil, err
	}
	return s.store.ListOrders(ctx, store.OrderFilter{})
}

// ApplyUpdate returns a copy of o with u applied, mirroring what the store
// wrote.
func ApplyUpdate(o *domain.Order, u *store.OrderUpdate) *domain.Order {
	c := *o
	c.Status = u.Status
	c.Version = u.Version + 1
	c.UpdatedAt = u.UpdatedAt
	if u.DeliveryDate != nil {
		t := *u.DeliveryDate
		c.DeliveryDate = &t
	}
	if u.ReturnDate != nil {
		t := *u.ReturnDate
		c.ReturnDate = &t
	}
	return &c
}

// StatusEvent describes a committed order status change.
func StatusEvent(o *domain.Order, prev domain.OrderStatus) events.Event {
	ev := events.New(events.OrderStatusChanged)
	ev.UserID = o.UserID
	ev.OrderID = o.ID
	ev.Status = string(o.Status)
	ev.PreviousStatus = string(prev)
	ev.Amount = o.TotalPrice.StringFixed(2)
	return ev
}
