package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/auth"
	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/events"
	"github.com/imrishuroy/orderflow/internal/inventory"
	"github.com/imrishuroy/orderflow/internal/orders"
	"github.com/imrishuroy/orderflow/internal/store"
)

// Config groups dependencies for the return workflow.
type Config struct {
	Store       store.Store
	Orders      *orders.Service
	Publisher   events.Publisher
	Logger      logrus.FieldLogger
	MaxAttempts int
}

// Service manages return requests on delivered orders.
type Service struct {
	store    store.Store
	orders   *orders.Service
	events   events.Publisher
	log      logrus.FieldLogger
	attempts int
	nowFunc  func() time.Time
}

func NewService(cfg Config) *Service {
	pub := cfg.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		store:    cfg.Store,
		orders:   cfg.Orders,
		events:   pub,
		log:      cfg.Logger,
		attempts: cfg.MaxAttempts,
		nowFunc:  time.Now,
	}
}

// RequestReturn opens the single return allowed for a delivered order.
func (s *Service) RequestReturn(ctx context.Context, actor auth.Identity, orderID, reason string) (*domain.ReturnRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", domain.ErrInvalidInput)
	}
	var created *domain.ReturnRequest
	err := store.Retry(ctx, s.attempts, func(ctx context.Context) error {
		o, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.Owns(o.UserID) {
			return fmt.Errorf("%w: order %s belongs to another user", domain.ErrForbidden, o.ID)
		}
		if o.Status != domain.OrderDelivered {
			return fmt.Errorf("%w: order %s is %s, only delivered orders can be returned", domain.ErrInvalidState, o.ID, o.Status)
		}
		existing, err := s.store.GetReturnByOrder(ctx, o.ID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: return %s already exists for order %s", domain.ErrConflict, existing.ID, o.ID)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		now := s.nowFunc().UTC()
		r := &domain.ReturnRequest{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			UserID:    o.UserID,
			Reason:    reason,
			Status:    domain.ReturnRequested,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.Commit(ctx, &store.Mutation{NewReturn: r}); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("request return for order %s: %w", orderID, err)
	}

	s.log.WithFields(logrus.Fields{"return_id": created.ID, "order_id": created.OrderID}).Info("return requested")
	ev := events.New(events.ReturnRequested)
	ev.UserID = created.UserID
	ev.OrderID = created.OrderID
	ev.ReturnID = created.ID
	ev.Status = string(created.Status)
	s.publish(ctx, ev)
	return created, nil
}

// UpdateStatus moves a return along requested -> approved -> processed or
// requested -> rejected. Processing also completes the order's return in
// the same commit: the order becomes returned and its stock is credited.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Identity, returnID, rawStatus string) (*domain.ReturnRequest, error) {
	if err := auth.RequireRole(actor, auth.RoleAdmin); err != nil {
		return nil, err
	}
	to, err := domain.ParseReturnUpdate(rawStatus)
	if err != nil {
		return nil, err
	}

	var (
		updated *domain.ReturnRequest
		prev    domain.ReturnStatus
		mut     *store.Mutation
		order   *domain.Order
	)
	err = store.Retry(ctx, s.attempts, func(ctx context.Context) error {
		r, err := s.store.GetReturn(ctx, returnID)
		if err != nil {
			return err
		}
		if err := domain.CheckReturnTransition(r.Status, to); err != nil {
			return err
		}
		now := s.nowFunc().UTC()
		m := &store.Mutation{
			ReturnUpdate: &store.ReturnUpdate{ID: r.ID, Version: r.Version, Status: to, UpdatedAt: now},
		}
		var o *domain.Order
		if to == domain.ReturnProcessed {
			if o, err = s.store.GetOrder(ctx, r.OrderID); err != nil {
				return err
			}
			if err := s.orders.PlanReturned(ctx, o, now, m); err != nil {
				return err
			}
		}
		if err := s.store.Commit(ctx, m); err != nil {
			return err
		}
		prev, mut, order = r.Status, m, o
		c := *r
		c.Status = to
		c.Version = r.Version + 1
		c.UpdatedAt = now
		updated = &c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("return %s -> %s: %w", returnID, to, err)
	}

	s.log.WithFields(logrus.Fields{
		"return_id": updated.ID,
		"order_id":  updated.OrderID,
		"from":      prev,
		"to":        updated.Status,
	}).Info("return status changed")

	ev := events.New(events.ReturnStatusChanged)
	ev.UserID = updated.UserID
	ev.OrderID = updated.OrderID
	ev.ReturnID = updated.ID
	ev.Status = string(updated.Status)
	ev.PreviousStatus = string(prev)
	evs := []events.Event{ev}
	if order != nil {
		evs = append(evs, orders.StatusEvent(orders.ApplyUpdate(order, mut.OrderUpdate), order.Status))
		evs = append(evs, inventory.StockEvents(mut.StockWrites)...)
	}
	s.publish(ctx, evs...)
	return updated, nil
}

// ListMine lists the caller's return requests, newest first.
func (s *Service) ListMine(ctx context.Context, actor auth.Identity) ([]domain.ReturnRequest, error) {
	return s.store.ListReturns(ctx, store.ReturnFilter{UserID: actor.UserID})
}

// ListAll lists every return request for an administrator.
func (s *Service) ListAll(ctx context.Context, actor auth.Identity) ([]domain.ReturnRequest, error) {
	if err := auth.RequireRole(actor, auth.RoleAdmin); err != nil {
		return nil, err
	}
	return s.store.ListReturns(ctx, store.ReturnFilter{})
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if err := s.events.Publish(ctx, evs...); err != nil {
		s.log.WithError(err).WithField("events", len(evs)).Error("publish events")
	}
}
