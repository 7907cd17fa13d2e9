package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/events"
	"github.com/imrishuroy/orderflow/internal/store"
)

// Ledger owns product stock. Every stock change is a version guarded stock
// write made by ApplyDelta, UpdateProduct, or a debit or reversal planned
// into an order mutation.
type Ledger struct {
	store    store.Store
	events   events.Publisher
	log      logrus.FieldLogger
	attempts int
	nowFunc  func() time.Time
}

// NewLedger creates a Ledger. attempts bounds optimistic retries; zero uses
// store.DefaultAttempts.
func NewLedger(st store.Store, pub events.Publisher, log logrus.FieldLogger, attempts int) *Ledger {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Ledger{
		store:    st,
		events:   pub,
		log:      log,
		attempts: attempts,
		nowFunc:  time.Now,
	}
}

// ApplyDelta adds a signed quantity to a product's stock, clamping at zero,
// and recomputes its status in the same write. A credit that would take
// stock past domain.MaxStock is rejected.
func (l *Ledger) ApplyDelta(ctx context.Context, productID string, delta int) (*domain.Product, error) {
	updated, err := l.writeStock(ctx, productID, func(p *domain.Product) (int, error) {
		if delta > 0 && p.Stock > domain.MaxStock-delta {
			return 0, fmt.Errorf("%w: stock %d plus %d exceeds %d", domain.ErrInvalidInput, p.Stock, delta, domain.MaxStock)
		}
		return clampStock(p.Stock + delta), nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply delta %d to product %s: %w", delta, productID, err)
	}
	l.log.WithFields(logrus.Fields{
		"product_id": productID,
		"delta":      delta,
		"stock":      updated.Stock,
	}).Info("stock adjusted")
	return updated, nil
}

// setStock replaces a product's stock outright.
func (l *Ledger) setStock(ctx context.Context, productID string, stock int) (*domain.Product, error) {
	if err := checkStock(stock); err != nil {
		return nil, err
	}
	updated, err := l.writeStock(ctx, productID, func(*domain.Product) (int, error) { return stock, nil })
	if err != nil {
		return nil, fmt.Errorf("set stock of product %s: %w", productID, err)
	}
	l.log.WithFields(logrus.Fields{"product_id": productID, "stock": stock}).Info("stock set")
	return updated, nil
}

// writeStock commits the stock next returns for the current product, with
// the status derived from it, and publishes the change.
func (l *Ledger) writeStock(ctx context.Context, productID string, next func(p *domain.Product) (int, error)) (*domain.Product, error) {
	var updated domain.Product
	err := store.Retry(ctx, l.attempts, func(ctx context.Context) error {
		p, err := l.store.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		stock, err := next(p)
		if err != nil {
			return err
		}
		now := l.nowFunc().UTC()
		m := &store.Mutation{
			StockWrites: []store.StockWrite{{
				ProductID: p.ID,
				Version:   p.Version,
				Stock:     stock,
				Status:    domain.StatusForStock(stock),
				UpdatedAt: now,
			}},
		}
		if err := l.store.Commit(ctx, m); err != nil {
			return err
		}
		updated = *p
		updated.Stock = stock
		updated.Status = domain.StatusForStock(stock)
		updated.Version = p.Version + 1
		updated.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.Publish(ctx, StockEvents([]store.StockWrite{{ProductID: updated.ID, Stock: updated.Stock, Status: updated.Status}})...)
	return &updated, nil
}

// Publish sends events and logs delivery failures. The state change has
// already been committed, so a lost event does not fail the caller.
func (l *Ledger) Publish(ctx context.Context, evs ...events.Event) {
	if len(evs) == 0 {
		return
	}
	if err := l.events.Publish(ctx, evs...); err != nil {
		l.log.WithError(err).WithField("events", len(evs)).Error("publish events")
	}
}

func clampStock(stock int) int {
	if stock < 0 {
		return 0
	}
	return stock
}
