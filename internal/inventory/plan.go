package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/events"
	"github.com/imrishuroy/orderflow/internal/store"
)

// PlanDebit adds a debit of qty units of p for orderID to m. The write is
// guarded by p.Version, so a concurrent change to the product fails the
// whole commit.
func PlanDebit(m *store.Mutation, p domain.Product, qty int, orderID string, now time.Time) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	if qty > p.Stock {
		return fmt.Errorf("%w: product %s has %d left, %d requested", domain.ErrInsufficientStock, p.ID, p.Stock, qty)
	}
	stock := p.Stock - qty
	m.StockWrites = append(m.StockWrites, store.StockWrite{
		ProductID: p.ID,
		Version:   p.Version,
		Stock:     stock,
		Status:    domain.StatusForStock(stock),
		UpdatedAt: now,
	})
	m.Movements = append(m.Movements, domain.StockMovement{
		OrderID:   orderID,
		ProductID: p.ID,
		Kind:      domain.MovementDebit,
		Quantity:  qty,
		CreatedAt: now,
	})
	return nil
}

// PlanReversal adds to m a credit for every product debited by order that
// has not been credited yet. Each credit returns exactly the debited
// quantity, and the credit movement is unique per (order, product), so
// reversing an order twice cannot inflate stock.
func (l *Ledger) PlanReversal(ctx context.Context, order *domain.Order, now time.Time, m *store.Mutation) error {
	movements, err := l.store.ListMovements(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("list movements for order %s: %w", order.ID, err)
	}
	debited := map[string]int{}
	credited := map[string]bool{}
	for _, mv := range movements {
		switch mv.Kind {
		case domain.MovementDebit:
			debited[mv.ProductID] += mv.Quantity
		case domain.MovementCredit:
			credited[mv.ProductID] = true
		}
	}

	for _, it := range order.Items {
		qty, ok := debited[it.ProductID]
		if !ok || credited[it.ProductID] {
			continue
		}
		p, err := l.store.GetProduct(ctx, it.ProductID)
		if err != nil {
			return fmt.Errorf("reverse order %s: %w", order.ID, err)
		}
		if p.Stock > domain.MaxStock-qty {
			return fmt.Errorf("%w: reversing order %s overflows stock of product %s", domain.ErrInvalidState, order.ID, p.ID)
		}
		stock := p.Stock + qty
		m.StockWrites = append(m.StockWrites, store.StockWrite{
			ProductID: p.ID,
			Version:   p.Version,
			Stock:     stock,
			Status:    domain.StatusForStock(stock),
			UpdatedAt: now,
		})
		m.Movements = append(m.Movements, domain.StockMovement{
			OrderID:   order.ID,
			ProductID: p.ID,
			Kind:      domain.MovementCredit,
			Quantity:  qty,
			CreatedAt: now,
		})
		credited[it.ProductID] = true
	}
	return nil
}

// StockEvents describes committed stock writes.
func StockEvents(writes []store.StockWrite) []events.Event {
	out := make([]events.Event, 0, len(writes))
	for _, w := range writes {
		ev := events.New(events.StockChanged)
		ev.ProductID = w.ProductID
		ev.Status = string(w.Status)
		stock := w.Stock
		ev.Stock = &stock
		out = append(out, ev)
	}
	return out
}
