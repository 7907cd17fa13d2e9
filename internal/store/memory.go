package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/imrishuroy/orderflow/internal/domain"
)

// Memory is an in-process Store. Commit validates every precondition under
// one lock before applying anything.
type Memory struct {
	mu        sync.RWMutex
	products  map[string]domain.Product
	cart      map[string]domain.CartItem // item id -> item
	orders    map[string]domain.Order
	movements map[string]domain.StockMovement // order/product/kind -> movement
	returns   map[string]domain.ReturnRequest
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		products:  map[string]domain.Product{},
		cart:      map[string]domain.CartItem{},
		orders:    map[string]domain.Order{},
		movements: map[string]domain.StockMovement{},
		returns:   map[string]domain.ReturnRequest{},
	}
}

func movementKey(orderID, productID string, kind domain.MovementKind) string {
	return orderID + "/" + productID + "/" + string(kind)
}

func (m *Memory) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	return &p, nil
}

func (m *Memory) ListProducts(_ context.Context) ([]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateProduct(_ context.Context, p *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; ok {
		return fmt.Errorf("%w: product %s exists", ErrConflict, p.ID)
	}
	m.products[p.ID] = *p
	return nil
}

func (m *Memory) ListCartItems(_ context.Context, userID string) ([]domain.CartItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.CartItem
	for _, it := range m.cart {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListCartItemsByProduct(_ context.Context, productID string) ([]domain.CartItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.CartItem
	for _, it := range m.cart {
		if it.ProductID == productID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetCartItem(_ context.Context, userID, itemID string) (*domain.CartItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.cart[itemID]
	if !ok || it.UserID != userID {
		return nil, fmt.Errorf("%w: cart item %s", domain.ErrNotFound, itemID)
	}
	return &it, nil
}

func (m *Memory) DeleteCartItem(_ context.Context, userID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.cart[itemID]
	if !ok || it.UserID != userID {
		return fmt.Errorf("%w: cart item %s", domain.ErrNotFound, itemID)
	}
	delete(m.cart, itemID)
	return nil
}

func (m *Memory) ClearCart(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, it := range m.cart {
		if it.UserID == userID {
			delete(m.cart, id)
		}
	}
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return copyOrder(o), nil
}

func (m *Memory) ListOrders(_ context.Context, f OrderFilter) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Order
	for _, o := range m.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.ProductID != "" && !hasLine(o, f.ProductID) {
			continue
		}
		c := copyOrder(o)
		c.Items = nil
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListMovements(_ context.Context, orderID string) ([]domain.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.StockMovement
	for _, mv := range m.movements {
		if mv.OrderID == orderID {
			out = append(out, mv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return movementKey(out[i].OrderID, out[i].ProductID, out[i].Kind) < movementKey(out[j].OrderID, out[j].ProductID, out[j].Kind)
	})
	return out, nil
}

func (m *Memory) GetReturn(_ context.Context, id string) (*domain.ReturnRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.returns[id]
	if !ok {
		return nil, fmt.Errorf("%w: return %s", domain.ErrNotFound, id)
	}
	return &r, nil
}

func (m *Memory) GetReturnByOrder(_ context.Context, orderID string) (*domain.ReturnRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.returns {
		if r.OrderID == orderID {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: return for order %s", domain.ErrNotFound, orderID)
}

func (m *Memory) ListReturns(_ context.Context, f ReturnFilter) ([]domain.ReturnRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ReturnRequest
	for _, r := range m.returns {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Commit(_ context.Context, mu *Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(mu); err != nil {
		return err
	}
	m.apply(mu)
	return nil
}

func (m *Memory) check(mu *Mutation) error {
	for _, c := range mu.ProductChecks {
		if p, ok := m.products[c.ID]; !ok || p.Version != c.Version {
			return fmt.Errorf("%w: product %s moved", ErrConflict, c.ID)
		}
	}
	for _, w := range mu.StockWrites {
		if p, ok := m.products[w.ProductID]; !ok || p.Version != w.Version {
			return fmt.Errorf("%w: product %s moved", ErrConflict, w.ProductID)
		}
	}
	for _, c := range []*VersionCheck{editCheck(mu.ProductEdit), mu.ProductDelete} {
		if c == nil {
			continue
		}
		if p, ok := m.products[c.ID]; !ok || p.Version != c.Version {
			return fmt.Errorf("%w: product %s moved", ErrConflict, c.ID)
		}
	}
	for _, mv := range mu.Movements {
		if _, ok := m.movements[movementKey(mv.OrderID, mv.ProductID, mv.Kind)]; ok {
			return fmt.Errorf("%w: %s already recorded for order %s product %s", ErrConflict, mv.Kind, mv.OrderID, mv.ProductID)
		}
	}
	if w := mu.CartPut; w != nil {
		if w.Version == 0 {
			for _, it := range m.cart {
				if it.UserID == w.Item.UserID && it.ProductID == w.Item.ProductID {
					return fmt.Errorf("%w: cart line for product %s exists", ErrConflict, w.Item.ProductID)
				}
			}
		} else if it, ok := m.cart[w.Item.ID]; !ok || it.Version != w.Version || it.UserID != w.Item.UserID {
			return fmt.Errorf("%w: cart item %s moved", ErrConflict, w.Item.ID)
		}
	}
	for _, ref := range mu.CartDeletes {
		if it, ok := m.cart[ref.ID]; !ok || it.Version != ref.Version || it.UserID != ref.UserID {
			return fmt.Errorf("%w: cart item %s moved", ErrConflict, ref.ID)
		}
	}
	if o := mu.NewOrder; o != nil {
		if _, ok := m.orders[o.ID]; ok {
			return fmt.Errorf("%w: order %s exists", ErrConflict, o.ID)
		}
	}
	if u := mu.OrderUpdate; u != nil {
		if o, ok := m.orders[u.ID]; !ok || o.Version != u.Version {
			return fmt.Errorf("%w: order %s moved", ErrConflict, u.ID)
		}
	}
	if r := mu.NewReturn; r != nil {
		for _, existing := range m.returns {
			if existing.OrderID == r.OrderID {
				return fmt.Errorf("%w: return for order %s exists", ErrConflict, r.OrderID)
			}
		}
	}
	if u := mu.ReturnUpdate; u != nil {
		if r, ok := m.returns[u.ID]; !ok || r.Version != u.Version {
			return fmt.Errorf("%w: return %s moved", ErrConflict, u.ID)
		}
	}
	return nil
}

func (m *Memory) apply(mu *Mutation) {
	for _, w := range mu.StockWrites {
		p := m.products[w.ProductID]
		p.Stock = w.Stock
		p.Status = w.Status
		p.Version = w.Version + 1
		p.UpdatedAt = w.UpdatedAt
		m.products[w.ProductID] = p
	}
	if e := mu.ProductEdit; e != nil {
		p := m.products[e.ID]
		p.Name = e.Name
		p.Description = e.Description
		p.Price = e.Price
		p.Version = e.Version + 1
		p.UpdatedAt = e.UpdatedAt
		m.products[e.ID] = p
	}
	for _, mv := range mu.Movements {
		m.movements[movementKey(mv.OrderID, mv.ProductID, mv.Kind)] = mv
	}
	if w := mu.CartPut; w != nil {
		it := w.Item
		it.Version = w.Version + 1
		if w.Version != 0 {
			it.CreatedAt = m.cart[it.ID].CreatedAt
		}
		m.cart[it.ID] = it
	}
	for _, ref := range mu.CartDeletes {
		delete(m.cart, ref.ID)
	}
	if o := mu.NewOrder; o != nil {
		m.orders[o.ID] = *copyOrder(*o)
	}
	if u := mu.OrderUpdate; u != nil {
		o := m.orders[u.ID]
		o.Status = u.Status
		o.Version = u.Version + 1
		o.UpdatedAt = u.UpdatedAt
		if u.DeliveryDate != nil {
			t := *u.DeliveryDate
			o.DeliveryDate = &t
		}
		if u.ReturnDate != nil {
			t := *u.ReturnDate
			o.ReturnDate = &t
		}
		m.orders[u.ID] = o
	}
	if r := mu.NewReturn; r != nil {
		m.returns[r.ID] = *r
	}
	if u := mu.ReturnUpdate; u != nil {
		r := m.returns[u.ID]
		r.Status = u.Status
		r.Version = u.Version + 1
		r.UpdatedAt = u.UpdatedAt
		m.returns[u.ID] = r
	}
	if d := mu.ProductDelete; d != nil {
		delete(m.products, d.ID)
		for id, it := range m.cart {
			if it.ProductID == d.ID {
				delete(m.cart, id)
			}
		}
	}
}

func editCheck(e *ProductEdit) *VersionCheck {
	if e == nil {
		return nil
	}
	return &VersionCheck{ID: e.ID, Version: e.Version}
}

func hasLine(o domain.Order, productID string) bool {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

func (m *Memory) Close() error { return nil }

func copyOrder(o domain.Order) *domain.Order {
	c := o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.DeliveryDate != nil {
		t := *o.DeliveryDate
		c.DeliveryDate = &t
	}
	if o.ReturnDate != nil {
		t := *o.ReturnDate
		c.ReturnDate = &t
	}
	return &c
}
