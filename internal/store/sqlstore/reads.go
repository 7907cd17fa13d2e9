package sqlstore

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/store"
)

const (
	productColumns = `id, name, description, price, stock, status, version, created_at, updated_at`
	cartColumns    = `id, user_id, product_id, quantity, version, created_at, updated_at`
	orderColumns   = `id, user_id, total_price, status, version, created_at, updated_at, delivery_date, return_date`
	returnColumns  = `id, order_id, user_id, reason, status, version, created_at, updated_at`
)

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.GetContext(ctx, &p, s.db.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	if isNoRows(err) {
		return nil, errors.Wrapf(domain.ErrNotFound, "product %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	out := []domain.Product{}
	if err := s.db.SelectContext(ctx, &out, `SELECT `+productColumns+` FROM products ORDER BY created_at DESC, id`); err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return out, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *domain.Product) error {
	res, err := s.db.NamedExecContext(ctx, `INSERT INTO products (`+productColumns+`)
		VALUES (:id, :name, :description, :price, :stock, :status, :version, :created_at, :updated_at)
		ON CONFLICT DO NOTHING`, p)
	if err != nil {
		return errors.Wrap(err, "insert product")
	}
	return expectOne(res, "product %s exists", p.ID)
}

func (s *Store) ListCartItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	out := []domain.CartItem{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT `+cartColumns+` FROM cart_items WHERE user_id = ? ORDER BY created_at, id`), userID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart items")
	}
	return out, nil
}

func (s *Store) ListCartItemsByProduct(ctx context.Context, productID string) ([]domain.CartItem, error) {
	out := []domain.CartItem{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT `+cartColumns+` FROM cart_items WHERE product_id = ? ORDER BY id`), productID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart items by product")
	}
	return out, nil
}

func (s *Store) GetCartItem(ctx context.Context, userID, itemID string) (*domain.CartItem, error) {
	var it domain.CartItem
	err := s.db.GetContext(ctx, &it, s.db.Rebind(`SELECT `+cartColumns+` FROM cart_items WHERE id = ? AND user_id = ?`), itemID, userID)
	if isNoRows(err) {
		return nil, errors.Wrapf(domain.ErrNotFound, "cart item %s", itemID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get cart item")
	}
	return &it, nil
}

func (s *Store) DeleteCartItem(ctx context.Context, userID, itemID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM cart_items WHERE id = ? AND user_id = ?`), itemID, userID)
	if err != nil {
		return errors.Wrap(err, "delete cart item")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete cart item")
	}
	if n == 0 {
		return errors.Wrapf(domain.ErrNotFound, "cart item %s", itemID)
	}
	return nil
}

func (s *Store) ClearCart(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM cart_items WHERE user_id = ?`), userID)
	return errors.Wrap(err, "clear cart")
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	err := s.db.GetContext(ctx, &o, s.db.Rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id)
	if isNoRows(err) {
		return nil, errors.Wrapf(domain.ErrNotFound, "order %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	err = s.db.SelectContext(ctx, &o.Items, s.db.Rebind(`SELECT order_id, product_id, quantity, price
		FROM order_items WHERE order_id = ? ORDER BY product_id`), id)
	if err != nil {
		return nil, errors.Wrap(err, "list order items")
	}
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, f store.OrderFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.UserID != "" {
		where = append(where, `user_id = ?`)
		args = append(args, f.UserID)
	}
	if f.ProductID != "" {
		where = append(where, `id IN (SELECT order_id FROM order_items WHERE product_id = ?)`)
		args = append(args, f.ProductID)
	}
	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY created_at DESC, id`

	out := []domain.Order{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return out, nil
}

func (s *Store) ListMovements(ctx context.Context, orderID string) ([]domain.StockMovement, error) {
	out := []domain.StockMovement{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT order_id, product_id, kind, quantity, created_at
		FROM stock_movements WHERE order_id = ? ORDER BY product_id, kind`), orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list stock movements")
	}
	return out, nil
}

func (s *Store) GetReturn(ctx context.Context, id string) (*domain.ReturnRequest, error) {
	return s.getReturn(ctx, `id = ?`, id)
}

func (s *Store) GetReturnByOrder(ctx context.Context, orderID string) (*domain.ReturnRequest, error) {
	return s.getReturn(ctx, `order_id = ?`, orderID)
}

func (s *Store) getReturn(ctx context.Context, where, arg string) (*domain.ReturnRequest, error) {
	var r domain.ReturnRequest
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+returnColumns+` FROM return_requests WHERE `+where), arg)
	if isNoRows(err) {
		return nil, errors.Wrapf(domain.ErrNotFound, "return %s", arg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get return")
	}
	return &r, nil
}

func (s *Store) ListReturns(ctx context.Context, f store.ReturnFilter) ([]domain.ReturnRequest, error) {
	q, args := `SELECT `+returnColumns+` FROM return_requests`, []interface{}{}
	if f.UserID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, f.UserID)
	}
	q += ` ORDER BY created_at DESC, id`

	out := []domain.ReturnRequest{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "list returns")
	}
	return out, nil
}
