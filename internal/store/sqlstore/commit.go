package sqlstore

import (
	"context"
	"database/sql"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/imrishuroy/orderflow/internal/store"
)

// Commit applies m in one transaction. Rows are touched in a fixed order
// (products by id first) so concurrent commits do not deadlock each other.
func (s *Store) Commit(ctx context.Context, m *store.Mutation) (err error) {
	if m.Empty() {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return conflict(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = applyMutation(ctx, tx, m); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return conflict(err, "commit transaction")
	}
	return nil
}

func applyMutation(ctx context.Context, tx *sqlx.Tx, m *store.Mutation) error {
	if o := m.NewOrder; o != nil {
		res, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO orders (`+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`),
			o.ID, o.UserID, o.TotalPrice, o.Status, o.Version, o.CreatedAt, o.UpdatedAt, o.DeliveryDate, o.ReturnDate)
		if err != nil {
			return conflict(err, "insert order")
		}
		if err := expectOne(res, "order %s exists", o.ID); err != nil {
			return err
		}
		for _, it := range o.Items {
			_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO order_items (order_id, product_id, quantity, price)
				VALUES (?, ?, ?, ?)`), o.ID, it.ProductID, it.Quantity, it.Price)
			if err != nil {
				return conflict(err, "insert order item")
			}
		}
	}

	checks := append([]store.VersionCheck(nil), m.ProductChecks...)
	sort.Slice(checks, func(i, j int) bool { return checks[i].ID < checks[j].ID })
	writes := append([]store.StockWrite(nil), m.StockWrites...)
	sort.Slice(writes, func(i, j int) bool { return writes[i].ProductID < writes[j].ProductID })

	for _, c := range checks {
		// A no-op update takes the row lock so the version holds until commit.
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE products SET version = version WHERE id = ? AND version = ?`), c.ID, c.Version)
		if err != nil {
			return conflict(err, "check product version")
		}
		if err := expectOne(res, "product %s moved", c.ID); err != nil {
			return err
		}
	}
	for _, w := range writes {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE products
			SET stock = ?, status = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`), w.Stock, w.Status, w.UpdatedAt, w.ProductID, w.Version)
		if err != nil {
			return conflict(err, "update stock")
		}
		if err := expectOne(res, "product %s moved", w.ProductID); err != nil {
			return err
		}
	}
	if e := m.ProductEdit; e != nil {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE products
			SET name = ?, description = ?, price = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`), e.Name, e.Description, e.Price, e.UpdatedAt, e.ID, e.Version)
		if err != nil {
			return conflict(err, "update product")
		}
		if err := expectOne(res, "product %s moved", e.ID); err != nil {
			return err
		}
	}
	for _, mv := range m.Movements {
		res, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO stock_movements (order_id, product_id, kind, quantity, created_at)
			VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`), mv.OrderID, mv.ProductID, mv.Kind, mv.Quantity, mv.CreatedAt)
		if err != nil {
			return conflict(err, "insert stock movement")
		}
		if err := expectOne(res, "%s already recorded for order %s product %s", mv.Kind, mv.OrderID, mv.ProductID); err != nil {
			return err
		}
	}

	if w := m.CartPut; w != nil {
		it := w.Item
		var (
			res sql.Result
			err error
		)
		if w.Version == 0 {
			res, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO cart_items (`+cartColumns+`)
				VALUES (?, ?, ?, ?, 1, ?, ?) ON CONFLICT DO NOTHING`),
				it.ID, it.UserID, it.ProductID, it.Quantity, it.CreatedAt, it.UpdatedAt)
		} else {
			res, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE cart_items
				SET quantity = ?, version = version + 1, updated_at = ?
				WHERE id = ? AND user_id = ? AND version = ?`),
				it.Quantity, it.UpdatedAt, it.ID, it.UserID, w.Version)
		}
		if err != nil {
			return conflict(err, "write cart item")
		}
		if err := expectOne(res, "cart item %s moved", it.ID); err != nil {
			return err
		}
	}
	for _, ref := range m.CartDeletes {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM cart_items WHERE id = ? AND user_id = ? AND version = ?`), ref.ID, ref.UserID, ref.Version)
		if err != nil {
			return conflict(err, "delete cart item")
		}
		if err := expectOne(res, "cart item %s moved", ref.ID); err != nil {
			return err
		}
	}

	if u := m.OrderUpdate; u != nil {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE orders
			SET status = ?, version = version + 1, updated_at = ?,
			    delivery_date = COALESCE(?, delivery_date), return_date = COALESCE(?, return_date)
			WHERE id = ? AND version = ?`),
			u.Status, u.UpdatedAt, u.DeliveryDate, u.ReturnDate, u.ID, u.Version)
		if err != nil {
			return conflict(err, "update order")
		}
		if err := expectOne(res, "order %s moved", u.ID); err != nil {
			return err
		}
	}

	if r := m.NewReturn; r != nil {
		res, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO return_requests (`+returnColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`),
			r.ID, r.OrderID, r.UserID, r.Reason, r.Status, r.Version, r.CreatedAt, r.UpdatedAt)
		if err != nil {
			return conflict(err, "insert return")
		}
		if err := expectOne(res, "return for order %s exists", r.OrderID); err != nil {
			return err
		}
	}
	if u := m.ReturnUpdate; u != nil {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE return_requests
			SET status = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`), u.Status, u.UpdatedAt, u.ID, u.Version)
		if err != nil {
			return conflict(err, "update return")
		}
		if err := expectOne(res, "return %s moved", u.ID); err != nil {
			return err
		}
	}

	if d := m.ProductDelete; d != nil {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM cart_items WHERE product_id = ?`), d.ID); err != nil {
			return conflict(err, "delete product cart items")
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM products WHERE id = ? AND version = ?`), d.ID, d.Version)
		if err != nil {
			return conflict(err, "delete product")
		}
		if err := expectOne(res, "product %s moved", d.ID); err != nil {
			return err
		}
	}
	return nil
}

// expectOne turns a write that matched no row into store.ErrConflict.
func expectOne(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n != 1 {
		return errors.Wrapf(store.ErrConflict, format, args...)
	}
	return nil
}
