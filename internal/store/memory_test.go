package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/orderflow/internal/domain"
)

func seedProduct(t *testing.T, m *Memory, id string, stock int) {
	t.Helper()
	require.NoError(t, m.CreateProduct(context.Background(), &domain.Product{
		ID: id, Price: decimal.NewFromInt(1), Stock: stock, Status: domain.StatusForStock(stock), Version: 1,
	}))
}

func TestMemoryCommitIsAllOrNothing(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedProduct(t, m, "p1", 5)
	seedProduct(t, m, "p2", 5)

	err := m.Commit(ctx, &Mutation{
		StockWrites: []StockWrite{
			{ProductID: "p1", Version: 1, Stock: 4, Status: domain.ProductInStock},
			{ProductID: "p2", Version: 9, Stock: 4, Status: domain.ProductInStock},
		},
		NewOrder: &domain.Order{ID: "o1", UserID: "u1", Version: 1},
	})
	assert.ErrorIs(t, err, ErrConflict)

	p, err := m.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
	assert.EqualValues(t, 1, p.Version)
	_, err = m.GetOrder(ctx, "o1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryCartConstraints(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	item := domain.CartItem{ID: "c1", UserID: "u1", ProductID: "p1", Quantity: 1, CreatedAt: now}
	require.NoError(t, m.Commit(ctx, &Mutation{CartPut: &CartWrite{Item: item}}))

	dup := item
	dup.ID = "c2"
	assert.ErrorIs(t, m.Commit(ctx, &Mutation{CartPut: &CartWrite{Item: dup}}), ErrConflict)

	item.Quantity = 3
	item.CreatedAt = now.Add(time.Hour)
	require.NoError(t, m.Commit(ctx, &Mutation{CartPut: &CartWrite{Item: item, Version: 1}}))
	got, err := m.GetCartItem(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Quantity)
	assert.EqualValues(t, 2, got.Version)
	assert.True(t, got.CreatedAt.Equal(now))

	assert.ErrorIs(t, m.Commit(ctx, &Mutation{CartDeletes: []CartItemRef{{ID: "c1", UserID: "u1", Version: 1}}}), ErrConflict)
	require.NoError(t, m.Commit(ctx, &Mutation{CartDeletes: []CartItemRef{{ID: "c1", UserID: "u1", Version: 2}}}))
	_, err = m.GetCartItem(ctx, "u1", "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryMovementsAreUnique(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	mv := domain.StockMovement{OrderID: "o1", ProductID: "p1", Kind: domain.MovementCredit, Quantity: 1}
	require.NoError(t, m.Commit(ctx, &Mutation{Movements: []domain.StockMovement{mv}}))
	assert.ErrorIs(t, m.Commit(ctx, &Mutation{Movements: []domain.StockMovement{mv}}), ErrConflict)

	list, err := m.ListMovements(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := Retry(ctx, 5, func(context.Context) error {
		calls++
		if calls < 3 {
			return ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(ctx, 3, func(context.Context) error {
		calls++
		return ErrConflict
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 3, calls)

	boom := errors.New("boom")
	err = Retry(ctx, 3, func(context.Context) error { return boom })
	assert.Equal(t, boom, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = Retry(cctx, 3, func(context.Context) error { return ErrConflict })
	assert.ErrorIs(t, err, context.Canceled)
}
