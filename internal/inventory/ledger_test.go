package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/events"
	"github.com/imrishuroy/orderflow/internal/store"
)

type recordingPublisher struct {
	mu  sync.Mutex
	evs int
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs += len(evs)
	return nil
}

func newLedger(t *testing.T) (*Ledger, *store.Memory, *recordingPublisher) {
	t.Helper()
	st := store.NewMemory()
	pub := &recordingPublisher{}
	log, _ := logtest.NewNullLogger()
	return NewLedger(st, pub, log, 0), st, pub
}

func seed(t *testing.T, l *Ledger, stock int) *domain.Product {
	t.Helper()
	p, err := l.CreateProduct(context.Background(), NewProduct{Name: "widget", Price: decimal.RequireFromString("10.00"), Stock: stock})
	require.NoError(t, err)
	return p
}

func TestApplyDelta(t *testing.T) {
	l, _, pub := newLedger(t)
	ctx := context.Background()
	p := seed(t, l, 5)
	assert.Equal(t, domain.ProductInStock, p.Status)

	got, err := l.ApplyDelta(ctx, p.ID, -3)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)
	assert.Equal(t, domain.ProductInStock, got.Status)

	got, err = l.ApplyDelta(ctx, p.ID, -10)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock, "debit clamps at zero")
	assert.Equal(t, domain.ProductSold, got.Status)

	got, err = l.ApplyDelta(ctx, p.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)
	assert.Equal(t, domain.ProductInStock, got.Status)

	stored, err := l.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, *got, *stored)
	assert.Equal(t, 3, pub.evs)
}

func TestApplyDeltaNotFound(t *testing.T) {
	l, _, _ := newLedger(t)
	_, err := l.ApplyDelta(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyDeltaConcurrent(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	p := seed(t, l, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ApplyDelta(ctx, p.ID, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := l.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Stock)
}

func TestCreateProductValidation(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	_, err := l.CreateProduct(ctx, NewProduct{Name: " ", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = l.CreateProduct(ctx, NewProduct{Name: "x", Price: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = l.CreateProduct(ctx, NewProduct{Name: "x", Price: decimal.NewFromInt(1), Stock: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	p, err := l.CreateProduct(ctx, NewProduct{Name: "x", Price: decimal.Zero})
	require.NoError(t, err)
	assert.Equal(t, domain.ProductSold, p.Status)
}

func TestPlanDebit(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := domain.Product{ID: "p1", Stock: 3, Version: 7}

	m := &store.Mutation{}
	err := PlanDebit(m, p, 4, "o1", now)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.True(t, m.Empty())

	require.NoError(t, PlanDebit(m, p, 3, "o1", now))
	require.Len(t, m.StockWrites, 1)
	assert.Equal(t, store.StockWrite{ProductID: "p1", Version: 7, Stock: 0, Status: domain.ProductSold, UpdatedAt: now}, m.StockWrites[0])
	require.Len(t, m.Movements, 1)
	assert.Equal(t, domain.MovementDebit, m.Movements[0].Kind)
	assert.Equal(t, 3, m.Movements[0].Quantity)
}

func TestPlanReversalIsIdempotent(t *testing.T) {
	l, st, _ := newLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()
	p := seed(t, l, 5)

	order := &domain.Order{ID: "o1", UserID: "u1", Status: domain.OrderPending, Version: 1,
		Items: []domain.OrderItem{{OrderID: "o1", ProductID: p.ID, Quantity: 2, Price: p.Price}}}
	m := &store.Mutation{NewOrder: order}
	require.NoError(t, PlanDebit(m, *p, 2, order.ID, now))
	require.NoError(t, st.Commit(ctx, m))

	reverse := func() *store.Mutation {
		m := &store.Mutation{}
		require.NoError(t, l.PlanReversal(ctx, order, now, m))
		return m
	}

	first := reverse()
	require.Len(t, first.StockWrites, 1)
	assert.Equal(t, 5, first.StockWrites[0].Stock)
	require.NoError(t, st.Commit(ctx, first))

	assert.True(t, reverse().Empty(), "credit already recorded")

	// A stale plan computed before the first credit landed must not commit.
	stale := &store.Mutation{
		StockWrites: []store.StockWrite{{ProductID: p.ID, Version: first.StockWrites[0].Version, Stock: 7}},
		Movements:   first.Movements,
	}
	assert.ErrorIs(t, st.Commit(ctx, stale), store.ErrConflict)

	got, err := l.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
}

func TestPlanReversalSkipsUndebited(t *testing.T) {
	l, _, _ := newLedger(t)
	p := seed(t, l, 1)
	order := &domain.Order{ID: "o2", Items: []domain.OrderItem{{ProductID: p.ID, Quantity: 1}}}
	m := &store.Mutation{}
	require.NoError(t, l.PlanReversal(context.Background(), order, time.Now(), m))
	assert.True(t, m.Empty())
}
