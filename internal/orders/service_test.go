package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/orderflow/internal/auth"
	"github.com/imrishuroy/orderflow/internal/cart"
	"github.com/imrishuroy/orderflow/internal/domain"
	"github.com/imrishuroy/orderflow/internal/events"
	"github.com/imrishuroy/orderflow/internal/inventory"
	"github.com/imrishuroy/orderflow/internal/store"
)

var (
	alice = auth.Identity{UserID: "alice", Role: auth.RoleUser}
	bob   = auth.Identity{UserID: "bob", Role: auth.RoleUser}
	admin = auth.Identity{UserID: "root", Role: auth.RoleAdmin}
)

type capturePublisher struct {
	mu  sync.Mutex
	evs []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, evs...)
	return nil
}

func (p *capturePublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Type
	for _, ev := range p.evs {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	st    store.Store
	svc   *Service
	carts *cart.Service
	pub   *capturePublisher
}

func newFixture(t *testing.T, st store.Store, policy domain.CancelPolicy) *fixture {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	pub := &capturePublisher{}
	return &fixture{
		st:    st,
		svc:   NewService(Config{Store: st, Publisher: pub, Logger: log, CancelPolicy: policy}),
		carts: cart.NewService(st, log, 0),
		pub:   pub,
	}
}

func (f *fixture) product(t *testing.T, id, price string, stock int) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.st.CreateProduct(context.Background(), &domain.Product{
		ID: id, Name: id, Price: decimal.RequireFromString(price), Stock: stock,
		Status: domain.StatusForStock(stock), Version: 1, CreatedAt: now, UpdatedAt: now,
	}))
}

func (f *fixture) stock(t *testing.T, id string) *domain.Product {
	t.Helper()
	p, err := f.st.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) placeOne(t *testing.T, who auth.Identity, productID string, qty int) *domain.Order {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.carts.Add(ctx, who.UserID, productID, qty)
	require.NoError(t, err)
	o, err := f.svc.Place(ctx, who)
	require.NoError(t, err)
	return o
}

func TestPlaceOrderSellsOut(t *testing.T) {
	f := newFixture(t, store.NewMemory(), domain.CancelPolicy{})
	f.product(t, "p1", "10.00", 5)

	o := f.placeOne(t, alice, "p1", 5)
	assert.Equal(t, domain.OrderPending, o.Status)
	assert.True(t, decimal.RequireFromString("50.00").Equal(o.TotalPrice), "total %s", o.TotalPrice)
	require.Len(t, o.Items, 1)
	assert.True(t, decimal.RequireFromString("10.00").Equal(o.Items[0].Price))

	p := f.stock(t, "p1")
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, domain.ProductSold, p.Status)

	items, err := f.st.ListCartItems(context.Background(), alice.UserID)
	require.NoError(t, err)
	assert.Empty(t, items)

	got, err := f.svc.Get(context.Background(), alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Items, got.Items)

	assert.Contains(t, f.pub.types(), events.OrderPlaced)
	assert.Contains(t, f.pub.types(), events.StockChanged)
}

func TestPlaceOrderFailures(t *testing.T) {
	f := newFixture(t, store.NewMemory(), domain.CancelPolicy{})
	ctx := context.Background()
	f.product(t, "p1", "1.00", 2)

	_, err := f.svc.Place(ctx, alice)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	_, _, err = f.carts.Add(ctx, alice.UserID, "p1", 2)
	require.NoError(t, err)
	_, err = f.svc.Place(ctx, auth.Identity{UserID: "bob"})
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	// Stock drops below the cart quantity before placement.
	_, err = f.svc.ledger.ApplyDelta(ctx, "p1", -1)
	require.NoError(t, err)
	_, err = f.svc.Place(ctx, alice)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "p1")

	items, err := f.st.ListCartItems(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Len(t, items, 1, "cart untouched on failure")
	orders, err := f.svc.ListMine(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

// failingStore rejects any commit that debits the given product, the way a
// storage fault on the last stock write would.
type failingStore struct {
	*store.Memory
	productID string
}

var errInjected = errors.New("injected storage fault")

func (s *failingStore) Commit(ctx context.Context, m *store.Mutation) error {
	for _, w := range m.StockWrites {
		if w.ProductID == s.productID {
			return errInjected
		}
	}
	return s.Memory.Commit(ctx, m)
}

func TestPlaceOrderIsAtomic(t *testing.T) {
	mem := store.NewMemory()
	f := newFixture(t, &failingStore{Memory: mem, productID: "p3"}, domain.CancelPolicy{})
	ctx := context.Background()
	for _, id := range []string{"p1", "p2", "p3"} {
		f.product(t, id, "1.00", 5)
		_, _, err := f.carts.Add(ctx, alice.UserID, id, 1)
		require.NoError(t, err)
	}

	_, err := f.svc.Place(ctx, alice)
	assert.ErrorIs(t, err, errInjected)

	items, err := mem.ListCartItems(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	all, err := mem.ListOrders(ctx, store.OrderFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	for _, id := range []string{"p1", "p2", "p3"} {
		assert.Equal(t, 5, f.stock(t, id).Stock)
	}
}

func TestConcurrentPlacement(t *testing.T) {
	const (
		buyers = 12
		qty    = 3
		stock  = 20
	)
	f := newFixture(t, store.NewMemory(), domain.CancelPolicy{})
	ctx := context.Background()
	f.product(t, "p1", "4.00", stock)

	users := make([]auth.Identity, buyers)
	for i := range users {
		users[i] = auth.Identity{UserID: string(rune('a'+i)) + "-buyer", Role: auth.RoleUser}
		_, _, err := f.carts.Add(ctx, users[i].UserID, "p1", qty)
		require.NoError(t, err)
	}

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, shortage int
	)
	for _, u := range users {
		wg.Add(1)
		go func(u auth.Identity) {
			defer wg.Done()
			_, err := f.svc.Place(ctx, u)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrInsufficientStock):
				shortage++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, stock/qty, ok)
	assert.Equal(t, buyers-stock/qty, shortage)
	p := f.stock(t, "p1")
	assert.Equal(t, stock-(stock/qty)*qty, p.Stock)
	assert.Equal(t, domain.StatusForStock(p.Stock), p.Status)
}

func TestOwnerCancelCreditsStock(t *testing.T) {
	f := newFixture(t, store.NewMemory(), domain.CancelPolicy{})
	ctx := context.Background()
	f.product(t, "p1", "10.00", 5)
	o := f.placeOne(t, alice, "p1", 2)
	assert.Equal(t, 3, f.stock(t, "p1").Stock)

	_, err := f.svc.Cancel(ctx, bob, o.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.svc.Cancel(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, got.Status)
	assert.Equal(t, 5, f.stock(t, "p1").Stock)

	_, err = f.svc.Cancel(ctx, alice, o.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.UpdateStatus(ctx, admin, o.ID, "cancelled")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 5, f.stock(t, "p1").Stock, "no double credit")

	_, err = f.svc.Cancel(ctx, alice, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelPolicy(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, store.NewMemory(), domain.CancelPolicy{})
	f.product(t, "p1", "1.00", 5)
	o := f.placeOne(t, alice, "p1", 1)
	_, err := f.svc.UpdateStatus(ctx, admin, o.ID, "in-transit")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, alice, o.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "default policy only cancels pending orders")

	policy, err := domain.NewCancelPolicy(domain.OrderPending, domain.OrderInTransit)
	require.NoError(t, err)
	f = newFixture(t, store.NewMemory(), policy)
	f.product(t, "p1", "1.00", 5)
	o = f.placeOne(t, alice, "p1", 1)
	_, err = f.svc.UpdateStatus(ctx, admin, o.ID, "in-transit")
	require.NoError(t, err)
	got, err := f.svc.Cancel(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, got.Status)
	assert.Equal(t, 5, f.stock(t, "p1").Stock)
}

func TestUpdateStatusTransitions(t *testing.T) {
	f := newFixture(t, store.NewMemory(), domain.CancelPolicy{})
	ctx := context.Background()
	f.product(t, "p1", "1.00", 10)
	o := f.placeOne(t, alice, "p1", 1)

	_, err := f.svc.UpdateStatus(ctx, alice, o.ID, "in-transit")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.UpdateStatus(ctx, admin, o.ID, "shipped")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.UpdateStatus(ctx, admin, "missing", "in-transit")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.UpdateStatus(ctx, admin, o.ID, "delivered")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "pending cannot skip to delivered")
	_, err = f.svc.UpdateStatus(ctx, admin, o.ID, "returned")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "returned only through the return workflow")

	got, err := f.svc.UpdateStatus(ctx, admin, o.ID, " In-Transit ")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderInTransit, got.Status)
	assert.Nil(t, got.DeliveryDate)

	got, err = f.svc.UpdateStatus(ctx, admin, o.ID, "delivered")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDelivered, got.Status)
	require.NotNil(t, got.DeliveryDate)

	_, err = f.svc.UpdateStatus(ctx, admin, o.ID, "pending")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.UpdateStatus(ctx, admin, o.ID, "cancelled")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := f.svc.Get(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.Equal(t, got.DeliveryDate.Unix(), stored.DeliveryDate.Unix())
	assert.Contains(t, f.pub.types(), events.OrderStatusChanged)
}

func TestOrderIsImmutableSnapshot(t *testing.T) {
	f := newFixture(t, store.NewMemory(), domain.CancelPolicy{})
	ctx := context.Background()
	f.product(t, "p1", "7.25", 10)
	o := f.placeOne(t, alice, "p1", 2)

	// Callers cannot reach stored state through returned values.
	o.Items[0].Quantity = 99
	o.TotalPrice = decimal.NewFromInt(1)

	_, err := f.svc.UpdateStatus(ctx, admin, o.ID, "cancelled")
	require.NoError(t, err)
	_, err = f.svc.ledger.ApplyDelta(ctx, "p1", 100)
	require.NoError(t, err)

	repriced := decimal.RequireFromString("99.99")
	p, err := f.svc.ledger.UpdateProduct(ctx, "p1", inventory.ProductChanges{Price: &repriced})
	require.NoError(t, err)
	assert.True(t, repriced.Equal(p.Price))

	got, err := f.svc.Get(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("14.50").Equal(got.TotalPrice))
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("7.25").Equal(got.Items[0].Price))

	// A new order is placed at the new price.
	next := f.placeOne(t, alice, "p1", 1)
	assert.True(t, repriced.Equal(next.TotalPrice))
	again, err := f.svc.Get(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("7.25").Equal(again.Items[0].Price))
}

func TestReadAccess(t *testing.T) {
	f := newFixture(t, store.NewMemory(), domain.CancelPolicy{})
	ctx := context.Background()
	f.product(t, "p1", "1.00", 10)
	o := f.placeOne(t, alice, "p1", 1)
	f.placeOne(t, bob, "p1", 1)

	_, err := f.svc.Get(ctx, bob, o.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.Get(ctx, admin, o.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, alice, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mine, err := f.svc.ListMine(ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, o.ID, mine[0].ID)

	_, err = f.svc.ListAll(ctx, alice)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	all, err := f.svc.ListAll(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPlanReturnedRequiresDelivered(t *testing.T) {
	f := newFixture(t, store.NewMemory(), domain.CancelPolicy{})
	f.product(t, "p1", "1.00", 10)
	o := f.placeOne(t, alice, "p1", 1)
	err := f.svc.PlanReturned(context.Background(), o, time.Now(), &store.Mutation{})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}
