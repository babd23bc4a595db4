package orders_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ariefcatur/go-storefront-orders/internal/memstore"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type published struct {
	key     []byte
	value   []byte
	headers []kafkago.Header
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{key: key, value: value, headers: headers})
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fakeCache struct {
	mu     sync.Mutex
	orders map[string]orders.Order
	puts   int
}

func (c *fakeCache) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (c *fakeCache) PutOrder(_ context.Context, o *orders.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orders == nil {
		c.orders = map[string]orders.Order{}
	}
	c.orders[o.ID] = *o
	c.puts++
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func product(id string, price string, stock int) orders.Product {
	return orders.Product{ID: id, Name: "Product " + id, Slug: "product-" + id, Price: dec(price), StockQty: stock}
}

// tickingClock returns a clock that moves one second per call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newService(t *testing.T, opts ...orders.Option) (*orders.Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	opts = append([]orders.Option{orders.WithClock(tickingClock())}, opts...)
	return orders.NewService(st, nil, opts...), st
}

func assertUntouched(t *testing.T, st *memstore.Store, stock map[string]int) {
	t.Helper()
	for id, want := range stock {
		assert.Equal(t, want, st.Stock(id), "stock of %s", id)
	}
	nOrders, nItems := st.Counts()
	assert.Zero(t, nOrders)
	assert.Zero(t, nItems)
}

func TestPlaceOrder_ScenarioA_CreatesOrderAndDecrementsStock(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("p", "100", 5))

	o, err := svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{{ProductID: "p", Quantity: 2}})
	require.NoError(t, err)

	assert.True(t, o.TotalAmount.Equal(dec("200")), "total = %s", o.TotalAmount)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, "cust-1", o.CustomerID)
	assert.False(t, o.CreatedAt.IsZero())
	require.Len(t, o.Items, 1)
	assert.Equal(t, "p", o.Items[0].ProductID)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.True(t, o.Items[0].Price.Equal(dec("100")))
	require.NotNil(t, o.Items[0].Product)
	assert.Equal(t, 3, o.Items[0].Product.StockQty)

	assert.Equal(t, 3, st.Stock("p"))
	nOrders, nItems := st.Counts()
	assert.Equal(t, 1, nOrders)
	assert.Equal(t, 1, nItems)
}

func TestPlaceOrder_ScenarioB_InsufficientStock(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("p", "100", 1))

	_, err := svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{{ProductID: "p", Quantity: 2}})
	require.ErrorIs(t, err, orders.ErrInsufficientStock)

	var se *orders.InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "p", se.ProductID)
	assert.Equal(t, "Product p", se.Name)
	assert.Equal(t, 2, se.Requested)
	assert.Equal(t, 1, se.Available)

	assertUntouched(t, st, map[string]int{"p": 1})
}

func TestPlaceOrder_ScenarioC_DuplicateLinesSeeEarlierDecrement(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("p", "10", 3))

	_, err := svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{
		{ProductID: "p", Quantity: 2},
		{ProductID: "p", Quantity: 2},
	})
	var se *orders.InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Available, "second line must see the first decrement")

	assertUntouched(t, st, map[string]int{"p": 3})
}

func TestPlaceOrder_DuplicateLinesWithinStock(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("p", "10", 4))

	o, err := svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{
		{ProductID: "p", Quantity: 2},
		{ProductID: "p", Quantity: 2},
	})
	require.NoError(t, err)
	assert.Len(t, o.Items, 2)
	assert.True(t, o.TotalAmount.Equal(dec("40")))
	assert.Equal(t, 0, st.Stock("p"))
}

func TestPlaceOrder_ScenarioD_EmptyCartNeverTouchesStorage(t *testing.T) {
	svc, st := newService(t)
	var touched []memstore.Op
	st.OnOp(func(op memstore.Op) { touched = append(touched, op) })

	_, err := svc.PlaceOrder(context.Background(), "cust-1", nil)
	require.ErrorIs(t, err, orders.ErrValidation)

	var verrs orders.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs.Fields(), "items")
	assert.Empty(t, touched)
}

func TestPlaceOrder_ValidationBeforeMutation(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("p", "10", 5))
	var touched []memstore.Op
	st.OnOp(func(op memstore.Op) { touched = append(touched, op) })

	_, err := svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{
		{ProductID: "p", Quantity: 1},
		{ProductID: "p", Quantity: 0},
		{ProductID: "", Quantity: -1},
	})
	require.ErrorIs(t, err, orders.ErrValidation)

	var verrs orders.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := verrs.Fields()
	assert.Contains(t, fields, "items.1.quantity")
	assert.Contains(t, fields, "items.2.quantity")
	assert.Contains(t, fields, "items.2.product_id")
	assert.Empty(t, touched)
	assertUntouched(t, st, map[string]int{"p": 5})

	_, err = svc.PlaceOrder(context.Background(), "", []orders.CartLine{{ProductID: "p", Quantity: 1}})
	require.ErrorIs(t, err, orders.ErrValidation)
}

func TestPlaceOrder_UnknownProductRollsBackEarlierLines(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("a", "5", 5))

	_, err := svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{
		{ProductID: "a", Quantity: 1},
		{ProductID: "ghost", Quantity: 1},
	})
	require.ErrorIs(t, err, orders.ErrProductNotFound)
	require.ErrorIs(t, err, orders.ErrValidation)

	var nf *orders.ProductNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.ProductID)
	assert.Equal(t, "items.1.product_id", nf.Field)

	assertUntouched(t, st, map[string]int{"a": 5})
}

func TestPlaceOrder_ExactStockGoesToZero(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("p", "1.50", 3))

	o, err := svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{{ProductID: "p", Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, "4.50", o.TotalAmount.StringFixed(2))
	assert.Equal(t, 0, st.Stock("p"))

	_, err = svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{{ProductID: "p", Quantity: 1}})
	require.ErrorIs(t, err, orders.ErrInsufficientStock)
	assert.Equal(t, 0, st.Stock("p"))
}

func TestPlaceOrder_TotalMatchesItems(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("a", "19.99", 10), product("b", "0.01", 10), product("c", "1000", 10))

	o, err := svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{
		{ProductID: "c", Quantity: 1},
		{ProductID: "a", Quantity: 3},
		{ProductID: "b", Quantity: 7},
	})
	require.NoError(t, err)

	assert.True(t, o.TotalAmount.Equal(o.ItemsTotal()))
	assert.Equal(t, "1060.04", o.TotalAmount.StringFixed(2))
	// item order follows the cart, not the lock order
	require.Len(t, o.Items, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{o.Items[0].ProductID, o.Items[1].ProductID, o.Items[2].ProductID})

	stored, err := svc.GetOrder(context.Background(), "cust-1", o.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(stored.ItemsTotal()))
}

func TestPlaceOrder_PriceCapturedAtOrderTime(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("p", "100", 5))

	o, err := svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{{ProductID: "p", Quantity: 1}})
	require.NoError(t, err)

	require.NoError(t, st.SetPrice("p", dec("250")))

	stored, err := svc.GetOrder(context.Background(), "cust-1", o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "100.00", stored.Items[0].Price.StringFixed(2))
	assert.Equal(t, "100.00", stored.TotalAmount.StringFixed(2))
	// nested product shows the current catalog row
	assert.Equal(t, "250.00", stored.Items[0].Product.Price.StringFixed(2))
}

func TestPlaceOrder_StorageFailureRollsBack(t *testing.T) {
	for _, op := range []memstore.Op{memstore.OpLock, memstore.OpDecrement, memstore.OpInsert, memstore.OpItems, memstore.OpCommit} {
		t.Run(string(op), func(t *testing.T) {
			pub := &fakePublisher{}
			svc, st := newService(t, orders.WithPublisher(pub))
			st.Seed(product("a", "10", 5), product("b", "20", 5))
			st.FailOn(op, memstore.ErrInjected)

			o, err := svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{
				{ProductID: "a", Quantity: 1},
				{ProductID: "b", Quantity: 2},
			})
			require.Nil(t, o)
			require.ErrorIs(t, err, orders.ErrStorage)
			require.ErrorIs(t, err, memstore.ErrInjected)
			assert.NotErrorIs(t, err, orders.ErrValidation)

			assertUntouched(t, st, map[string]int{"a": 5, "b": 5})
			assert.Zero(t, pub.count(), "nothing is published for a failed placement")
		})
	}
}

func TestPlaceOrder_CancelledBeforeCommitRollsBack(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("p", "10", 5))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st.OnOp(func(op memstore.Op) {
		if op == memstore.OpItems {
			cancel()
		}
	})

	_, err := svc.PlaceOrder(ctx, "cust-1", []orders.CartLine{{ProductID: "p", Quantity: 2}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, orders.ErrStorage)
	assertUntouched(t, st, map[string]int{"p": 5})
}

func TestPlaceOrder_DeadlineAlreadyExceeded(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("p", "10", 5))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := svc.PlaceOrder(ctx, "cust-1", []orders.CartLine{{ProductID: "p", Quantity: 1}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assertUntouched(t, st, map[string]int{"p": 5})
}

func TestPlaceOrder_PublishesAfterCommit(t *testing.T) {
	pub := &fakePublisher{}
	cache := &fakeCache{}
	svc, st := newService(t, orders.WithPublisher(pub), orders.WithCache(cache), orders.WithProducerName("test-api"))
	st.Seed(product("p", "12.5", 5))

	o, err := svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{{ProductID: "p", Quantity: 2}})
	require.NoError(t, err)

	require.Equal(t, 1, pub.count())
	msg := pub.msgs[0]
	assert.Equal(t, o.ID, string(msg.key))
	require.Len(t, msg.headers, 2)
	assert.Equal(t, "x-event-type", msg.headers[0].Key)
	assert.Equal(t, orders.EventOrderPlaced, string(msg.headers[0].Value))

	var ev orders.Envelope
	require.NoError(t, json.Unmarshal(msg.value, &ev))
	assert.Equal(t, orders.EventOrderPlaced, ev.EventType)
	assert.Equal(t, 1, ev.EventVersion)
	assert.Equal(t, "test-api", ev.Producer)
	assert.Equal(t, o.ID, ev.CorrelationID)
	assert.NotEmpty(t, ev.EventID)

	var payload orders.OrderPlacedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "25.00", payload.TotalAmount)
	assert.Equal(t, orders.StatusPending, payload.Status)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "12.50", payload.Items[0].Price)

	assert.Equal(t, 1, cache.puts)
}

func TestPlaceOrder_ConcurrentLastUnit(t *testing.T) {
	defer goleak.VerifyNone(t)

	for round := 0; round < 20; round++ {
		svc, st := newService(t)
		st.Seed(product("p", "10", 1))

		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		start := make(chan struct{})
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = svc.PlaceOrder(context.Background(), "cust-1", []orders.CartLine{{ProductID: "p", Quantity: 1}})
			}(i)
		}
		close(start)
		wg.Wait()

		var ok, rejected int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, orders.ErrInsufficientStock):
				rejected++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		require.Equal(t, 1, ok)
		require.Equal(t, 1, rejected)
		require.Equal(t, 0, st.Stock("p"))
	}
}

func TestGetOrder_OwnershipAndCache(t *testing.T) {
	cache := &fakeCache{}
	svc, st := newService(t, orders.WithCache(cache))
	st.Seed(product("p", "10", 5))

	o, err := svc.PlaceOrder(context.Background(), "alice", []orders.CartLine{{ProductID: "p", Quantity: 1}})
	require.NoError(t, err)

	_, err = svc.GetOrder(context.Background(), "bob", o.ID)
	require.ErrorIs(t, err, orders.ErrOrderNotFound)

	_, err = svc.GetOrder(context.Background(), "alice", "missing")
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
	assert.NotErrorIs(t, err, orders.ErrStorage)

	got, err := svc.GetOrder(context.Background(), "alice", o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}

func TestGetOrder_CachedOrderShowsCurrentProduct(t *testing.T) {
	var n int
	seq := func() string { n++; return fmt.Sprintf("id-%02d", n) }
	cache := &fakeCache{}
	svc, st := newService(t, orders.WithCache(cache), orders.WithIDGenerator(seq))
	st.Seed(product("p", "100", 5))
	ctx := context.Background()

	first, err := svc.PlaceOrder(ctx, "alice", []orders.CartLine{{ProductID: "p", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, "id-01", first.ID)
	assert.Equal(t, "id-02", first.Items[0].ID)

	_, err = svc.PlaceOrder(ctx, "alice", []orders.CartLine{{ProductID: "p", Quantity: 3}})
	require.NoError(t, err)
	require.NoError(t, st.SetPrice("p", dec("999")))

	got, err := svc.GetOrder(ctx, "alice", first.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	require.NotNil(t, got.Items[0].Product)
	assert.Equal(t, 0, got.Items[0].Product.StockQty)
	assert.True(t, got.Items[0].Product.Price.Equal(dec("999")))
	assert.True(t, got.Items[0].Price.Equal(dec("100")), "item price stays as placed")

	page, err := svc.ListOrders(ctx, "alice", orders.Page{})
	require.NoError(t, err)
	var listed *orders.Order
	for i := range page.Orders {
		if page.Orders[i].ID == first.ID {
			listed = &page.Orders[i]
		}
	}
	require.NotNil(t, listed)
	assert.Equal(t, listed.Items[0].Product.StockQty, got.Items[0].Product.StockQty)
	assert.True(t, listed.Items[0].Product.Price.Equal(got.Items[0].Product.Price))
}

func TestGetOrder_StoreMissWithoutCache(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("p", "10", 5))

	o, err := svc.PlaceOrder(context.Background(), "alice", []orders.CartLine{{ProductID: "p", Quantity: 1}})
	require.NoError(t, err)

	_, err = svc.GetOrder(context.Background(), "bob", o.ID)
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestListOrders_NewestFirstPaginated(t *testing.T) {
	svc, st := newService(t)
	st.Seed(product("p", "10", 100))

	var ids []string
	for i := 0; i < 5; i++ {
		o, err := svc.PlaceOrder(context.Background(), "alice", []orders.CartLine{{ProductID: "p", Quantity: 1}})
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	_, err := svc.PlaceOrder(context.Background(), "bob", []orders.CartLine{{ProductID: "p", Quantity: 1}})
	require.NoError(t, err)

	page, err := svc.ListOrders(context.Background(), "alice", orders.Page{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Orders, 2)
	assert.Equal(t, ids[4], page.Orders[0].ID)
	assert.Equal(t, ids[3], page.Orders[1].ID)
	require.Len(t, page.Orders[0].Items, 1)
	assert.NotNil(t, page.Orders[0].Items[0].Product)

	last, err := svc.ListOrders(context.Background(), "alice", orders.Page{Page: 3, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, last.Orders, 1)
	assert.Equal(t, ids[0], last.Orders[0].ID)

	def, err := svc.ListOrders(context.Background(), "alice", orders.Page{})
	require.NoError(t, err)
	assert.Equal(t, orders.DefaultPerPage, def.Page.PerPage)
	assert.Equal(t, 1, def.Page.Page)
	assert.Len(t, def.Orders, 5)
}

func TestListProducts_Filters(t *testing.T) {
	svc, st := newService(t)
	featured := product("f", "1", 1)
	featured.IsFeatured = true
	st.Seed(featured, product("x", "1", 1))

	yes := true
	page, err := svc.ListProducts(context.Background(), orders.ProductQuery{Featured: &yes})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Products, 1)
	assert.Equal(t, "f", page.Products[0].ID)

	_, err = svc.GetProduct(context.Background(), "nope")
	require.ErrorIs(t, err, orders.ErrProductNotFound)
}
