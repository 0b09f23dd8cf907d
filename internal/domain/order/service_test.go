package order_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-commerce/internal/domain/adjuster"
	"github.com/xenking/kart-commerce/internal/domain/coupon"
	"github.com/xenking/kart-commerce/internal/domain/customer"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/product"
	"github.com/xenking/kart-commerce/internal/storage/memory"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got)
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	svc   *order.Service
}

func newFixture(t *testing.T, opts ...order.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Products().Put(ctx, product.Product{ID: "p1", SKU: "SKU-1", Name: "Widget", Price: d("10.00"), Enabled: true}))
	require.NoError(t, s.Products().Put(ctx, product.Product{ID: "p2", SKU: "SKU-2", Name: "Gadget", Price: d("5.00"), Enabled: true}))
	require.NoError(t, s.Statuses().Put(ctx, order.Status{ID: "st-new", Handle: "new", Name: "New", Default: true}))
	require.NoError(t, s.Coupons().Put(ctx, coupon.Rule{
		ID: "c1", Code: "TENOFF", DiscountType: coupon.DiscountPercentage, Value: d("10"), Enabled: true,
	}))

	deps := order.Deps{
		Orders:       s.Orders(),
		LineItems:    s.LineItems(),
		Adjustments:  s.Adjustments(),
		Statuses:     s.Statuses(),
		Payments:     s.Transactions(),
		Addresses:    customer.NewAddressBook(s.Addresses()),
		Purchasables: product.NewCatalog(s.Products()),
		Tx:           s,
		Pipeline:     order.NewPipeline(nil, adjuster.NewDiscount(coupon.NewMatcher(s.Coupons())), nil),
	}
	opts = append([]order.Option{order.WithClock(func() time.Time { return now })}, opts...)
	return &fixture{store: s, svc: order.NewService(deps, opts...)}
}

// cart persists an order holding qty units of each purchasable.
func (f *fixture) cart(t *testing.T, lines map[string]int) *order.Order {
	t.Helper()
	ctx := context.Background()
	o := &order.Order{
		ID:        "order-1",
		Number:    "num-1",
		Currency:  "USD",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.store.Orders().Create(ctx, o))
	catalog := product.NewCatalog(f.store.Products())
	for id, qty := range lines {
		snap, ok, err := catalog.Resolve(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		li := &order.LineItem{ID: "li-" + id, OrderID: o.ID, Qty: qty, CreatedAt: now, UpdatedAt: now}
		li.PopulateFromSnapshot(*snap)
		require.NoError(t, f.store.LineItems().Create(ctx, li))
	}
	return o
}

func (f *fixture) setCoupon(t *testing.T, o *order.Order, code string) {
	t.Helper()
	o.CouponCode = code
	require.NoError(t, f.store.Orders().Update(context.Background(), o))
}

// rows renders everything recalculation writes for an order.
func (f *fixture) rows(t *testing.T, orderID string) string {
	t.Helper()
	ctx := context.Background()
	o, err := f.store.Orders().GetByID(ctx, orderID)
	require.NoError(t, err)
	items, err := f.store.LineItems().ListByOrder(ctx, orderID)
	require.NoError(t, err)
	adj, err := f.store.Adjustments().ListByOrder(ctx, orderID)
	require.NoError(t, err)
	data, err := json.Marshal(struct {
		Order       *order.Order
		Items       []*order.LineItem
		Adjustments []*order.Adjustment
	}{o, items, adj})
	require.NoError(t, err)
	return string(data)
}

func TestService_Recalculate(t *testing.T) {
	ctx := context.Background()

	t.Run("two units at 10.00", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 2})

		require.NoError(t, f.svc.Recalculate(ctx, o))

		assertDecimal(t, "20.00", o.ItemTotal)
		assertDecimal(t, "0", o.BaseDiscount)
		assertDecimal(t, "0", o.BaseShippingCost)
		assertDecimal(t, "20.00", o.TotalPrice)

		items, err := f.store.LineItems().ListByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assertDecimal(t, "20.00", items[0].Total)

		adj, err := f.store.Adjustments().ListByOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Empty(t, adj)
	})

	t.Run("ten percent coupon", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 2})
		f.setCoupon(t, o, "TENOFF")

		require.NoError(t, f.svc.Recalculate(ctx, o))

		assertDecimal(t, "20.00", o.ItemTotal)
		assertDecimal(t, "-2.00", o.BaseDiscount)
		assertDecimal(t, "18.00", o.TotalPrice)

		adj, err := f.store.Adjustments().ListByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, adj, 1)
		assert.Equal(t, order.AdjustmentDiscount, adj[0].Type)
		assert.Equal(t, "TENOFF", adj[0].Name)
		assert.Equal(t, o.ID, adj[0].OrderID)
		assert.Equal(t, 0, adj[0].Position)
		assertDecimal(t, "-2.00", adj[0].Amount)
	})

	t.Run("totals invariant", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 3, "p2": 1})
		f.setCoupon(t, o, "TENOFF")

		require.NoError(t, f.svc.Recalculate(ctx, o))

		items, err := f.store.LineItems().ListByOrder(ctx, o.ID)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, li := range items {
			assertDecimal(t, order.CalculateTotal(li).String(), li.Total)
			sum = sum.Add(li.Total)
		}
		assertDecimal(t, sum.String(), o.ItemTotal)

		want := o.ItemTotal.Add(o.BaseDiscount).Add(o.BaseShippingCost)
		if want.IsNegative() {
			want = decimal.Zero
		}
		assertDecimal(t, want.String(), o.TotalPrice)
		assertDecimal(t, "31.50", o.TotalPrice)
	})

	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 2, "p2": 3})
		f.setCoupon(t, o, "TENOFF")

		require.NoError(t, f.svc.Recalculate(ctx, o))
		first := f.rows(t, o.ID)
		require.NoError(t, f.svc.Recalculate(ctx, o))
		second := f.rows(t, o.ID)

		assert.Equal(t, first, second)
	})

	t.Run("removes orphaned line items", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 1, "p2": 2})
		require.NoError(t, f.store.Products().Put(ctx, product.Product{ID: "p2", SKU: "SKU-2", Name: "Gadget", Price: d("5.00"), Enabled: false}))

		require.NoError(t, f.svc.Recalculate(ctx, o))

		items, err := f.store.LineItems().ListByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "p1", items[0].PurchasableID)
		assertDecimal(t, "10.00", o.TotalPrice)
	})

	t.Run("refreshes prices from catalog", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 2})
		require.NoError(t, f.store.Products().Put(ctx, product.Product{
			ID: "p1", SKU: "SKU-1", Name: "Widget", Price: d("10.00"),
			SalePrice: decimal.NewNullDecimal(d("8.00")), Enabled: true,
		}))

		require.NoError(t, f.svc.Recalculate(ctx, o))

		items, err := f.store.LineItems().ListByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assertDecimal(t, "2.00", items[0].SaleAmount)
		assertDecimal(t, "16.00", o.TotalPrice)
	})

	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, nil)

		require.NoError(t, f.svc.Recalculate(ctx, o))
		assertDecimal(t, "0", o.ItemTotal)
		assertDecimal(t, "0", o.TotalPrice)
	})

	t.Run("unsaved order", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.Recalculate(ctx, &order.Order{})
		require.ErrorIs(t, err, order.ErrUnsavedOrder)
	})

	t.Run("discards unsaved changes", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 1})
		o.TotalPrice = d("999")
		o.Email = "unsaved@example.com"

		require.NoError(t, f.svc.Recalculate(ctx, o))
		assertDecimal(t, "10.00", o.TotalPrice)
		assert.Empty(t, o.Email)
	})
}

// fieldWriter is a plugin adjuster that writes fields through fn.
type fieldWriter struct {
	typ order.AdjustmentType
	fn  func(o *order.Order, items []*order.LineItem)
	adj []*order.Adjustment
}

func (w fieldWriter) Type() order.AdjustmentType { return w.typ }

func (w fieldWriter) Adjust(_ context.Context, o *order.Order, items []*order.LineItem) ([]*order.Adjustment, error) {
	if w.fn != nil {
		w.fn(o, items)
	}
	return w.adj, nil
}

func TestService_Recalculate_Plugins(t *testing.T) {
	ctx := context.Background()

	t.Run("plugin adjustments follow built-ins", func(t *testing.T) {
		fee := fieldWriter{
			typ: "fee",
			adj: []*order.Adjustment{{Type: "fee", Name: "Handling", Amount: d("1.234")}},
		}
		f := newFixture(t, order.WithAdjusters(fee))
		o := f.cart(t, map[string]int{"p1": 2})
		f.setCoupon(t, o, "TENOFF")

		require.NoError(t, f.svc.Recalculate(ctx, o))

		adj, err := f.store.Adjustments().ListByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, adj, 2)
		assert.Equal(t, order.AdjustmentDiscount, adj[0].Type)
		assert.Equal(t, order.AdjustmentType("fee"), adj[1].Type)
		assert.Equal(t, 1, adj[1].Position)
		assertDecimal(t, "1.23", adj[1].Amount)
		assert.NotEqual(t, adj[0].ID, adj[1].ID)
	})

	t.Run("ownership violation rolls back", func(t *testing.T) {
		rogue := fieldWriter{
			typ: "fee",
			fn:  func(o *order.Order, _ []*order.LineItem) { o.BaseShippingCost = d("5") },
		}
		f := newFixture(t, order.WithAdjusters(rogue))
		o := f.cart(t, map[string]int{"p1": 2})
		before := f.rows(t, o.ID)

		err := f.svc.Recalculate(ctx, o)
		require.ErrorIs(t, err, order.ErrFieldOwnership)
		var ce *order.ConsistencyError
		require.ErrorAs(t, err, &ce)

		assert.Equal(t, before, f.rows(t, o.ID))
	})

	t.Run("validation errors are aggregated", func(t *testing.T) {
		bad := fieldWriter{
			typ: order.AdjustmentDiscount,
			fn: func(o *order.Order, items []*order.LineItem) {
				o.BaseDiscount = d("1")
				items[0].Discount = d("1")
			},
			adj: []*order.Adjustment{{Type: order.AdjustmentDiscount, Amount: d("1")}},
		}
		f := newFixture(t, order.WithAdjusters(bad))
		o := f.cart(t, map[string]int{"p1": 1})
		before := f.rows(t, o.ID)

		err := f.svc.Recalculate(ctx, o)
		require.Error(t, err)

		var verrs order.ValidationErrors
		require.ErrorAs(t, err, &verrs)
		require.Len(t, verrs, 3)
		assert.Equal(t, "order", verrs[0].Entity)
		assert.Equal(t, "line item", verrs[1].Entity)
		assert.Equal(t, "adjustment", verrs[2].Entity)

		var verr *order.ValidationError
		require.ErrorAs(t, err, &verr)

		assert.Equal(t, before, f.rows(t, o.ID))
	})
}

type recordingHook struct {
	order.NopHook
	calls             []string
	afterRecalcErr    error
	beforeCompleteErr error
	afterCompleteErr  error
}

func (h *recordingHook) BeforeRecalculate(context.Context, *order.Order) error {
	h.calls = append(h.calls, "before_recalculate")
	return nil
}

func (h *recordingHook) AfterRecalculate(context.Context, *order.Order) error {
	h.calls = append(h.calls, "after_recalculate")
	return h.afterRecalcErr
}

func (h *recordingHook) BeforeComplete(context.Context, *order.Order) error {
	h.calls = append(h.calls, "before_complete")
	return h.beforeCompleteErr
}

func (h *recordingHook) AfterComplete(context.Context, *order.Order) error {
	h.calls = append(h.calls, "after_complete")
	return h.afterCompleteErr
}

func TestService_Hooks(t *testing.T) {
	ctx := context.Background()

	t.Run("after recalculate veto rolls back", func(t *testing.T) {
		hook := &recordingHook{afterRecalcErr: errors.New("veto")}
		f := newFixture(t, order.WithHooks(hook))
		o := f.cart(t, map[string]int{"p1": 2})
		f.setCoupon(t, o, "TENOFF")
		before := f.rows(t, o.ID)

		err := f.svc.Recalculate(ctx, o)
		require.Error(t, err)
		assert.Equal(t, []string{"before_recalculate", "after_recalculate"}, hook.calls)
		assert.Equal(t, before, f.rows(t, o.ID))
	})

	t.Run("after complete errors do not undo completion", func(t *testing.T) {
		hook := &recordingHook{afterCompleteErr: errors.New("broker down")}
		f := newFixture(t, order.WithHooks(hook))
		o := f.cart(t, map[string]int{"p1": 1})

		require.NoError(t, f.svc.Complete(ctx, o))
		assert.True(t, o.IsCompleted())
		assert.Equal(t, []string{"before_complete", "after_complete"}, hook.calls)
	})

	t.Run("before complete veto", func(t *testing.T) {
		hook := &recordingHook{beforeCompleteErr: errors.New("veto")}
		f := newFixture(t, order.WithHooks(hook))
		o := f.cart(t, map[string]int{"p1": 1})

		require.Error(t, f.svc.Complete(ctx, o))
		stored, err := f.store.Orders().GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsCompleted())
	})
}
