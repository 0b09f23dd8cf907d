package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-commerce/internal/domain/auth"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/payment"
)

func newOrder(id string, updated time.Time) *order.Order {
	return &order.Order{
		ID:        id,
		Number:    "n-" + id,
		Currency:  "USD",
		CreatedAt: updated,
		UpdatedAt: updated,
	}
}

func TestStore_InTx(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("commits", func(t *testing.T) {
		s := New()
		err := s.InTx(ctx, func(ctx context.Context) error {
			return s.Orders().Create(ctx, newOrder("o1", now))
		})
		require.NoError(t, err)

		_, err = s.Orders().GetByID(ctx, "o1")
		require.NoError(t, err)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		s := New()
		require.NoError(t, s.Orders().Create(ctx, newOrder("o1", now)))

		boom := errors.New("boom")
		err := s.InTx(ctx, func(ctx context.Context) error {
			o, err := s.Orders().LockForUpdate(ctx, "o1")
			require.NoError(t, err)
			o.Email = "changed@example.com"
			require.NoError(t, s.Orders().Update(ctx, o))
			require.NoError(t, s.Orders().Create(ctx, newOrder("o2", now)))
			return boom
		})
		require.ErrorIs(t, err, boom)

		o, err := s.Orders().GetByID(ctx, "o1")
		require.NoError(t, err)
		assert.Empty(t, o.Email)
		_, err = s.Orders().GetByID(ctx, "o2")
		assert.True(t, order.IsNotFound(err))
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		s := New()
		assert.Panics(t, func() {
			_ = s.InTx(ctx, func(ctx context.Context) error {
				require.NoError(t, s.Orders().Create(ctx, newOrder("o1", now)))
				panic("boom")
			})
		})
		_, err := s.Orders().GetByID(ctx, "o1")
		assert.True(t, order.IsNotFound(err))
	})

	t.Run("nested joins outer", func(t *testing.T) {
		s := New()
		boom := errors.New("boom")
		err := s.InTx(ctx, func(ctx context.Context) error {
			require.NoError(t, s.InTx(ctx, func(ctx context.Context) error {
				return s.Orders().Create(ctx, newOrder("o1", now))
			}))
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = s.Orders().GetByID(ctx, "o1")
		assert.True(t, order.IsNotFound(err), "inner work must roll back with the outer unit")
	})
}

func TestOrderRepository_Isolation(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := newOrder("o1", time.Now())
	billing := "addr-1"
	o.BillingAddressID = &billing
	require.NoError(t, s.Orders().Create(ctx, o))

	billing = "mutated"
	got, err := s.Orders().GetByID(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got.BillingAddressID)
	assert.Equal(t, "addr-1", *got.BillingAddressID)

	*got.BillingAddressID = "mutated-again"
	again, err := s.Orders().GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "addr-1", *again.BillingAddressID)
}

func TestOrderRepository_DeleteStaleCarts(t *testing.T) {
	ctx := context.Background()
	s := New()
	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	stale := newOrder("stale", cutoff.Add(-time.Hour))
	fresh := newOrder("fresh", cutoff.Add(time.Hour))
	done := newOrder("done", cutoff.Add(-time.Hour))
	completed := cutoff.Add(-2 * time.Hour)
	done.CompletedAt = &completed
	for _, o := range []*order.Order{stale, fresh, done} {
		require.NoError(t, s.Orders().Create(ctx, o))
	}
	require.NoError(t, s.LineItems().Create(ctx, &order.LineItem{ID: "li-1", OrderID: "stale", PurchasableID: "p1", Qty: 1}))
	require.NoError(t, s.Adjustments().ReplaceForOrder(ctx, "stale", []*order.Adjustment{{ID: "a1", OrderID: "stale", Type: order.AdjustmentShipping}}))

	n, err := s.Orders().DeleteStaleCarts(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Orders().GetByID(ctx, "stale")
	assert.True(t, order.IsNotFound(err))
	_, err = s.LineItems().GetByID(ctx, "li-1")
	assert.True(t, order.IsNotFound(err))
	adj, err := s.Adjustments().ListByOrder(ctx, "stale")
	require.NoError(t, err)
	assert.Empty(t, adj)

	for _, id := range []string{"fresh", "done"} {
		_, err = s.Orders().GetByID(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestLineItemRepository_UniqueKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Orders().Create(ctx, newOrder("o1", time.Now())))

	li := &order.LineItem{ID: "li-1", OrderID: "o1", PurchasableID: "p1", OptionsSignature: "sig", Qty: 1}
	require.NoError(t, s.LineItems().Create(ctx, li))

	dup := &order.LineItem{ID: "li-2", OrderID: "o1", PurchasableID: "p1", OptionsSignature: "sig", Qty: 1}
	require.Error(t, s.LineItems().Create(ctx, dup))

	found, err := s.LineItems().FindByKey(ctx, "o1", "p1", "sig")
	require.NoError(t, err)
	assert.Equal(t, "li-1", found.ID)

	_, err = s.LineItems().FindByKey(ctx, "o1", "p1", "other")
	assert.True(t, order.IsNotFound(err))
}

func TestStatusRepository_SingleDefault(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Statuses().Default(ctx)
	require.True(t, order.IsNotFound(err))

	require.NoError(t, s.Statuses().Put(ctx, order.Status{ID: "s1", Handle: "new", Default: true}))
	require.NoError(t, s.Statuses().Put(ctx, order.Status{ID: "s2", Handle: "processing", Default: true}))

	st, err := s.Statuses().Default(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", st.ID)
}

func TestTransactionRepository_SumSuccessful(t *testing.T) {
	ctx := context.Background()
	s := New()
	txs := []payment.Transaction{
		{ID: "t1", OrderID: "o1", Type: payment.TypePurchase, Status: payment.StatusSuccess, Amount: decimal.RequireFromString("10.00")},
		{ID: "t2", OrderID: "o1", Type: payment.TypeCapture, Status: payment.StatusSuccess, Amount: decimal.RequireFromString("5.50")},
		{ID: "t3", OrderID: "o1", Type: payment.TypePurchase, Status: payment.StatusFailed, Amount: decimal.RequireFromString("99.00")},
		{ID: "t4", OrderID: "o1", Type: payment.TypeRefund, Status: payment.StatusSuccess, Amount: decimal.RequireFromString("3.00")},
		{ID: "t5", OrderID: "o2", Type: payment.TypePurchase, Status: payment.StatusSuccess, Amount: decimal.RequireFromString("7.00")},
	}
	for i := range txs {
		require.NoError(t, s.Transactions().Create(ctx, &txs[i]))
	}

	sum, err := s.Transactions().SumSuccessful(ctx, "o1", string(payment.TypePurchase), string(payment.TypeCapture))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("15.50").Equal(sum), "got %s", sum)
}

func TestAPIKeyRepository_Rotate(t *testing.T) {
	ctx := context.Background()
	keys := New().APIKeys()
	require.NoError(t, keys.Put(ctx, auth.APIKeyInfo{ID: "admin", KeyHash: "h1", Scopes: []string{"admin"}}))
	require.NoError(t, keys.Put(ctx, auth.APIKeyInfo{ID: "admin", KeyHash: "h2", Scopes: []string{"admin"}}))

	_, err := keys.FindByHash(ctx, "h1")
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
	info, err := keys.FindByHash(ctx, "h2")
	require.NoError(t, err)
	assert.Equal(t, "admin", info.ID)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSessions(time.Hour)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, "tok", "num-1"))

	now = now.Add(50 * time.Minute)
	number, ok, err := s.Lookup(ctx, "tok")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "num-1", number)

	// The lookup above refreshed the TTL.
	now = now.Add(50 * time.Minute)
	_, ok, err = s.Lookup(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	_, ok, err = s.Lookup(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "a", "num-2"))
	require.NoError(t, s.Save(ctx, "b", "num-2"))
	require.NoError(t, s.ForgetNumber(ctx, "num-2"))
	_, ok, _ = s.Lookup(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = s.Lookup(ctx, "b")
	assert.False(t, ok)
}
