package order_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-commerce/internal/domain/customer"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/payment"
	"github.com/xenking/kart-commerce/internal/storage/memory"
)

func TestService_Complete(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns default status and snapshots addresses", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 1})
		require.NoError(t, f.store.Addresses().CreateAddress(ctx, &customer.Address{
			ID: "addr-1", CustomerID: "cust-1", FirstName: "Ada", City: "London", CountryCode: "GB",
		}))
		addr := "addr-1"
		o.BillingAddressID = &addr
		o.ShippingAddressID = &addr
		require.NoError(t, f.store.Orders().Update(ctx, o))

		require.NoError(t, f.svc.Complete(ctx, o))

		assert.True(t, o.IsCompleted())
		assert.Equal(t, now, *o.CompletedAt)
		assert.Equal(t, "st-new", o.OrderStatusID)
		require.NotNil(t, o.BillingAddressID)
		require.NotNil(t, o.ShippingAddressID)
		assert.NotEqual(t, "addr-1", *o.BillingAddressID)
		assert.Equal(t, *o.BillingAddressID, *o.ShippingAddressID, "identical addresses share one copy")

		snap, err := f.store.Addresses().GetAddress(ctx, *o.BillingAddressID)
		require.NoError(t, err)
		assert.Equal(t, "London", snap.City)
		assert.Empty(t, snap.CustomerID)

		stored, err := f.store.Orders().GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.OrderStatusID, stored.OrderStatusID)
	})

	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 1})
		require.NoError(t, f.svc.Complete(ctx, o))
		first := f.rows(t, o.ID)

		require.NoError(t, f.svc.Complete(ctx, o))
		assert.Equal(t, first, f.rows(t, o.ID))
	})

	t.Run("missing default status", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Statuses().Put(ctx, order.Status{ID: "st-new", Handle: "new", Name: "New"}))
		o := f.cart(t, map[string]int{"p1": 1})

		err := f.svc.Complete(ctx, o)
		require.ErrorIs(t, err, order.ErrNoDefaultStatus)
		assert.True(t, order.IsNotFound(err))

		stored, err := f.store.Orders().GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsCompleted())
	})

	t.Run("completed orders reject recalculation", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 2})
		require.NoError(t, f.svc.Recalculate(ctx, o))
		require.NoError(t, f.svc.Complete(ctx, o))
		before := f.rows(t, o.ID)

		err := f.svc.Recalculate(ctx, o)
		require.ErrorIs(t, err, order.ErrOrderCompleted)
		var ce *order.ConsistencyError
		require.ErrorAs(t, err, &ce)

		// A stale copy still in the cart state is rejected by the locked row.
		stale := *o
		stale.CompletedAt = nil
		require.ErrorIs(t, f.svc.Recalculate(ctx, &stale), order.ErrOrderCompleted)

		assert.Equal(t, before, f.rows(t, o.ID))
	})
}

func addTransaction(t *testing.T, s *memory.Store, tx payment.Transaction) {
	t.Helper()
	if tx.OrderID == "" {
		tx.OrderID = "order-1"
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
		tx.UpdatedAt = now
	}
	require.NoError(t, s.Transactions().Create(context.Background(), &tx))
}

func TestService_UpdateOrderPaidTotal(t *testing.T) {
	ctx := context.Background()

	t.Run("sums successful purchases and captures", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 3})
		require.NoError(t, f.svc.Recalculate(ctx, o))

		addTransaction(t, f.store, payment.Transaction{ID: "t1", Type: payment.TypePurchase, Status: payment.StatusSuccess, Amount: d("10.00")})
		addTransaction(t, f.store, payment.Transaction{ID: "t2", Type: payment.TypeCapture, Status: payment.StatusSuccess, Amount: d("5.00")})
		addTransaction(t, f.store, payment.Transaction{ID: "t3", Type: payment.TypePurchase, Status: payment.StatusFailed, Amount: d("30.00")})
		addTransaction(t, f.store, payment.Transaction{ID: "t4", Type: payment.TypeRefund, Status: payment.StatusSuccess, Amount: d("2.00")})

		got, err := f.svc.UpdateOrderPaidTotal(ctx, o.ID)
		require.NoError(t, err)
		assertDecimal(t, "15.00", got.TotalPaid)
		assert.Nil(t, got.DatePaid)
		assert.False(t, got.IsCompleted())
	})

	t.Run("completes when fully paid", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 2})
		f.setCoupon(t, o, "TENOFF")
		require.NoError(t, f.svc.Recalculate(ctx, o))
		assertDecimal(t, "18.00", o.TotalPrice)

		addTransaction(t, f.store, payment.Transaction{ID: "t1", Type: payment.TypePurchase, Status: payment.StatusSuccess, Amount: d("18.00")})

		got, err := f.svc.UpdateOrderPaidTotal(ctx, o.ID)
		require.NoError(t, err)
		assertDecimal(t, "18.00", got.TotalPaid)
		assert.True(t, got.IsPaid())
		require.NotNil(t, got.DatePaid)
		assert.True(t, got.IsCompleted())
		assert.Equal(t, "st-new", got.OrderStatusID)
	})

	t.Run("completes when fully authorized", func(t *testing.T) {
		f := newFixture(t)
		o := f.cart(t, map[string]int{"p1": 1})
		require.NoError(t, f.svc.Recalculate(ctx, o))

		addTransaction(t, f.store, payment.Transaction{ID: "t1", Type: payment.TypeAuthorize, Status: payment.StatusSuccess, Amount: d("10.00")})

		got, err := f.svc.UpdateOrderPaidTotal(ctx, o.ID)
		require.NoError(t, err)
		assertDecimal(t, "0", got.TotalPaid)
		assert.Nil(t, got.DatePaid)
		assert.True(t, got.IsCompleted())
	})

	t.Run("missing default status rolls back paid total", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.store.Statuses().Put(ctx, order.Status{ID: "st-new", Handle: "new", Name: "New"}))
		o := f.cart(t, map[string]int{"p1": 1})
		require.NoError(t, f.svc.Recalculate(ctx, o))
		addTransaction(t, f.store, payment.Transaction{ID: "t1", Type: payment.TypePurchase, Status: payment.StatusSuccess, Amount: d("10.00")})

		_, err := f.svc.UpdateOrderPaidTotal(ctx, o.ID)
		require.ErrorIs(t, err, order.ErrNoDefaultStatus)

		stored, err := f.store.Orders().GetByID(ctx, o.ID)
		require.NoError(t, err)
		assertDecimal(t, "0", stored.TotalPaid)
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.UpdateOrderPaidTotal(ctx, "missing")
		assert.True(t, order.IsNotFound(err))
	})
}
