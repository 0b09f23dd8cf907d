package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

const orderColumns = `id, number, coupon_code, email,
	item_total, base_discount, shipping_discount, base_shipping_cost, total_price, total_paid,
	currency, payment_currency, customer_id, billing_address_id, shipping_address_id,
	shipping_method, payment_method_id, order_status_id,
	completed_at, date_paid, created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	updateOrderSQL = `UPDATE orders SET number = $2, coupon_code = $3, email = $4,
		item_total = $5, base_discount = $6, shipping_discount = $7, base_shipping_cost = $8, total_price = $9,
		total_paid = $10, currency = $11, payment_currency = $12, customer_id = $13, billing_address_id = $14,
		shipping_address_id = $15, shipping_method = $16, payment_method_id = $17, order_status_id = $18,
		completed_at = $19, date_paid = $20, created_at = $21, updated_at = $22
		WHERE id = $1`

	getOrderByIDSQL     = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE number = $1`
	lockOrderSQL        = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	deleteStaleCartsSQL = `DELETE FROM orders o
		WHERE o.completed_at IS NULL AND o.updated_at < $1
		AND NOT EXISTS (SELECT 1 FROM transactions t WHERE t.order_id = o.id)`
)

var (
	_ order.Repository       = (*OrderRepository)(nil)
	_ order.StatusRepository = (*StatusRepository)(nil)
)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	s *Store
}

func orderArgs(o *order.Order) []any {
	return []any{
		o.ID, o.Number, o.CouponCode, o.Email,
		o.ItemTotal, o.BaseDiscount, o.ShippingDiscount, o.BaseShippingCost, o.TotalPrice, o.TotalPaid,
		o.Currency, o.PaymentCurrency, o.CustomerID, o.BillingAddressID, o.ShippingAddressID,
		o.ShippingMethod, o.PaymentMethodID, o.OrderStatusID,
		o.CompletedAt, o.DatePaid, o.CreatedAt, o.UpdatedAt,
	}
}

// Create inserts a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if _, err := r.s.conn(ctx).Exec(ctx, createOrderSQL, orderArgs(o)...); err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// Update overwrites every column of an order.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	tag, err := r.s.conn(ctx).Exec(ctx, updateOrderSQL, orderArgs(o)...)
	if err != nil {
		return errors.Wrapf(err, "update order %q", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return &order.NotFoundError{Entity: "order", ID: o.ID}
	}
	return nil
}

// GetByID returns an order by id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByNumber returns an order by its public number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByNumberSQL, number)
}

// LockForUpdate returns the order and locks its row until the transaction
// of ctx ends.
func (r *OrderRepository) LockForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, lockOrderSQL, id)
}

func (r *OrderRepository) getOne(ctx context.Context, query, key string) (*order.Order, error) {
	rows, err := r.s.conn(ctx).Query(ctx, query, key)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", key)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &order.NotFoundError{Entity: "order", ID: key}
		}
		return nil, errors.Wrapf(err, "get order %q", key)
	}
	return o, nil
}

// DeleteStaleCarts removes incomplete carts without transactions that were
// last updated before the cutoff. Line items and adjustments cascade.
func (r *OrderRepository) DeleteStaleCarts(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.s.conn(ctx).Exec(ctx, deleteStaleCartsSQL, before)
	if err != nil {
		return 0, errors.Wrap(err, "delete stale carts")
	}
	return tag.RowsAffected(), nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.Number, &o.CouponCode, &o.Email,
		&o.ItemTotal, &o.BaseDiscount, &o.ShippingDiscount, &o.BaseShippingCost, &o.TotalPrice, &o.TotalPaid,
		&o.Currency, &o.PaymentCurrency, &o.CustomerID, &o.BillingAddressID, &o.ShippingAddressID,
		&o.ShippingMethod, &o.PaymentMethodID, &o.OrderStatusID,
		&o.CompletedAt, &o.DatePaid, &o.CreatedAt, &o.UpdatedAt,
	)
	return &o, err
}

const (
	getDefaultStatusSQL = `SELECT id, handle, name, is_default FROM order_statuses WHERE is_default`

	clearDefaultStatusSQL = `UPDATE order_statuses SET is_default = FALSE WHERE is_default AND id <> $1`

	upsertStatusSQL = `INSERT INTO order_statuses (id, handle, name, is_default)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET handle = EXCLUDED.handle, name = EXCLUDED.name, is_default = EXCLUDED.is_default`
)

// StatusRepository implements order.StatusRepository backed by PostgreSQL.
type StatusRepository struct {
	s *Store
}

// Default returns the status flagged default.
func (r *StatusRepository) Default(ctx context.Context) (*order.Status, error) {
	var st order.Status
	err := r.s.conn(ctx).QueryRow(ctx, getDefaultStatusSQL).Scan(&st.ID, &st.Handle, &st.Name, &st.Default)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &order.NotFoundError{Entity: "order status", ID: "default"}
		}
		return nil, errors.Wrap(err, "get default order status")
	}
	return &st, nil
}

// Put inserts or replaces a status. A new default clears the previous one.
func (r *StatusRepository) Put(ctx context.Context, st order.Status) error {
	return r.s.InTx(ctx, func(ctx context.Context) error {
		if st.Default {
			if _, err := r.s.conn(ctx).Exec(ctx, clearDefaultStatusSQL, st.ID); err != nil {
				return errors.Wrap(err, "clear default order status")
			}
		}
		if _, err := r.s.conn(ctx).Exec(ctx, upsertStatusSQL, st.ID, st.Handle, st.Name, st.Default); err != nil {
			return errors.Wrapf(err, "put order status %q", st.ID)
		}
		return nil
	})
}
