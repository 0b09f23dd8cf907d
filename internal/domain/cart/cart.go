// Package cart maps anonymous sessions to mutable carts and routes every cart
// mutation through order recalculation.
package cart

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-commerce/internal/domain/coupon"
	"github.com/xenking/kart-commerce/internal/domain/customer"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/txn"
)

// SessionStore maps cart tokens to cart numbers. Entries expire after a
// store-defined TTL that is refreshed on access.
type SessionStore interface {
	// Lookup returns the cart number of a token; ok is false for unknown or
	// expired tokens.
	Lookup(ctx context.Context, token string) (number string, ok bool, err error)
	Save(ctx context.Context, token, number string) error
	// ForgetNumber drops every token pointing at the cart number.
	ForgetNumber(ctx context.Context, number string) error
}

// Recalculator is the order engine entry point used after every mutation.
type Recalculator interface {
	Recalculate(ctx context.Context, o *order.Order) error
}

// CouponChecker validates coupon codes against cart items.
type CouponChecker interface {
	Check(ctx context.Context, code string, items []coupon.Item) (*coupon.Rule, error)
}

// AddressBook resolves customer default addresses.
type AddressBook interface {
	DefaultAddresses(ctx context.Context, customerID string) (billingID, shippingID string, err error)
}

// Hook observes add-to-cart. BeforeAddToCart runs before the line item is
// validated and persisted and vetoes by returning an error. AfterAddToCart
// runs after recalculation, inside the same unit of work.
type Hook interface {
	BeforeAddToCart(ctx context.Context, o *order.Order, li *order.LineItem) error
	AfterAddToCart(ctx context.Context, o *order.Order, li *order.LineItem) error
}

// NopHook implements Hook with no-ops.
type NopHook struct{}

func (NopHook) BeforeAddToCart(context.Context, *order.Order, *order.LineItem) error { return nil }
func (NopHook) AfterAddToCart(context.Context, *order.Order, *order.LineItem) error  { return nil }

// Deps holds the collaborators of a Manager.
type Deps struct {
	Orders       order.Repository
	LineItems    order.LineItemRepository
	Purchasables order.Purchasables
	Engine       Recalculator
	Sessions     SessionStore
	Addresses    AddressBook
	Coupons      CouponChecker
	Tx           txn.Manager
	// Currency of new carts.
	Currency string
}

// Option configures a Manager.
type Option func(*Manager)

// WithHooks registers add-to-cart hooks.
func WithHooks(hooks ...Hook) Option {
	return func(m *Manager) {
		m.hooks = append(m.hooks, hooks...)
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager implements the cart lifecycle. It never computes totals itself.
type Manager struct {
	orders       order.Repository
	lineItems    order.LineItemRepository
	purchasables order.Purchasables
	engine       Recalculator
	sessions     SessionStore
	addresses    AddressBook
	coupons      CouponChecker
	tx           txn.Manager
	currency     string

	hooks []Hook
	group singleflight.Group
	now   func() time.Time
}

// NewManager creates a cart Manager.
func NewManager(deps Deps, opts ...Option) *Manager {
	m := &Manager{
		orders:       deps.Orders,
		lineItems:    deps.LineItems,
		purchasables: deps.Purchasables,
		engine:       deps.Engine,
		sessions:     deps.Sessions,
		addresses:    deps.Addresses,
		coupons:      deps.Coupons,
		tx:           deps.Tx,
		currency:     deps.Currency,
		now:          time.Now,
	}
	if m.currency == "" {
		m.currency = "USD"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewToken returns a random 32 character hex token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetOrCreateCart returns the cart of a session token. Unknown, expired or
// empty tokens get a fresh persisted cart; the returned token is the one to
// use from now on. Concurrent calls for one token share a single lookup.
func (m *Manager) GetOrCreateCart(ctx context.Context, token string) (*order.Order, string, error) {
	if token == "" {
		token = NewToken()
	}
	v, err, _ := m.group.Do(token, func() (any, error) {
		return m.getOrCreate(ctx, token)
	})
	if err != nil {
		return nil, "", err
	}
	o := *v.(*order.Order)
	return &o, token, nil
}

func (m *Manager) getOrCreate(ctx context.Context, token string) (*order.Order, error) {
	number, ok, err := m.sessions.Lookup(ctx, token)
	if err != nil {
		return nil, errors.Wrap(err, "lookup session")
	}
	if ok {
		o, err := m.orders.GetByNumber(ctx, number)
		switch {
		case err == nil && !o.IsCompleted():
			return o, nil
		case err != nil && !order.IsNotFound(err):
			return nil, errors.Wrap(err, "get cart")
		}
	}

	now := m.now()
	o := &order.Order{
		ID:               uuid.NewString(),
		Number:           NewToken(),
		ItemTotal:        decimal.Zero,
		BaseDiscount:     decimal.Zero,
		ShippingDiscount: decimal.Zero,
		BaseShippingCost: decimal.Zero,
		TotalPrice:       decimal.Zero,
		TotalPaid:        decimal.Zero,
		Currency:         m.currency,
		PaymentCurrency:  m.currency,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if id, ok := customer.IDFromContext(ctx); ok {
		o.CustomerID = id
		billing, shipping, err := m.addresses.DefaultAddresses(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "default addresses")
		}
		if billing != "" {
			o.BillingAddressID = &billing
		}
		if shipping != "" {
			o.ShippingAddressID = &shipping
		}
	}
	if err := m.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create cart")
	}
	if err := m.sessions.Save(ctx, token, o.Number); err != nil {
		return nil, errors.Wrap(err, "save session")
	}
	zctx.From(ctx).Debug("Created cart", zap.String("order_id", o.ID), zap.Bool("customer", o.CustomerID != ""))
	return o, nil
}

// Items returns the line items of a cart.
func (m *Manager) Items(ctx context.Context, o *order.Order) ([]*order.LineItem, error) {
	return m.lineItems.ListByOrder(ctx, o.ID)
}

// Forget drops the session mapping of a cart number.
func (m *Manager) Forget(ctx context.Context, number string) error {
	if err := m.sessions.ForgetNumber(ctx, number); err != nil {
		return errors.Wrap(err, "forget cart")
	}
	return nil
}

// PurgeStaleCarts deletes incomplete carts not updated within olderThan.
func (m *Manager) PurgeStaleCarts(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.Errorf("invalid purge interval %s", olderThan)
	}
	n, err := m.orders.DeleteStaleCarts(ctx, m.now().Add(-olderThan))
	if err != nil {
		return 0, errors.Wrap(err, "delete stale carts")
	}
	zctx.From(ctx).Info("Purged stale carts", zap.Int64("count", n), zap.Duration("older_than", olderThan))
	return n, nil
}

// completionHook forgets the cart identity once its order completes.
type completionHook struct {
	order.NopHook
	m *Manager
}

// CompletionHook returns the order hook that forgets completed carts.
func (m *Manager) CompletionHook() order.Hook {
	return completionHook{m: m}
}

func (h completionHook) AfterComplete(ctx context.Context, o *order.Order) error {
	return h.m.Forget(ctx, o.Number)
}
