// Package memory implements every repository on in-process maps. It backs the
// test suites and the "memory" storage mode of the API server.
//
// Transactions are serialized: InTx holds a store-wide lock for the whole unit
// of work and restores a snapshot of all tables when fn fails or panics.
// Repository calls made outside InTx take the same lock per call, so they
// never observe uncommitted state.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/xenking/kart-commerce/internal/domain/auth"
	"github.com/xenking/kart-commerce/internal/domain/coupon"
	"github.com/xenking/kart-commerce/internal/domain/customer"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/payment"
	"github.com/xenking/kart-commerce/internal/domain/product"
	"github.com/xenking/kart-commerce/internal/domain/shipping"
	"github.com/xenking/kart-commerce/internal/domain/tax"
	"github.com/xenking/kart-commerce/internal/domain/txn"
)

var _ txn.Manager = (*Store)(nil)

// tables holds immutable row values. Rows are cloned on the way in and out,
// so copying the maps is enough to snapshot the store.
type tables struct {
	orders       map[string]order.Order
	lineItems    map[string]order.LineItem
	adjustments  map[string][]order.Adjustment
	statuses     []order.Status
	transactions map[string]payment.Transaction
	methods      map[string]payment.Method

	products        map[string]product.Product
	addresses       map[string]customer.Address
	defaults        map[string][2]string
	coupons         map[string]coupon.Rule
	shippingMethods map[string]shipping.Method
	shippingRules   []shipping.Rule
	taxRates        []tax.Rate
	apiKeys         map[string]auth.APIKeyInfo
}

func newTables() tables {
	return tables{
		orders:          make(map[string]order.Order),
		lineItems:       make(map[string]order.LineItem),
		adjustments:     make(map[string][]order.Adjustment),
		transactions:    make(map[string]payment.Transaction),
		methods:         make(map[string]payment.Method),
		products:        make(map[string]product.Product),
		addresses:       make(map[string]customer.Address),
		defaults:        make(map[string][2]string),
		coupons:         make(map[string]coupon.Rule),
		shippingMethods: make(map[string]shipping.Method),
		apiKeys:         make(map[string]auth.APIKeyInfo),
	}
}

func (t tables) clone() tables {
	return tables{
		orders:          maps.Clone(t.orders),
		lineItems:       maps.Clone(t.lineItems),
		adjustments:     maps.Clone(t.adjustments),
		statuses:        slices.Clone(t.statuses),
		transactions:    maps.Clone(t.transactions),
		methods:         maps.Clone(t.methods),
		products:        maps.Clone(t.products),
		addresses:       maps.Clone(t.addresses),
		defaults:        maps.Clone(t.defaults),
		coupons:         maps.Clone(t.coupons),
		shippingMethods: maps.Clone(t.shippingMethods),
		shippingRules:   slices.Clone(t.shippingRules),
		taxRates:        slices.Clone(t.taxRates),
		apiKeys:         maps.Clone(t.apiKeys),
	}
}

// Store is an in-memory database.
type Store struct {
	// txMu serializes units of work and standalone calls.
	txMu sync.Mutex
	mu   sync.Mutex
	t    tables
}

// New returns an empty Store.
func New() *Store {
	return &Store{t: newTables()}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// InTx runs fn as one unit of work. Nested calls join the outer one.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.t.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, s))
}

func (s *Store) restore(t tables) {
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
}

// lock guards one repository call.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

// Orders returns the order repository.
func (s *Store) Orders() *OrderRepository { return &OrderRepository{s: s} }

// LineItems returns the line item repository.
func (s *Store) LineItems() *LineItemRepository { return &LineItemRepository{s: s} }

// Adjustments returns the adjustment ledger.
func (s *Store) Adjustments() *AdjustmentRepository { return &AdjustmentRepository{s: s} }

// Statuses returns the order status repository.
func (s *Store) Statuses() *StatusRepository { return &StatusRepository{s: s} }

// Transactions returns the transaction repository.
func (s *Store) Transactions() *TransactionRepository { return &TransactionRepository{s: s} }

// Methods returns the payment method repository.
func (s *Store) Methods() *MethodRepository { return &MethodRepository{s: s} }

// Products returns the product repository.
func (s *Store) Products() *ProductRepository { return &ProductRepository{s: s} }

// Addresses returns the address repository.
func (s *Store) Addresses() *AddressRepository { return &AddressRepository{s: s} }

// Coupons returns the coupon repository.
func (s *Store) Coupons() *CouponRepository { return &CouponRepository{s: s} }

// Shipping returns the shipping repository.
func (s *Store) Shipping() *ShippingRepository { return &ShippingRepository{s: s} }

// TaxRates returns the tax rate repository.
func (s *Store) TaxRates() *TaxRepository { return &TaxRepository{s: s} }

// APIKeys returns the API key repository.
func (s *Store) APIKeys() *APIKeyRepository { return &APIKeyRepository{s: s} }
