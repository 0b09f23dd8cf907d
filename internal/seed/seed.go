// Package seed loads the embedded default catalog into a store.
package seed

import (
	"context"
	"encoding/json"
	"io/fs"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-commerce/db"
	"github.com/xenking/kart-commerce/internal/domain/coupon"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/payment"
	"github.com/xenking/kart-commerce/internal/domain/product"
	"github.com/xenking/kart-commerce/internal/domain/shipping"
	"github.com/xenking/kart-commerce/internal/domain/tax"
)

// DefaultFile is the catalog shipped in db/seed.
const DefaultFile = "seed/catalog.json"

// Catalog is the reference data a fresh store needs to take orders.
type Catalog struct {
	Statuses        []order.Status    `json:"statuses"`
	Products        []product.Product `json:"products"`
	PaymentMethods  []payment.Method  `json:"paymentMethods"`
	ShippingMethods []shipping.Method `json:"shippingMethods"`
	ShippingRules   []shipping.Rule   `json:"shippingRules"`
	TaxRates        []tax.Rate        `json:"taxRates"`
	Coupons         []coupon.Rule     `json:"coupons"`
}

// Load parses a catalog from fsys. An empty name loads DefaultFile from the
// embedded seed data.
func Load(fsys fs.FS, name string) (*Catalog, error) {
	if fsys == nil {
		fsys = db.Seed
	}
	if name == "" {
		name = DefaultFile
	}
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "decode %s", name)
	}
	return &c, nil
}

// Target is the write side of a store. Both the Postgres and the in-memory
// repositories satisfy it.
type Target struct {
	Statuses interface {
		Put(ctx context.Context, st order.Status) error
	}
	Products interface {
		Put(ctx context.Context, p product.Product) error
	}
	Methods interface {
		Put(ctx context.Context, m payment.Method) error
	}
	Shipping interface {
		PutMethod(ctx context.Context, m shipping.Method) error
		AddRule(ctx context.Context, rule shipping.Rule) error
	}
	TaxRates interface {
		Add(ctx context.Context, rate tax.Rate) error
	}
	Coupons interface {
		Put(ctx context.Context, c coupon.Rule) error
	}
}

// Stats counts the rows written by Apply.
type Stats struct {
	Statuses, Products, PaymentMethods, ShippingMethods, ShippingRules, TaxRates, Coupons int
}

// Apply writes c into t. Postgres writes are upserts, so applying the same
// catalog twice is safe there.
func Apply(ctx context.Context, t Target, c *Catalog) (Stats, error) {
	var s Stats
	for _, st := range c.Statuses {
		if err := t.Statuses.Put(ctx, st); err != nil {
			return s, errors.Wrapf(err, "status %s", st.Handle)
		}
		s.Statuses++
	}
	for _, p := range c.Products {
		if err := t.Products.Put(ctx, p); err != nil {
			return s, errors.Wrapf(err, "product %s", p.ID)
		}
		s.Products++
	}
	for _, m := range c.PaymentMethods {
		if err := t.Methods.Put(ctx, m); err != nil {
			return s, errors.Wrapf(err, "payment method %s", m.ID)
		}
		s.PaymentMethods++
	}
	for _, m := range c.ShippingMethods {
		if err := t.Shipping.PutMethod(ctx, m); err != nil {
			return s, errors.Wrapf(err, "shipping method %s", m.Handle)
		}
		s.ShippingMethods++
	}
	for _, r := range c.ShippingRules {
		if err := t.Shipping.AddRule(ctx, r); err != nil {
			return s, errors.Wrapf(err, "shipping rule %s", r.ID)
		}
		s.ShippingRules++
	}
	for _, r := range c.TaxRates {
		if err := t.TaxRates.Add(ctx, r); err != nil {
			return s, errors.Wrapf(err, "tax rate %s", r.ID)
		}
		s.TaxRates++
	}
	for _, r := range c.Coupons {
		if err := t.Coupons.Put(ctx, r); err != nil {
			return s, errors.Wrapf(err, "coupon %s", r.ID)
		}
		s.Coupons++
	}
	return s, nil
}
