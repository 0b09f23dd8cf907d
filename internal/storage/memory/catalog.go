package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/xenking/kart-commerce/internal/domain/auth"
	"github.com/xenking/kart-commerce/internal/domain/coupon"
	"github.com/xenking/kart-commerce/internal/domain/customer"
	"github.com/xenking/kart-commerce/internal/domain/product"
	"github.com/xenking/kart-commerce/internal/domain/shipping"
	"github.com/xenking/kart-commerce/internal/domain/tax"
)

var (
	_ product.Repository  = (*ProductRepository)(nil)
	_ customer.Repository = (*AddressRepository)(nil)
	_ coupon.Repository   = (*CouponRepository)(nil)
	_ shipping.Repository = (*ShippingRepository)(nil)
	_ tax.Repository      = (*TaxRepository)(nil)
	_ auth.Repository     = (*APIKeyRepository)(nil)
)

// ProductRepository implements product.Repository.
type ProductRepository struct {
	s *Store
}

func cloneProduct(p product.Product) product.Product {
	if p.Stock != nil {
		v := *p.Stock
		p.Stock = &v
	}
	return p
}

// List returns all products ordered by id.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	defer r.s.lock(ctx)()
	out := make([]product.Product, 0, len(r.s.t.products))
	for _, p := range r.s.t.products {
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.t.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	p = cloneProduct(p)
	return &p, nil
}

func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	defer r.s.lock(ctx)()
	var out []product.Product
	for _, id := range ids {
		if p, ok := r.s.t.products[id]; ok {
			out = append(out, cloneProduct(p))
		}
	}
	return out, nil
}

// Put adds or replaces a product.
func (r *ProductRepository) Put(ctx context.Context, p product.Product) error {
	defer r.s.lock(ctx)()
	r.s.t.products[p.ID] = cloneProduct(p)
	return nil
}

// AddressRepository implements customer.Repository.
type AddressRepository struct {
	s *Store
}

func (r *AddressRepository) GetAddress(ctx context.Context, id string) (*customer.Address, error) {
	defer r.s.lock(ctx)()
	a, ok := r.s.t.addresses[id]
	if !ok {
		return nil, customer.ErrAddressNotFound
	}
	return &a, nil
}

func (r *AddressRepository) CreateAddress(ctx context.Context, a *customer.Address) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.t.addresses[a.ID]; ok {
		return fmt.Errorf("address %q already exists", a.ID)
	}
	r.s.t.addresses[a.ID] = *a
	return nil
}

func (r *AddressRepository) DefaultAddresses(ctx context.Context, customerID string) (string, string, error) {
	defer r.s.lock(ctx)()
	d := r.s.t.defaults[customerID]
	return d[0], d[1], nil
}

// SetDefaults records the default billing and shipping addresses of a
// customer.
func (r *AddressRepository) SetDefaults(ctx context.Context, customerID, billingID, shippingID string) {
	defer r.s.lock(ctx)()
	r.s.t.defaults[customerID] = [2]string{billingID, shippingID}
}

// CouponRepository implements coupon.Repository. Codes are case-insensitive.
type CouponRepository struct {
	s *Store
}

func cloneRule(c coupon.Rule) *coupon.Rule {
	c.PurchasableIDs = slices.Clone(c.PurchasableIDs)
	c.Categories = slices.Clone(c.Categories)
	return &c
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	defer r.s.lock(ctx)()
	if id, ok := r.byCode(code); ok {
		return cloneRule(r.s.t.coupons[id]), nil
	}
	return nil, coupon.ErrInvalidCoupon
}

// ListAutomatic returns the enabled rules without a code ordered by id.
func (r *CouponRepository) ListAutomatic(ctx context.Context) ([]*coupon.Rule, error) {
	defer r.s.lock(ctx)()
	var out []*coupon.Rule
	for _, c := range r.s.t.coupons {
		if c.Code == "" && c.Enabled {
			out = append(out, cloneRule(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *CouponRepository) IncrementUses(ctx context.Context, code string) error {
	defer r.s.lock(ctx)()
	id, ok := r.byCode(code)
	if !ok {
		return coupon.ErrInvalidCoupon
	}
	c := r.s.t.coupons[id]
	c.Uses++
	r.s.t.coupons[id] = c
	return nil
}

func (r *CouponRepository) byCode(code string) (string, bool) {
	if code == "" {
		return "", false
	}
	for id, c := range r.s.t.coupons {
		if strings.EqualFold(c.Code, code) {
			return id, true
		}
	}
	return "", false
}

// Put adds or replaces a coupon rule.
func (r *CouponRepository) Put(ctx context.Context, c coupon.Rule) error {
	defer r.s.lock(ctx)()
	r.s.t.coupons[c.ID] = *cloneRule(c)
	return nil
}

// ShippingRepository implements shipping.Repository.
type ShippingRepository struct {
	s *Store
}

func (r *ShippingRepository) MethodByHandle(ctx context.Context, handle string) (*shipping.Method, error) {
	defer r.s.lock(ctx)()
	for _, m := range r.s.t.shippingMethods {
		if m.Handle == handle {
			return &m, nil
		}
	}
	return nil, shipping.ErrMethodNotFound
}

func (r *ShippingRepository) RulesByMethod(ctx context.Context, methodID string) ([]*shipping.Rule, error) {
	defer r.s.lock(ctx)()
	var out []*shipping.Rule
	for _, rule := range r.s.t.shippingRules {
		if rule.MethodID == methodID {
			rule.CountryCodes = slices.Clone(rule.CountryCodes)
			rule.StateCodes = slices.Clone(rule.StateCodes)
			out = append(out, &rule)
		}
	}
	return out, nil
}

// PutMethod adds or replaces a shipping method.
func (r *ShippingRepository) PutMethod(ctx context.Context, m shipping.Method) error {
	defer r.s.lock(ctx)()
	r.s.t.shippingMethods[m.ID] = m
	return nil
}

// AddRule appends a shipping rule.
func (r *ShippingRepository) AddRule(ctx context.Context, rule shipping.Rule) error {
	defer r.s.lock(ctx)()
	r.s.t.shippingRules = append(r.s.t.shippingRules, rule)
	return nil
}

// TaxRepository implements tax.Repository.
type TaxRepository struct {
	s *Store
}

func (r *TaxRepository) RatesByCategory(ctx context.Context, taxCategoryID string) ([]*tax.Rate, error) {
	defer r.s.lock(ctx)()
	var out []*tax.Rate
	for _, rate := range r.s.t.taxRates {
		if rate.TaxCategoryID == taxCategoryID {
			rate.Countries = slices.Clone(rate.Countries)
			rate.States = slices.Clone(rate.States)
			out = append(out, &rate)
		}
	}
	return out, nil
}

// Add appends a tax rate.
func (r *TaxRepository) Add(ctx context.Context, rate tax.Rate) error {
	defer r.s.lock(ctx)()
	r.s.t.taxRates = append(r.s.t.taxRates, rate)
	return nil
}

// APIKeyRepository implements auth.Repository.
type APIKeyRepository struct {
	s *Store
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	defer r.s.lock(ctx)()
	info, ok := r.s.t.apiKeys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	info.Scopes = slices.Clone(info.Scopes)
	return &info, nil
}

// Put adds or replaces an API key.
func (r *APIKeyRepository) Put(ctx context.Context, info auth.APIKeyInfo) error {
	defer r.s.lock(ctx)()
	for hash, k := range r.s.t.apiKeys {
		if k.ID == info.ID {
			delete(r.s.t.apiKeys, hash)
		}
	}
	r.s.t.apiKeys[info.KeyHash] = info
	return nil
}
