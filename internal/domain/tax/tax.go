// Package tax resolves the tax rates that apply to a tax category at an
// address.
package tax

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-commerce/internal/domain/customer"
)

// Taxable selects the basis a rate is applied to.
type Taxable string

// Taxable bases.
const (
	TaxablePrice              Taxable = "price"
	TaxableShipping           Taxable = "shipping"
	TaxablePriceShipping      Taxable = "price_shipping"
	TaxableOrderTotalPrice    Taxable = "order_total_price"
	TaxableOrderTotalShipping Taxable = "order_total_shipping"
)

// Rate is a tax rate of a category within a zone.
type Rate struct {
	ID            string
	Name          string
	TaxCategoryID string
	// Rate is a fraction: 0.2 is 20%.
	Rate decimal.Decimal
	// Include marks rates already contained in prices.
	Include bool
	Taxable Taxable
	// Countries and States form the zone. Empty means everywhere.
	Countries []string
	States    []string
}

// InZone reports whether addr lies in the rate's zone. A nil address is only
// in the global zone.
func (r *Rate) InZone(addr *customer.Address) bool {
	if len(r.Countries) == 0 && len(r.States) == 0 {
		return true
	}
	if addr == nil {
		return false
	}
	if len(r.Countries) > 0 && !slices.Contains(r.Countries, addr.CountryCode) {
		return false
	}
	if len(r.States) > 0 && !slices.Contains(r.States, addr.StateCode) {
		return false
	}
	return true
}

// Repository lists tax rates.
type Repository interface {
	// RatesByCategory returns the rates of a category. The empty category is
	// the default one.
	RatesByCategory(ctx context.Context, taxCategoryID string) ([]*Rate, error)
}

// ZoneResolver filters the rates of a category by zone.
type ZoneResolver struct {
	repo Repository
}

// NewZoneResolver creates a ZoneResolver.
func NewZoneResolver(repo Repository) *ZoneResolver {
	return &ZoneResolver{repo: repo}
}

// RatesFor returns the rates of a tax category applying at addr.
func (z *ZoneResolver) RatesFor(ctx context.Context, taxCategoryID string, addr *customer.Address) ([]*Rate, error) {
	rates, err := z.repo.RatesByCategory(ctx, taxCategoryID)
	if err != nil {
		return nil, errors.Wrap(err, "list tax rates")
	}
	out := rates[:0:0]
	for _, r := range rates {
		if r.InZone(addr) {
			out = append(out, r)
		}
	}
	return out, nil
}
