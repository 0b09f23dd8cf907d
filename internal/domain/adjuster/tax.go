package adjuster

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-commerce/internal/domain/customer"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/tax"
)

// TaxRateResolver returns the rates of a tax category at an address.
type TaxRateResolver interface {
	RatesFor(ctx context.Context, taxCategoryID string, addr *customer.Address) ([]*tax.Rate, error)
}

// AddressGetter resolves the tax address.
type AddressGetter interface {
	GetAddress(ctx context.Context, id string) (*customer.Address, error)
}

// Tax applies the tax rates of each line's category at the order's shipping
// address, or billing address when none is set.
type Tax struct {
	rates     TaxRateResolver
	addresses AddressGetter
}

// NewTax creates the tax adjuster.
func NewTax(rates TaxRateResolver, addresses AddressGetter) *Tax {
	return &Tax{rates: rates, addresses: addresses}
}

var _ order.Adjuster = (*Tax)(nil)

// Type implements order.Adjuster.
func (*Tax) Type() order.AdjustmentType { return order.AdjustmentTax }

var one = decimal.NewFromInt(1)

// Adjust emits one adjustment per applied rate.
func (t *Tax) Adjust(ctx context.Context, o *order.Order, items []*order.LineItem) ([]*order.Adjustment, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var addr *customer.Address
	if id := o.TaxAddressID(); id != "" {
		a, err := t.addresses.GetAddress(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "get tax address")
		}
		addr = a
	}

	subtotal := decimal.Zero
	for _, li := range items {
		subtotal = subtotal.Add(li.Subtotal())
	}

	type applied struct {
		rate   *tax.Rate
		amount decimal.Decimal
	}
	var (
		ids    []string
		byRate = make(map[string]*applied)
		cache  = make(map[string][]*tax.Rate)
	)
	for _, li := range items {
		rates, ok := cache[li.TaxCategoryID]
		if !ok {
			var err error
			rates, err = t.rates.RatesFor(ctx, li.TaxCategoryID, addr)
			if err != nil {
				return nil, errors.Wrapf(err, "tax rates for category %q", li.TaxCategoryID)
			}
			cache[li.TaxCategoryID] = rates
		}

		share := decimal.Zero
		if subtotal.IsPositive() {
			share = li.Subtotal().Div(subtotal)
		}

		for _, r := range rates {
			basis := taxableBasis(r.Taxable, li, o, share)
			if !basis.IsPositive() {
				continue
			}
			var amount decimal.Decimal
			if r.Include {
				amount = basis.Sub(basis.Div(one.Add(r.Rate)))
				li.TaxIncluded = li.TaxIncluded.Add(amount)
			} else {
				amount = basis.Mul(r.Rate)
				li.Tax = li.Tax.Add(amount)
			}

			a, ok := byRate[r.ID]
			if !ok {
				a = &applied{rate: r, amount: decimal.Zero}
				byRate[r.ID] = a
				ids = append(ids, r.ID)
			}
			a.amount = a.amount.Add(amount)
		}
	}

	out := make([]*order.Adjustment, 0, len(ids))
	for _, id := range ids {
		a := byRate[id]
		out = append(out, &order.Adjustment{
			Type:        order.AdjustmentTax,
			Name:        a.rate.Name,
			Description: a.rate.Rate.Shift(2).String() + "%",
			Amount:      a.amount,
			Included:    a.rate.Include,
			Metadata: map[string]string{
				"rate":    a.rate.ID,
				"taxable": string(a.rate.Taxable),
			},
		})
	}
	return out, nil
}

// taxableBasis returns the amount of a line a rate applies to. Line values
// already include their own discount; the order total variants add the
// line's share of the order level price discount, or of the order level
// shipping net of the shipping discount.
func taxableBasis(taxable tax.Taxable, li *order.LineItem, o *order.Order, share decimal.Decimal) decimal.Decimal {
	price := li.Subtotal().Add(li.Discount)
	switch taxable {
	case tax.TaxableShipping:
		return li.ShippingCost
	case tax.TaxablePriceShipping:
		return price.Add(li.ShippingCost)
	case tax.TaxableOrderTotalPrice:
		priceDiscount := o.BaseDiscount.Sub(o.ShippingDiscount)
		return price.Add(priceDiscount.Mul(share))
	case tax.TaxableOrderTotalShipping:
		return li.ShippingCost.Add(o.BaseShippingCost.Add(o.ShippingDiscount).Mul(share))
	default:
		return price
	}
}
