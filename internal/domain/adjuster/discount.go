package adjuster

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-commerce/internal/domain/coupon"
	"github.com/xenking/kart-commerce/internal/domain/order"
)

// DiscountMatcher selects the discount rules of an order.
type DiscountMatcher interface {
	MatchDiscounts(ctx context.Context, o *order.Order, items []*order.LineItem) ([]*coupon.Rule, error)
}

// Discount applies matched discount rules. Per-item rules reduce line
// discounts; every other kind, and free shipping, reduces the order base
// discount. Free shipping is also tracked in the order shipping discount so
// the shipping total is discounted at most once.
type Discount struct {
	rules DiscountMatcher
}

// NewDiscount creates the discount adjuster.
func NewDiscount(rules DiscountMatcher) *Discount {
	return &Discount{rules: rules}
}

var _ order.Adjuster = (*Discount)(nil)

// Type implements order.Adjuster.
func (*Discount) Type() order.AdjustmentType { return order.AdjustmentDiscount }

// Adjust emits one adjustment per applied rule.
func (d *Discount) Adjust(ctx context.Context, o *order.Order, items []*order.LineItem) ([]*order.Adjustment, error) {
	rules, err := d.rules.MatchDiscounts(ctx, o, items)
	if err != nil {
		return nil, errors.Wrap(err, "match discounts")
	}
	if len(rules) == 0 {
		return nil, nil
	}

	byID := make(map[string]*order.LineItem, len(items))
	for _, li := range items {
		byID[li.ID] = li
	}
	discountItems := coupon.Items(items)

	var out []*order.Adjustment
	for _, rule := range rules {
		res, err := coupon.Apply(rule, discountItems)
		if errors.Is(err, coupon.ErrInvalidCoupon) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "apply rule %s", rule.ID)
		}

		amount := decimal.Zero
		if rule.DiscountType == coupon.DiscountPerItem {
			for id, v := range res.Lines {
				li, ok := byID[id]
				if !ok {
					continue
				}
				// A line never goes below zero, whatever rules stacked on it.
				room := li.Subtotal().Add(li.Discount)
				v = decimal.Min(v, floorAtZero(room))
				li.Discount = li.Discount.Sub(v)
				amount = amount.Add(v)
			}
		} else {
			o.BaseDiscount = o.BaseDiscount.Sub(res.Amount)
			amount = res.Amount
		}

		if rule.FreeShipping {
			// Only the shipping not yet discounted by an earlier rule.
			left := floorAtZero(o.BaseShippingCost.Add(lineShipping(items)).Add(o.ShippingDiscount))
			o.BaseDiscount = o.BaseDiscount.Sub(left)
			o.ShippingDiscount = o.ShippingDiscount.Sub(left)
			amount = amount.Add(left)
		}

		if amount.IsZero() {
			continue
		}

		name := rule.Code
		if name == "" {
			name = rule.Description
		}
		out = append(out, &order.Adjustment{
			Type:        order.AdjustmentDiscount,
			Name:        name,
			Description: res.Description,
			Amount:      amount.Neg(),
			Metadata: map[string]string{
				"rule": rule.ID,
				"kind": string(rule.DiscountType),
				"code": rule.Code,
			},
		})
	}
	return out, nil
}
