// Package adjuster implements the built-in shipping, discount and tax
// adjusters of the order pipeline.
package adjuster

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/shipping"
)

// ShippingRuleMatcher selects the shipping rule of an order.
type ShippingRuleMatcher interface {
	MatchShippingRule(ctx context.Context, o *order.Order, items []*order.LineItem) (*shipping.Rule, bool, error)
}

// Shipping prices shipping from the rule matched for the order's method.
type Shipping struct {
	rules ShippingRuleMatcher
}

// NewShipping creates the shipping adjuster.
func NewShipping(rules ShippingRuleMatcher) *Shipping {
	return &Shipping{rules: rules}
}

var _ order.Adjuster = (*Shipping)(nil)

// Type implements order.Adjuster.
func (*Shipping) Type() order.AdjustmentType { return order.AdjustmentShipping }

// Adjust sets line shipping costs and the order base shipping cost.
func (s *Shipping) Adjust(ctx context.Context, o *order.Order, items []*order.LineItem) ([]*order.Adjustment, error) {
	rule, ok, err := s.rules.MatchShippingRule(ctx, o, items)
	if err != nil {
		return nil, errors.Wrap(err, "match shipping rule")
	}
	if !ok {
		return nil, nil
	}

	lines := decimal.Zero
	for _, li := range items {
		qty := decimal.NewFromInt(int64(li.Qty))
		cost := rule.PerItemRate.Mul(qty).
			Add(rule.WeightRate.Mul(li.Weight).Mul(qty)).
			Add(rule.PercentageRate.Mul(li.Subtotal()))
		li.ShippingCost = floorAtZero(cost).Round(2)
		lines = lines.Add(li.ShippingCost)
	}

	base := floorAtZero(rule.BaseRate)
	total := base.Add(lines)
	switch {
	case rule.MaxRate.IsPositive() && total.GreaterThan(rule.MaxRate):
		// The cap moves to the order; line costs no longer apply.
		for _, li := range items {
			li.ShippingCost = decimal.Zero
		}
		base = rule.MaxRate
	case rule.MinRate.IsPositive() && total.LessThan(rule.MinRate):
		base = base.Add(rule.MinRate.Sub(total))
	}
	o.BaseShippingCost = base.Round(2)
	total = o.BaseShippingCost.Add(lineShipping(items))

	name := rule.Name
	if name == "" {
		name = o.ShippingMethod
	}
	return []*order.Adjustment{{
		Type:        order.AdjustmentShipping,
		Name:        name,
		Description: rule.Description,
		Amount:      total,
		Metadata: map[string]string{
			"method": o.ShippingMethod,
			"rule":   rule.ID,
		},
	}}, nil
}

func lineShipping(items []*order.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, li := range items {
		sum = sum.Add(li.ShippingCost)
	}
	return sum
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
