package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Apply calculates the discount for the given rule over the items it is
// scoped to. It returns ErrInvalidCoupon when the matching items do not
// satisfy the rule's minimum item count or minimum total.
func Apply(rule *Rule, items []Item) (Discount, error) {
	items = matching(rule, items)

	totalQty := totalQuantity(items)
	if rule.MinItems > 0 && totalQty < rule.MinItems {
		return Discount{}, ErrInvalidCoupon
	}

	subtotal := calcSubtotal(items)
	if rule.MinTotal.IsPositive() && subtotal.LessThan(rule.MinTotal) {
		return Discount{}, ErrInvalidCoupon
	}

	var d Discount
	switch rule.DiscountType {
	case DiscountPercentage:
		d = applyPercentage(rule, subtotal)
	case DiscountFixed:
		d = applyFixed(rule, subtotal)
	case DiscountFreeLowest:
		d = applyFreeLowest(rule, items)
	case DiscountPerItem:
		return applyPerItem(rule, items), nil
	case "":
		// Free shipping only.
		d = Discount{Amount: zero, Description: rule.Description}
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", rule.DiscountType)
	}

	if rule.MaxDiscount.IsPositive() && d.Amount.GreaterThan(rule.MaxDiscount) {
		d.Amount = rule.MaxDiscount.Round(2)
	}
	return d, nil
}

func applyPercentage(rule *Rule, subtotal decimal.Decimal) Discount {
	amount := subtotal.Mul(rule.Value).Div(hundred)
	amount = floorAtZero(amount).Round(2)

	return Discount{
		Amount:      amount,
		Description: rule.Description,
	}
}

func applyFixed(rule *Rule, subtotal decimal.Decimal) Discount {
	amount := decimal.Min(rule.Value, subtotal)
	amount = floorAtZero(amount).Round(2)

	return Discount{
		Amount:      amount,
		Description: rule.Description,
	}
}

func applyFreeLowest(rule *Rule, items []Item) Discount {
	lowest := findLowestUnitPrice(items)

	return Discount{
		Amount:      floorAtZero(lowest).Round(2),
		Description: rule.Description,
	}
}

func applyPerItem(rule *Rule, items []Item) Discount {
	d := Discount{
		Amount:      zero,
		Description: rule.Description,
		Lines:       make(map[string]decimal.Decimal, len(items)),
	}
	for _, item := range items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		amount := decimal.Min(rule.Value.Mul(qty), item.Price.Mul(qty))
		amount = floorAtZero(amount).Round(2)
		if amount.IsZero() {
			continue
		}
		d.Lines[item.ID] = amount
		d.Amount = d.Amount.Add(amount)
	}
	return d
}

func matching(rule *Rule, items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if rule.AppliesTo(item) {
			out = append(out, item)
		}
	}
	return out
}

// calcSubtotal returns the sum of price * quantity across all items.
func calcSubtotal(items []Item) decimal.Decimal {
	sum := zero
	for _, item := range items {
		line := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		sum = sum.Add(line)
	}
	return sum
}

// totalQuantity returns the sum of quantities across all items.
func totalQuantity(items []Item) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

// findLowestUnitPrice returns the lowest unit price among the given items.
// If items is empty it returns zero.
func findLowestUnitPrice(items []Item) decimal.Decimal {
	if len(items) == 0 {
		return zero
	}
	lowest := items[0].Price
	for _, item := range items[1:] {
		if item.Price.LessThan(lowest) {
			lowest = item.Price
		}
	}
	return lowest
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
