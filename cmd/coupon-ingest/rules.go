package main

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-commerce/internal/domain/coupon"
)

// template is the discount a known code grants.
type template struct {
	discountType coupon.DiscountType
	value        decimal.Decimal
	minItems     int
	description  string
}

var knownCodes = map[string]template{
	"BIRTHDAY": {discountType: coupon.DiscountFreeLowest, description: "Birthday: free lowest item"},
	"BUYGETON": {discountType: coupon.DiscountFreeLowest, minItems: 2, description: "Lowest item free (buy 2+)"},
	"FIFTYOFF": {discountType: coupon.DiscountPercentage, value: decimal.NewFromInt(50), description: "50% off entire order"},
	"SIXTYOFF": {discountType: coupon.DiscountPercentage, value: decimal.NewFromInt(60), description: "60% off entire order"},
	"FREEZAAA": {discountType: coupon.DiscountPercentage, value: decimal.NewFromInt(100), description: "Everything free!"},
	"GNULINUX": {discountType: coupon.DiscountPercentage, value: decimal.NewFromInt(15), description: "Open source discount: 15% off"},
	"OVER9000": {discountType: coupon.DiscountFixed, value: decimal.NewFromInt(9), description: "$9 off your order"},
	"HAPPYHRS": {discountType: coupon.DiscountPercentage, value: decimal.NewFromInt(18), description: "Happy Hours: 18% off"},
}

var fallback = template{
	discountType: coupon.DiscountPercentage,
	value:        decimal.NewFromInt(10),
	description:  "Valid promo code: 10% off",
}

// rulesFor turns codes into enabled coupon rules. IDs derive from the code so
// re-running an import does not duplicate rules.
func rulesFor(codes []string) []coupon.Rule {
	rules := make([]coupon.Rule, 0, len(codes))
	for _, code := range codes {
		t, ok := knownCodes[code]
		if !ok {
			t = fallback
		}
		rules = append(rules, coupon.Rule{
			ID:           "ingest-" + code,
			Code:         code,
			DiscountType: t.discountType,
			Value:        t.value,
			MinItems:     t.minItems,
			Description:  t.description,
			Enabled:      true,
		})
	}
	return rules
}
