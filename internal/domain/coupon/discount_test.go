package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestApply(t *testing.T) {
	tests := []struct {
		name        string
		rule        *Rule
		items       []Item
		wantAmount  decimal.Decimal
		wantDesc    string
		wantErr     error
		wantErrText string
	}{
		{
			name: "percentage 18% off $100 subtotal",
			rule: &Rule{
				Code:         "PCT18",
				DiscountType: DiscountPercentage,
				Value:        d("18"),
				Description:  "18% off",
			},
			items: []Item{
				{ProductID: "p1", Price: d("50"), Quantity: 2},
			},
			wantAmount: d("18"),
			wantDesc:   "18% off",
		},
		{
			name: "percentage 50% off",
			rule: &Rule{
				Code:         "HALF",
				DiscountType: DiscountPercentage,
				Value:        d("50"),
				Description:  "50% off",
			},
			items: []Item{
				{ProductID: "p1", Price: d("80"), Quantity: 1},
			},
			wantAmount: d("40"),
			wantDesc:   "50% off",
		},
		{
			name: "percentage 100% off equals subtotal",
			rule: &Rule{
				Code:         "FREE",
				DiscountType: DiscountPercentage,
				Value:        d("100"),
				Description:  "100% off",
			},
			items: []Item{
				{ProductID: "p1", Price: d("25"), Quantity: 4},
			},
			wantAmount: d("100"),
			wantDesc:   "100% off",
		},
		{
			name: "fixed $9 off $100 subtotal",
			rule: &Rule{
				Code:         "FLAT9",
				DiscountType: DiscountFixed,
				Value:        d("9"),
				Description:  "$9 off",
			},
			items: []Item{
				{ProductID: "p1", Price: d("100"), Quantity: 1},
			},
			wantAmount: d("9"),
			wantDesc:   "$9 off",
		},
		{
			name: "fixed $200 off capped at $100 subtotal",
			rule: &Rule{
				Code:         "BIG",
				DiscountType: DiscountFixed,
				Value:        d("200"),
				Description:  "$200 off",
			},
			items: []Item{
				{ProductID: "p1", Price: d("50"), Quantity: 2},
			},
			wantAmount: d("100"),
			wantDesc:   "$200 off",
		},
		{
			name: "free lowest with 3 items",
			rule: &Rule{
				Code:         "FREELOW",
				DiscountType: DiscountFreeLowest,
				Value:        decimal.Zero,
				Description:  "free lowest item",
			},
			items: []Item{
				{ProductID: "p1", Price: d("5"), Quantity: 1},
				{ProductID: "p2", Price: d("10"), Quantity: 1},
				{ProductID: "p3", Price: d("15"), Quantity: 1},
			},
			wantAmount: d("5"),
			wantDesc:   "free lowest item",
		},
		{
			name: "free lowest with single item",
			rule: &Rule{
				Code:         "FREELOW",
				DiscountType: DiscountFreeLowest,
				Value:        decimal.Zero,
				Description:  "free lowest item",
			},
			items: []Item{
				{ProductID: "p1", Price: d("42.50"), Quantity: 1},
			},
			wantAmount: d("42.50"),
			wantDesc:   "free lowest item",
		},
		{
			name: "min items not met returns ErrInvalidCoupon",
			rule: &Rule{
				Code:         "MIN2",
				DiscountType: DiscountPercentage,
				Value:        d("10"),
				MinItems:     2,
				Description:  "10% off min 2",
			},
			items: []Item{
				{ProductID: "p1", Price: d("50"), Quantity: 1},
			},
			wantErr: ErrInvalidCoupon,
		},
		{
			name: "min items met succeeds",
			rule: &Rule{
				Code:         "MIN2",
				DiscountType: DiscountPercentage,
				Value:        d("10"),
				MinItems:     2,
				Description:  "10% off min 2",
			},
			items: []Item{
				{ProductID: "p1", Price: d("50"), Quantity: 2},
			},
			wantAmount: d("10"),
			wantDesc:   "10% off min 2",
		},
		{
			name: "empty items with zero min items",
			rule: &Rule{
				Code:         "ANY",
				DiscountType: DiscountPercentage,
				Value:        d("10"),
				MinItems:     0,
				Description:  "10% off",
			},
			items:      []Item{},
			wantAmount: d("0"),
			wantDesc:   "10% off",
		},
		{
			name: "empty items with min items required returns ErrInvalidCoupon",
			rule: &Rule{
				Code:         "MIN1",
				DiscountType: DiscountFixed,
				Value:        d("5"),
				MinItems:     1,
				Description:  "$5 off",
			},
			items:   []Item{},
			wantErr: ErrInvalidCoupon,
		},
		{
			name: "decimal precision rounds to 2 dp",
			rule: &Rule{
				Code:         "PCT33",
				DiscountType: DiscountPercentage,
				Value:        d("33.33"),
				Description:  "33.33% off",
			},
			items: []Item{
				{ProductID: "p1", Price: d("10.01"), Quantity: 1},
			},
			// 10.01 * 33.33 / 100 = 3.336333 -> rounds to 3.34
			wantAmount: d("3.34"),
			wantDesc:   "33.33% off",
		},
		{
			name: "percentage with cents precision",
			rule: &Rule{
				Code:         "PCT15",
				DiscountType: DiscountPercentage,
				Value:        d("15"),
				Description:  "15% off",
			},
			items: []Item{
				{ProductID: "p1", Price: d("9.99"), Quantity: 3},
			},
			// subtotal = 29.97, 15% = 4.4955 -> rounds to 4.50
			wantAmount: d("4.50"),
			wantDesc:   "15% off",
		},
		{
			name: "unsupported discount type returns error",
			rule: &Rule{
				Code:         "BAD",
				DiscountType: DiscountType("bogus"),
				Value:        d("10"),
				Description:  "bad type",
			},
			items: []Item{
				{ProductID: "p1", Price: d("10"), Quantity: 1},
			},
			wantErrText: "unsupported discount type",
		},
		{
			name: "free lowest min items not met returns ErrInvalidCoupon",
			rule: &Rule{
				Code:         "FL3",
				DiscountType: DiscountFreeLowest,
				Value:        decimal.Zero,
				MinItems:     3,
				Description:  "free lowest, min 3",
			},
			items: []Item{
				{ProductID: "p1", Price: d("10"), Quantity: 1},
			},
			wantErr: ErrInvalidCoupon,
		},
		{
			name: "percentage scoped to category",
			rule: &Rule{
				DiscountType: DiscountPercentage,
				Value:        d("10"),
				Categories:   []string{"Waffle"},
				Description:  "10% off waffles",
			},
			items: []Item{
				{ProductID: "p1", Category: "Waffle", Price: d("20"), Quantity: 1},
				{ProductID: "p2", Category: "Drink", Price: d("100"), Quantity: 1},
			},
			wantAmount: d("2"),
			wantDesc:   "10% off waffles",
		},
		{
			name: "min total not met returns ErrInvalidCoupon",
			rule: &Rule{
				DiscountType: DiscountFixed,
				Value:        d("5"),
				MinTotal:     d("50"),
				Description:  "$5 off over $50",
			},
			items: []Item{
				{ProductID: "p1", Price: d("49.99"), Quantity: 1},
			},
			wantErr: ErrInvalidCoupon,
		},
		{
			name: "max discount caps percentage",
			rule: &Rule{
				DiscountType: DiscountPercentage,
				Value:        d("50"),
				MaxDiscount:  d("15"),
				Description:  "half off up to $15",
			},
			items: []Item{
				{ProductID: "p1", Price: d("100"), Quantity: 1},
			},
			wantAmount: d("15"),
			wantDesc:   "half off up to $15",
		},
		{
			name: "free shipping only rule yields zero amount",
			rule: &Rule{
				FreeShipping: true,
				Description:  "free shipping",
			},
			items: []Item{
				{ProductID: "p1", Price: d("10"), Quantity: 1},
			},
			wantAmount: d("0"),
			wantDesc:   "free shipping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.rule, tt.items)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			if tt.wantErrText != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrText)
				return
			}

			require.NoError(t, err)
			assert.True(t, tt.wantAmount.Equal(got.Amount),
				"expected amount %s, got %s", tt.wantAmount, got.Amount)
			assert.Equal(t, tt.wantDesc, got.Description)
		})
	}
}

func TestApply_PerItem(t *testing.T) {
	rule := &Rule{
		DiscountType:   DiscountPerItem,
		Value:          d("1.50"),
		PurchasableIDs: []string{"p1", "p2"},
		Description:    "$1.50 off each",
	}
	items := []Item{
		{ID: "li1", ProductID: "p1", Price: d("10"), Quantity: 3},
		{ID: "li2", ProductID: "p2", Price: d("1"), Quantity: 2},
		{ID: "li3", ProductID: "p3", Price: d("10"), Quantity: 1},
	}

	got, err := Apply(rule, items)
	require.NoError(t, err)

	require.Len(t, got.Lines, 2)
	assert.True(t, d("4.50").Equal(got.Lines["li1"]), "got %s", got.Lines["li1"])
	// Capped at the line subtotal.
	assert.True(t, d("2").Equal(got.Lines["li2"]), "got %s", got.Lines["li2"])
	assert.True(t, d("6.50").Equal(got.Amount), "got %s", got.Amount)
}

func TestRule_Available(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		rule    Rule
		wantErr error
	}{
		{name: "enabled", rule: Rule{Enabled: true}},
		{name: "disabled", rule: Rule{}, wantErr: ErrInvalidCoupon},
		{name: "not started", rule: Rule{Enabled: true, ValidFrom: &future}, wantErr: ErrCouponExpired},
		{name: "ended", rule: Rule{Enabled: true, ValidUntil: &past}, wantErr: ErrCouponExpired},
		{name: "in window", rule: Rule{Enabled: true, ValidFrom: &past, ValidUntil: &future}},
		{name: "used up", rule: Rule{Enabled: true, MaxUses: 3, Uses: 3}, wantErr: ErrCouponUsageLimitReached},
		{name: "unlimited", rule: Rule{Enabled: true, Uses: 9999}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Available(now)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}
