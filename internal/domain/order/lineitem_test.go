package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestOptionsSignature(t *testing.T) {
	empty, err := OptionsSignature(nil)
	require.NoError(t, err)
	assert.Len(t, empty, 32)

	emptyMap, err := OptionsSignature(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, empty, emptyMap)
	// md5("{}")
	assert.Equal(t, "99914b932bd37a50b983c5e7c90ae93b", empty)

	a, err := OptionsSignature(map[string]any{"size": "L", "color": "red"})
	require.NoError(t, err)
	b, err := OptionsSignature(map[string]any{"color": "red", "size": "L"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := OptionsSignature(map[string]any{"color": "blue", "size": "L"})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = OptionsSignature(map[string]any{"bad": make(chan int)})
	require.Error(t, err)
}

func TestCalculateTotal(t *testing.T) {
	tests := []struct {
		name string
		li   LineItem
		want string
	}{
		{
			name: "price times qty",
			li:   LineItem{Price: dec("10.00"), Qty: 2},
			want: "20.00",
		},
		{
			name: "sale amount per unit",
			li:   LineItem{Price: dec("10.00"), SaleAmount: dec("2.50"), Qty: 2},
			want: "15.00",
		},
		{
			name: "tax shipping and discount",
			li: LineItem{
				Price: dec("10.00"), Qty: 3,
				Tax: dec("3.00"), ShippingCost: dec("4.50"), Discount: dec("-5.00"),
			},
			want: "32.50",
		},
		{
			name: "discount sign is ignored",
			li:   LineItem{Price: dec("10.00"), Qty: 1, Discount: dec("2.00")},
			want: "8.00",
		},
		{
			name: "never negative",
			li:   LineItem{Price: dec("10.00"), Qty: 1, Discount: dec("-25.00")},
			want: "0",
		},
		{
			name: "rounds half away from zero",
			li:   LineItem{Price: dec("0.333"), Qty: 3, Tax: dec("0.006")},
			want: "1.01",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateTotal(&tt.li)
			assert.True(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestLineItem_PopulateFromSnapshot(t *testing.T) {
	tests := []struct {
		name       string
		snap       Snapshot
		wantSale   string
		wantSalePr string
	}{
		{
			name:       "no sale",
			snap:       Snapshot{PurchasableID: "p1", Price: dec("10.00")},
			wantSale:   "0",
			wantSalePr: "10.00",
		},
		{
			name:       "sale price",
			snap:       Snapshot{PurchasableID: "p1", Price: dec("10.00"), SalePrice: decimal.NewNullDecimal(dec("7.50"))},
			wantSale:   "2.50",
			wantSalePr: "7.50",
		},
		{
			name:       "sale above price is ignored",
			snap:       Snapshot{PurchasableID: "p1", Price: dec("10.00"), SalePrice: decimal.NewNullDecimal(dec("12.00"))},
			wantSale:   "0",
			wantSalePr: "10.00",
		},
		{
			name:       "negative sale price is capped at price",
			snap:       Snapshot{PurchasableID: "p1", Price: dec("10.00"), SalePrice: decimal.NewNullDecimal(dec("-1.00"))},
			wantSale:   "10.00",
			wantSalePr: "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			li := &LineItem{Qty: 1}
			li.PopulateFromSnapshot(tt.snap)
			assert.Equal(t, "p1", li.PurchasableID)
			assert.True(t, dec(tt.wantSale).Equal(li.SaleAmount), "sale amount %s", li.SaleAmount)
			assert.True(t, dec(tt.wantSalePr).Equal(li.SalePrice), "sale price %s", li.SalePrice)
		})
	}
}

func TestLineItem_Validate(t *testing.T) {
	li := &LineItem{
		Qty:          0,
		Price:        dec("-1"),
		Discount:     dec("1"),
		ShippingCost: dec("-1"),
		Total:        dec("-1"),
	}
	fields := li.Validate()
	var names []string
	for _, f := range fields {
		names = append(names, f.Field)
	}
	assert.Equal(t, []string{"purchasableId", "qty", "price", "discount", "shippingCost", "total"}, names)

	ok := &LineItem{PurchasableID: "p1", Qty: 1, Price: dec("1")}
	assert.Empty(t, ok.Validate())
}
