package adjuster

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-commerce/internal/domain/coupon"
	"github.com/xenking/kart-commerce/internal/domain/customer"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/shipping"
	"github.com/xenking/kart-commerce/internal/domain/tax"
)

// --- Mock implementations ---

type mockShippingMatcher struct {
	rule *shipping.Rule
	err  error
}

func (m *mockShippingMatcher) MatchShippingRule(_ context.Context, _ *order.Order, _ []*order.LineItem) (*shipping.Rule, bool, error) {
	return m.rule, m.rule != nil, m.err
}

type mockDiscountMatcher struct {
	rules []*coupon.Rule
	err   error
}

func (m *mockDiscountMatcher) MatchDiscounts(_ context.Context, _ *order.Order, _ []*order.LineItem) ([]*coupon.Rule, error) {
	return m.rules, m.err
}

type mockRates map[string][]*tax.Rate

func (m mockRates) RatesFor(_ context.Context, categoryID string, _ *customer.Address) ([]*tax.Rate, error) {
	return m[categoryID], nil
}

type mockAddresses map[string]*customer.Address

func (m mockAddresses) GetAddress(_ context.Context, id string) (*customer.Address, error) {
	a, ok := m[id]
	if !ok {
		return nil, customer.ErrAddressNotFound
	}
	return a, nil
}

// --- Helpers ---

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func item(id string, price string, qty int) *order.LineItem {
	return &order.LineItem{
		ID:            id,
		PurchasableID: "p-" + id,
		Price:         d(price),
		Qty:           qty,
		Weight:        decimal.Zero,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "expected %s, got %s", want, got)
}

// --- Tests ---

func TestShipping_Adjust(t *testing.T) {
	t.Run("per item weight and percentage", func(t *testing.T) {
		a := NewShipping(&mockShippingMatcher{rule: &shipping.Rule{
			ID:             "r1",
			Name:           "Standard",
			BaseRate:       d("5"),
			PerItemRate:    d("1"),
			WeightRate:     d("0.5"),
			PercentageRate: d("0.1"),
		}})
		li := item("1", "10", 2)
		li.Weight = d("2")
		o := &order.Order{ShippingMethod: "standard"}

		adj, err := a.Adjust(context.Background(), o, []*order.LineItem{li})
		require.NoError(t, err)

		// 1*2 + 0.5*2*2 + 0.1*20
		assertDecimal(t, "6", li.ShippingCost)
		assertDecimal(t, "5", o.BaseShippingCost)
		require.Len(t, adj, 1)
		assert.Equal(t, order.AdjustmentShipping, adj[0].Type)
		assert.Equal(t, "Standard", adj[0].Name)
		assertDecimal(t, "11", adj[0].Amount)
	})

	t.Run("max rate moves cost to order", func(t *testing.T) {
		a := NewShipping(&mockShippingMatcher{rule: &shipping.Rule{PerItemRate: d("10"), MaxRate: d("15")}})
		li := item("1", "10", 3)
		o := &order.Order{}

		adj, err := a.Adjust(context.Background(), o, []*order.LineItem{li})
		require.NoError(t, err)
		assertDecimal(t, "0", li.ShippingCost)
		assertDecimal(t, "15", o.BaseShippingCost)
		assertDecimal(t, "15", adj[0].Amount)
	})

	t.Run("min rate raises base", func(t *testing.T) {
		a := NewShipping(&mockShippingMatcher{rule: &shipping.Rule{PerItemRate: d("1"), MinRate: d("8")}})
		li := item("1", "10", 2)
		o := &order.Order{}

		adj, err := a.Adjust(context.Background(), o, []*order.LineItem{li})
		require.NoError(t, err)
		assertDecimal(t, "2", li.ShippingCost)
		assertDecimal(t, "6", o.BaseShippingCost)
		assertDecimal(t, "8", adj[0].Amount)
	})

	t.Run("no rule is a no-op", func(t *testing.T) {
		a := NewShipping(&mockShippingMatcher{})
		o := &order.Order{}
		adj, err := a.Adjust(context.Background(), o, []*order.LineItem{item("1", "10", 1)})
		require.NoError(t, err)
		assert.Empty(t, adj)
		assert.True(t, o.BaseShippingCost.IsZero())
	})

	t.Run("matcher error", func(t *testing.T) {
		a := NewShipping(&mockShippingMatcher{err: errors.New("boom")})
		_, err := a.Adjust(context.Background(), &order.Order{}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "match shipping rule")
	})
}

func TestDiscount_Adjust(t *testing.T) {
	t.Run("percentage of item total", func(t *testing.T) {
		a := NewDiscount(&mockDiscountMatcher{rules: []*coupon.Rule{{
			ID:           "pct",
			Code:         "SAVE10",
			DiscountType: coupon.DiscountPercentage,
			Value:        d("10"),
			Description:  "10% off",
		}}})
		o := &order.Order{ItemTotal: d("20")}

		adj, err := a.Adjust(context.Background(), o, []*order.LineItem{item("1", "10", 2)})
		require.NoError(t, err)
		assertDecimal(t, "-2", o.BaseDiscount)
		require.Len(t, adj, 1)
		assert.Equal(t, "SAVE10", adj[0].Name)
		assertDecimal(t, "-2", adj[0].Amount)
	})

	t.Run("per item goes to lines", func(t *testing.T) {
		a := NewDiscount(&mockDiscountMatcher{rules: []*coupon.Rule{{
			ID:           "each",
			DiscountType: coupon.DiscountPerItem,
			Value:        d("3"),
			Description:  "$3 off each",
		}}})
		li1 := item("1", "10", 2)
		li2 := item("2", "2", 1)
		o := &order.Order{}

		adj, err := a.Adjust(context.Background(), o, []*order.LineItem{li1, li2})
		require.NoError(t, err)
		assertDecimal(t, "-6", li1.Discount)
		assertDecimal(t, "-2", li2.Discount)
		assert.True(t, o.BaseDiscount.IsZero())
		require.Len(t, adj, 1)
		assertDecimal(t, "-8", adj[0].Amount)
	})

	t.Run("free shipping cancels shipping total", func(t *testing.T) {
		a := NewDiscount(&mockDiscountMatcher{rules: []*coupon.Rule{{
			ID:           "ship",
			FreeShipping: true,
			Description:  "free shipping",
		}}})
		li := item("1", "10", 1)
		li.ShippingCost = d("2")
		o := &order.Order{BaseShippingCost: d("5")}

		adj, err := a.Adjust(context.Background(), o, []*order.LineItem{li})
		require.NoError(t, err)
		assertDecimal(t, "-7", o.BaseDiscount)
		assertDecimal(t, "-7", o.ShippingDiscount)
		require.Len(t, adj, 1)
		assertDecimal(t, "-7", adj[0].Amount)
	})

	t.Run("free shipping applies once across rules", func(t *testing.T) {
		a := NewDiscount(&mockDiscountMatcher{rules: []*coupon.Rule{
			{ID: "auto", FreeShipping: true, Description: "free shipping promotion"},
			{ID: "coupon", Code: "FREESHIP", FreeShipping: true, Description: "free shipping coupon"},
		}})
		li := item("1", "20", 1)
		o := &order.Order{BaseShippingCost: d("5")}

		adj, err := a.Adjust(context.Background(), o, []*order.LineItem{li})
		require.NoError(t, err)
		assertDecimal(t, "-5", o.BaseDiscount)
		assertDecimal(t, "-5", o.ShippingDiscount)
		require.Len(t, adj, 1, "the second rule has nothing left to discount")
		assert.Equal(t, "free shipping promotion", adj[0].Name)

		total := li.Subtotal().Add(o.BaseDiscount).Add(o.BaseShippingCost)
		assertDecimal(t, "20", total)
	})

	t.Run("price and shipping discounts stack", func(t *testing.T) {
		a := NewDiscount(&mockDiscountMatcher{rules: []*coupon.Rule{
			{ID: "pct", DiscountType: coupon.DiscountPercentage, Value: d("10")},
			{ID: "ship", FreeShipping: true},
		}})
		o := &order.Order{BaseShippingCost: d("10")}

		_, err := a.Adjust(context.Background(), o, []*order.LineItem{item("1", "100", 1)})
		require.NoError(t, err)
		assertDecimal(t, "-20", o.BaseDiscount)
		assertDecimal(t, "-10", o.ShippingDiscount)
	})

	t.Run("zero discount emits nothing", func(t *testing.T) {
		a := NewDiscount(&mockDiscountMatcher{rules: []*coupon.Rule{{
			ID:             "scoped",
			DiscountType:   coupon.DiscountFixed,
			Value:          d("5"),
			PurchasableIDs: []string{"other"},
		}}})
		o := &order.Order{}

		adj, err := a.Adjust(context.Background(), o, []*order.LineItem{item("1", "10", 1)})
		require.NoError(t, err)
		assert.Empty(t, adj)
		assert.True(t, o.BaseDiscount.IsZero())
	})
}

func TestTax_Adjust(t *testing.T) {
	addrID := "a1"
	addresses := mockAddresses{"a1": {ID: "a1", CountryCode: "AU"}}

	t.Run("excluded and included rates", func(t *testing.T) {
		a := NewTax(mockRates{"": {
			{ID: "gst", Name: "GST", Rate: d("0.1"), Taxable: tax.TaxablePrice},
			{ID: "vat", Name: "VAT", Rate: d("0.25"), Include: true, Taxable: tax.TaxablePrice},
		}}, addresses)
		li := item("1", "10", 2)
		o := &order.Order{ShippingAddressID: &addrID}

		adj, err := a.Adjust(context.Background(), o, []*order.LineItem{li})
		require.NoError(t, err)
		assertDecimal(t, "2", li.Tax)
		// 20 - 20/1.25
		assertDecimal(t, "4", li.TaxIncluded)
		require.Len(t, adj, 2)
		assert.Equal(t, "GST", adj[0].Name)
		assert.False(t, adj[0].Included)
		assert.True(t, adj[1].Included)
		assertDecimal(t, "4", adj[1].Amount)
	})

	t.Run("basis is post discount", func(t *testing.T) {
		a := NewTax(mockRates{"": {{ID: "gst", Rate: d("0.1"), Taxable: tax.TaxablePrice}}}, addresses)
		li := item("1", "10", 2)
		li.Discount = d("-5")

		_, err := a.Adjust(context.Background(), &order.Order{}, []*order.LineItem{li})
		require.NoError(t, err)
		assertDecimal(t, "1.5", li.Tax)
	})

	t.Run("order total price shares base discount", func(t *testing.T) {
		a := NewTax(mockRates{"": {{ID: "gst", Rate: d("0.1"), Taxable: tax.TaxableOrderTotalPrice}}}, addresses)
		li1 := item("1", "30", 1)
		li2 := item("2", "10", 1)
		o := &order.Order{BaseDiscount: d("-4")}

		adj, err := a.Adjust(context.Background(), o, []*order.LineItem{li1, li2})
		require.NoError(t, err)
		// 30 - 3 and 10 - 1
		assertDecimal(t, "2.7", li1.Tax)
		assertDecimal(t, "0.9", li2.Tax)
		require.Len(t, adj, 1)
		assertDecimal(t, "3.6", adj[0].Amount)
	})

	t.Run("order total price ignores shipping discount", func(t *testing.T) {
		a := NewTax(mockRates{"": {{ID: "gst", Rate: d("0.1"), Taxable: tax.TaxableOrderTotalPrice}}}, addresses)
		li := item("1", "100", 1)
		o := &order.Order{
			BaseShippingCost: d("10"),
			BaseDiscount:     d("-10"),
			ShippingDiscount: d("-10"),
		}

		_, err := a.Adjust(context.Background(), o, []*order.LineItem{li})
		require.NoError(t, err)
		assertDecimal(t, "10", li.Tax)
	})

	t.Run("order total shipping nets shipping discount", func(t *testing.T) {
		a := NewTax(mockRates{"": {{ID: "st", Rate: d("0.1"), Taxable: tax.TaxableOrderTotalShipping}}}, addresses)
		li := item("1", "100", 1)
		o := &order.Order{
			BaseShippingCost: d("10"),
			BaseDiscount:     d("-14"),
			ShippingDiscount: d("-4"),
		}

		_, err := a.Adjust(context.Background(), o, []*order.LineItem{li})
		require.NoError(t, err)
		// (10 - 4) * 0.1
		assertDecimal(t, "0.6", li.Tax)
	})

	t.Run("shipping basis", func(t *testing.T) {
		a := NewTax(mockRates{"": {{ID: "st", Rate: d("0.1"), Taxable: tax.TaxableShipping}}}, addresses)
		li := item("1", "10", 1)
		li.ShippingCost = d("5")

		_, err := a.Adjust(context.Background(), &order.Order{}, []*order.LineItem{li})
		require.NoError(t, err)
		assertDecimal(t, "0.5", li.Tax)
	})

	t.Run("missing address", func(t *testing.T) {
		missing := "nope"
		a := NewTax(mockRates{}, addresses)
		_, err := a.Adjust(context.Background(), &order.Order{BillingAddressID: &missing}, []*order.LineItem{item("1", "1", 1)})
		require.ErrorIs(t, err, customer.ErrAddressNotFound)
	})
}

func TestPipeline_BuiltinsKeepOwnership(t *testing.T) {
	p := order.NewPipeline(
		NewShipping(&mockShippingMatcher{rule: &shipping.Rule{BaseRate: d("5"), PerItemRate: d("1")}}),
		NewDiscount(&mockDiscountMatcher{rules: []*coupon.Rule{
			{ID: "pct", DiscountType: coupon.DiscountPercentage, Value: d("10")},
			{ID: "each", DiscountType: coupon.DiscountPerItem, Value: d("1")},
		}}),
		NewTax(mockRates{"": {{ID: "gst", Rate: d("0.1"), Taxable: tax.TaxablePrice}}}, mockAddresses{}),
	)
	o := &order.Order{ItemTotal: d("20")}
	items := []*order.LineItem{item("1", "10", 2)}

	adj, err := p.Run(context.Background(), o, items)
	require.NoError(t, err)

	types := make([]order.AdjustmentType, len(adj))
	for i, a := range adj {
		types[i] = a.Type
	}
	assert.Equal(t, []order.AdjustmentType{
		order.AdjustmentShipping,
		order.AdjustmentDiscount,
		order.AdjustmentDiscount,
		order.AdjustmentTax,
	}, types)
	assertDecimal(t, "2", items[0].ShippingCost)
	assertDecimal(t, "-2", items[0].Discount)
	assertDecimal(t, "-2", o.BaseDiscount)
	// (20 - 2) * 0.1
	assertDecimal(t, "1.8", items[0].Tax)
}

func TestPipeline_FreeShippingKeepsPriceTax(t *testing.T) {
	p := order.NewPipeline(
		NewShipping(&mockShippingMatcher{rule: &shipping.Rule{BaseRate: d("10")}}),
		NewDiscount(&mockDiscountMatcher{rules: []*coupon.Rule{{ID: "ship", FreeShipping: true}}}),
		NewTax(mockRates{"": {{ID: "gst", Rate: d("0.1"), Taxable: tax.TaxableOrderTotalPrice}}}, mockAddresses{}),
	)
	o := &order.Order{ItemTotal: d("100")}
	items := []*order.LineItem{item("1", "100", 1)}

	_, err := p.Run(context.Background(), o, items)
	require.NoError(t, err)
	assertDecimal(t, "10", o.BaseShippingCost)
	assertDecimal(t, "-10", o.BaseDiscount)
	assertDecimal(t, "10", items[0].Tax)
}
