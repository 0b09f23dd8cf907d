package order

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one purchasable+options+quantity entry of an order. Price,
// sale, tax, discount, shipping and total fields are owned by the
// recalculation engine.
type LineItem struct {
	ID               string
	OrderID          string
	PurchasableID    string
	OptionsSignature string
	Options          map[string]any
	Snapshot         Snapshot
	Qty              int
	Note             string

	Price         decimal.Decimal
	SaleAmount    decimal.Decimal
	SalePrice     decimal.Decimal
	Weight        decimal.Decimal
	TaxCategoryID string

	Tax          decimal.Decimal
	TaxIncluded  decimal.Decimal
	Discount     decimal.Decimal
	ShippingCost decimal.Decimal
	Total        decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OptionsSignature returns the deterministic signature of an options map.
// Map keys are encoded in sorted order, so equal maps always share a
// signature; nil and empty maps are equal.
func OptionsSignature(options map[string]any) (string, error) {
	if options == nil {
		options = map[string]any{}
	}
	data, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("encoding line item options: %w", err)
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// PopulateFromSnapshot copies the pricing attributes of a purchasable into
// the line item.
func (li *LineItem) PopulateFromSnapshot(s Snapshot) {
	li.Snapshot = s
	li.PurchasableID = s.PurchasableID
	li.Price = s.Price
	li.Weight = s.Weight
	li.TaxCategoryID = s.TaxCategoryID

	li.SaleAmount = decimal.Zero
	if s.SalePrice.Valid {
		amount := s.Price.Sub(s.SalePrice.Decimal)
		switch {
		case amount.IsNegative():
			amount = decimal.Zero
		case amount.GreaterThan(s.Price):
			amount = s.Price
		}
		li.SaleAmount = amount
	}
	li.SalePrice = li.Price.Sub(li.SaleAmount)
}

// Subtotal is the line value before adjustments: (price - saleAmount) * qty.
func (li *LineItem) Subtotal() decimal.Decimal {
	return li.Price.Sub(li.SaleAmount).Mul(decimal.NewFromInt(int64(li.Qty)))
}

// resetAdjustments zeroes every field written by adjusters.
func (li *LineItem) resetAdjustments() {
	li.Tax = decimal.Zero
	li.TaxIncluded = decimal.Zero
	li.Discount = decimal.Zero
	li.ShippingCost = decimal.Zero
}

// CalculateTotal returns
//
//	max(0, price*qty - saleAmount*qty + tax + shippingCost - |discount|)
//
// rounded to 2 places. Discount is stored signed (zero or negative).
func CalculateTotal(li *LineItem) decimal.Decimal {
	total := li.Subtotal().
		Add(li.Tax).
		Add(li.ShippingCost).
		Sub(li.Discount.Abs())
	return floorAtZero(total).Round(2)
}

// Validate checks the field constraints persisted line items must satisfy.
func (li *LineItem) Validate() []FieldError {
	var errs []FieldError
	if li.PurchasableID == "" {
		errs = append(errs, FieldError{Field: "purchasableId", Message: "is required"})
	}
	if li.Qty <= 0 {
		errs = append(errs, FieldError{Field: "qty", Message: "must be greater than 0"})
	}
	if li.Price.IsNegative() {
		errs = append(errs, FieldError{Field: "price", Message: "must not be negative"})
	}
	if li.Discount.IsPositive() {
		errs = append(errs, FieldError{Field: "discount", Message: "must not be positive"})
	}
	if li.ShippingCost.IsNegative() {
		errs = append(errs, FieldError{Field: "shippingCost", Message: "must not be negative"})
	}
	if li.Total.IsNegative() {
		errs = append(errs, FieldError{Field: "total", Message: "must not be negative"})
	}
	return errs
}
