package coupon

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage-based discount to the subtotal
	// of the matching items.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary discount capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeLowest removes the cost of the cheapest matching unit.
	DiscountFreeLowest DiscountType = "free_lowest"
	// DiscountPerItem takes Value off every matching unit, capped at the
	// line subtotal. It is applied to line items, not to the order.
	DiscountPerItem DiscountType = "per_item"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is not found or
	// the cart does not satisfy the coupon's requirements.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
// Rules without a Code are automatic promotions matched on every cart.
type Rule struct {
	ID           string
	Code         string
	DiscountType DiscountType
	// Value is a percentage (0-100) for DiscountPercentage and an amount
	// otherwise.
	Value        decimal.Decimal
	FreeShipping bool
	Description  string

	// PurchasableIDs and Categories scope the rule. Empty means every item.
	PurchasableIDs []string
	Categories     []string
	MinItems       int
	MinTotal       decimal.Decimal

	ValidFrom  *time.Time
	ValidUntil *time.Time
	MaxUses    int
	Uses       int
	// MaxDiscount caps order level discounts. Zero means no cap.
	MaxDiscount decimal.Decimal

	Priority       int
	StopProcessing bool
	Enabled        bool
}

// AppliesTo reports whether the rule is scoped to the item.
func (r *Rule) AppliesTo(item Item) bool {
	if len(r.PurchasableIDs) > 0 && !slices.Contains(r.PurchasableIDs, item.ProductID) {
		return false
	}
	if len(r.Categories) > 0 && !slices.Contains(r.Categories, item.Category) {
		return false
	}
	return true
}

// Available checks the validity window and usage limit at now.
func (r *Rule) Available(now time.Time) error {
	if !r.Enabled {
		return ErrInvalidCoupon
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrCouponExpired
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return ErrCouponExpired
	}
	if r.MaxUses > 0 && r.Uses >= r.MaxUses {
		return ErrCouponUsageLimitReached
	}
	return nil
}

// Discount holds the computed discount amount and a human-readable description.
type Discount struct {
	Amount      decimal.Decimal
	Description string
	// Lines maps item ids to their share of a per-item discount.
	Lines map[string]decimal.Decimal
}

// Item represents a line item in the cart for discount calculation purposes.
type Item struct {
	ID        string
	ProductID string
	Category  string
	// Price is the unit price after sale.
	Price    decimal.Decimal
	Quantity int
}

// Repository provides lookup and mutation of coupon rules.
type Repository interface {
	// FindByCode returns ErrInvalidCoupon when no rule has the code.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// ListAutomatic returns the enabled rules without a code.
	ListAutomatic(ctx context.Context) ([]*Rule, error)
	IncrementUses(ctx context.Context, code string) error
}
