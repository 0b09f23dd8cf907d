package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a cart while CompletedAt is nil and an immutable order afterwards.
type Order struct {
	ID     string
	Number string

	CouponCode string
	Email      string

	ItemTotal        decimal.Decimal
	BaseDiscount     decimal.Decimal
	// ShippingDiscount is the part of BaseDiscount that discounts shipping,
	// between BaseDiscount and zero.
	ShippingDiscount decimal.Decimal
	BaseShippingCost decimal.Decimal
	TotalPrice       decimal.Decimal
	TotalPaid        decimal.Decimal

	Currency        string
	PaymentCurrency string

	CustomerID        string
	BillingAddressID  *string
	ShippingAddressID *string
	ShippingMethod    string
	PaymentMethodID   string
	OrderStatusID     string

	CompletedAt *time.Time
	DatePaid    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsCompleted reports whether the order left the cart state.
func (o *Order) IsCompleted() bool {
	return o.CompletedAt != nil
}

// IsPaid reports whether the paid total covers the total price.
func (o *Order) IsPaid() bool {
	return o.TotalPaid.GreaterThanOrEqual(o.TotalPrice)
}

// OutstandingBalance returns the unpaid part of the total price, never negative.
func (o *Order) OutstandingBalance() decimal.Decimal {
	return floorAtZero(o.TotalPrice.Sub(o.TotalPaid))
}

// TaxAddressID returns the address used for tax and shipping zones: the
// shipping address, or the billing address when no shipping address is set.
func (o *Order) TaxAddressID() string {
	if o.ShippingAddressID != nil && *o.ShippingAddressID != "" {
		return *o.ShippingAddressID
	}
	if o.BillingAddressID != nil {
		return *o.BillingAddressID
	}
	return ""
}

// Status is an order status; exactly one is flagged Default and is assigned
// on completion.
type Status struct {
	ID      string
	Handle  string
	Name    string
	Default bool
}

// Snapshot is the denormalized copy of a purchasable taken when it is added
// to a cart.
type Snapshot struct {
	PurchasableID string              `json:"purchasableId"`
	SKU           string              `json:"sku"`
	Description   string              `json:"description"`
	Category      string              `json:"category,omitempty"`
	Price         decimal.Decimal     `json:"price"`
	SalePrice     decimal.NullDecimal `json:"salePrice"`
	Weight        decimal.Decimal     `json:"weight"`
	TaxCategoryID string              `json:"taxCategoryId,omitempty"`
	MinQty        int                 `json:"minQty,omitempty"`
	MaxQty        int                 `json:"maxQty,omitempty"`
}

// Repository persists orders. LockForUpdate must be called inside a
// transaction and holds the order row until it ends.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Update(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	LockForUpdate(ctx context.Context, id string) (*Order, error)
	// DeleteStaleCarts removes incomplete orders last updated before the
	// cutoff, with their line items and adjustments. Carts with payment
	// transactions are kept.
	DeleteStaleCarts(ctx context.Context, before time.Time) (int64, error)
}

// LineItemRepository persists line items.
type LineItemRepository interface {
	ListByOrder(ctx context.Context, orderID string) ([]*LineItem, error)
	GetByID(ctx context.Context, id string) (*LineItem, error)
	// FindByKey returns the line item for the unique
	// (order, purchasable, options signature) triple.
	FindByKey(ctx context.Context, orderID, purchasableID, signature string) (*LineItem, error)
	Create(ctx context.Context, li *LineItem) error
	Update(ctx context.Context, li *LineItem) error
	Delete(ctx context.Context, id string) error
	DeleteByOrder(ctx context.Context, orderID string) error
}

// AdjustmentRepository persists the adjustment ledger of an order.
type AdjustmentRepository interface {
	ListByOrder(ctx context.Context, orderID string) ([]*Adjustment, error)
	// ReplaceForOrder deletes every adjustment of the order and inserts adj.
	ReplaceForOrder(ctx context.Context, orderID string, adj []*Adjustment) error
}

// StatusRepository resolves order statuses.
type StatusRepository interface {
	Default(ctx context.Context) (*Status, error)
}

// Purchasables is the catalog view the engine needs.
type Purchasables interface {
	// Resolve returns the current snapshot of a purchasable. ok is false when
	// the purchasable no longer exists or is disabled.
	Resolve(ctx context.Context, purchasableID string) (snap *Snapshot, ok bool, err error)
	// ValidateLineItem checks quantity limits and availability.
	ValidateLineItem(ctx context.Context, li *LineItem) ([]FieldError, error)
}

// PaymentTotals sums successful transactions of the given types.
type PaymentTotals interface {
	SumSuccessful(ctx context.Context, orderID string, types ...string) (decimal.Decimal, error)
}

// AddressSnapshotter copies an address into a new immutable row and returns
// the id of the copy.
type AddressSnapshotter interface {
	SnapshotAddress(ctx context.Context, addressID string) (string, error)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
