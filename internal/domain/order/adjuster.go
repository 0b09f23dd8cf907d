package order

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// AdjustmentType categorizes an adjustment and decides which total fields
// its adjuster may write.
type AdjustmentType string

// Built-in adjustment types.
const (
	AdjustmentShipping AdjustmentType = "shipping"
	AdjustmentDiscount AdjustmentType = "discount"
	AdjustmentTax      AdjustmentType = "tax"
)

// Adjustment is one derived, persisted effect of an adjuster on an order.
// The full set is regenerated on every recalculation.
type Adjustment struct {
	ID          string
	OrderID     string
	Type        AdjustmentType
	Name        string
	Description string
	Amount      decimal.Decimal
	// Included marks amounts already contained in prices, such as VAT.
	Included bool
	Position int
	Metadata map[string]string
}

// Validate checks the field constraints of a persisted adjustment.
func (a *Adjustment) Validate() []FieldError {
	var errs []FieldError
	if a.Type == "" {
		errs = append(errs, FieldError{Field: "type", Message: "is required"})
	}
	if a.Name == "" {
		errs = append(errs, FieldError{Field: "name", Message: "is required"})
	}
	return errs
}

// Adjuster computes one category of contributions to an order total.
//
// Adjust may write the order and line item fields owned by its Type and must
// return the adjustments describing what it did. Returning no adjustments is
// a no-op.
type Adjuster interface {
	Type() AdjustmentType
	Adjust(ctx context.Context, o *Order, items []*LineItem) ([]*Adjustment, error)
}

// Pipeline runs the built-in shipping, discount and tax adjusters in that
// order, followed by plugin adjusters in registration order.
type Pipeline struct {
	adjusters []Adjuster
}

// NewPipeline builds a pipeline. Nil built-ins are skipped. It panics when a
// built-in slot holds an adjuster of another type, since that would break
// the fixed ordering.
func NewPipeline(shipping, discount, tax Adjuster, plugins ...Adjuster) *Pipeline {
	p := &Pipeline{}
	for _, slot := range []struct {
		want AdjustmentType
		adj  Adjuster
	}{
		{AdjustmentShipping, shipping},
		{AdjustmentDiscount, discount},
		{AdjustmentTax, tax},
	} {
		if slot.adj == nil {
			continue
		}
		if slot.adj.Type() != slot.want {
			panic(fmt.Sprintf("order: %s adjuster registered in %s slot", slot.adj.Type(), slot.want))
		}
		p.adjusters = append(p.adjusters, slot.adj)
	}
	for _, a := range plugins {
		if a != nil {
			p.adjusters = append(p.adjusters, a)
		}
	}
	return p
}

// Run executes every adjuster and returns the concatenated adjustments.
// After each adjuster it verifies that only fields owned by the adjuster's
// type changed.
func (p *Pipeline) Run(ctx context.Context, o *Order, items []*LineItem) ([]*Adjustment, error) {
	if p == nil {
		return nil, nil
	}
	var all []*Adjustment
	for _, a := range p.adjusters {
		before := captureFields(o, items)
		adj, err := a.Adjust(ctx, o, items)
		if err != nil {
			return nil, errors.Wrapf(err, "%s adjuster", a.Type())
		}
		if changed := before.changedOutside(captureFields(o, items), a.Type()); len(changed) > 0 {
			return nil, &ConsistencyError{
				Op:  fmt.Sprintf("%s adjuster wrote %v", a.Type(), changed),
				Err: ErrFieldOwnership,
			}
		}
		for _, x := range adj {
			if x != nil {
				all = append(all, x)
			}
		}
	}
	return all, nil
}

// fieldSet is the value of every field an adjuster could touch.
type fieldSet struct {
	values map[string]decimal.Decimal
	ints   map[string]int
}

func captureFields(o *Order, items []*LineItem) fieldSet {
	fs := fieldSet{
		values: map[string]decimal.Decimal{
			"order.itemTotal":        o.ItemTotal,
			"order.totalPrice":       o.TotalPrice,
			"order.totalPaid":        o.TotalPaid,
			"order.baseDiscount":     o.BaseDiscount,
			"order.shippingDiscount": o.ShippingDiscount,
			"order.baseShippingCost": o.BaseShippingCost,
		},
		ints: map[string]int{"order.lineItems": len(items)},
	}
	for i, li := range items {
		prefix := fmt.Sprintf("lineItem[%d].", i)
		fs.values[prefix+"price"] = li.Price
		fs.values[prefix+"saleAmount"] = li.SaleAmount
		fs.values[prefix+"tax"] = li.Tax
		fs.values[prefix+"taxIncluded"] = li.TaxIncluded
		fs.values[prefix+"discount"] = li.Discount
		fs.values[prefix+"shippingCost"] = li.ShippingCost
		fs.values[prefix+"total"] = li.Total
		fs.ints[prefix+"qty"] = li.Qty
	}
	return fs
}

var ownedFields = map[AdjustmentType]map[string]bool{
	AdjustmentShipping: {"order.baseShippingCost": true, "shippingCost": true},
	AdjustmentDiscount: {"order.baseDiscount": true, "order.shippingDiscount": true, "discount": true},
	AdjustmentTax:      {"tax": true, "taxIncluded": true},
}

// changedOutside lists fields that differ between fs and after and are not
// owned by t.
func (fs fieldSet) changedOutside(after fieldSet, t AdjustmentType) []string {
	owned := ownedFields[t]
	var changed []string
	for name, v := range fs.ints {
		if after.ints[name] != v {
			changed = append(changed, name)
		}
	}
	if len(changed) > 0 {
		// Items were added or removed; per-item comparison is meaningless.
		return changed
	}
	for name, v := range fs.values {
		if after.values[name].Equal(v) {
			continue
		}
		if owned[name] || owned[fieldSuffix(name)] {
			continue
		}
		changed = append(changed, name)
	}
	sort.Strings(changed)
	return changed
}

func fieldSuffix(name string) string {
	return name[strings.LastIndexByte(name, '.')+1:]
}
