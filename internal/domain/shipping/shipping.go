// Package shipping matches shipping rules of the selected shipping method.
package shipping

import (
	"context"
	"slices"
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-commerce/internal/domain/customer"
	"github.com/xenking/kart-commerce/internal/domain/order"
)

// Rule prices one shipping method for the orders matching its conditions.
// Zero bounds are unbounded. Rates are amounts except PercentageRate, which is
// a fraction of the line subtotal.
type Rule struct {
	ID          string
	MethodID    string
	Name        string
	Description string
	Priority    int
	Enabled     bool

	MinQty    int
	MaxQty    int
	MinTotal  decimal.Decimal
	MaxTotal  decimal.Decimal
	MinWeight decimal.Decimal
	MaxWeight decimal.Decimal
	// CountryCodes and StateCodes restrict the destination. Empty means any.
	CountryCodes []string
	StateCodes   []string

	BaseRate       decimal.Decimal
	PerItemRate    decimal.Decimal
	WeightRate     decimal.Decimal
	PercentageRate decimal.Decimal
	MinRate        decimal.Decimal
	MaxRate        decimal.Decimal
}

// Method is a selectable shipping method.
type Method struct {
	ID      string
	Handle  string
	Name    string
	Enabled bool
}

// Criteria is the order summary rules are matched against.
type Criteria struct {
	Qty         int
	Total       decimal.Decimal
	Weight      decimal.Decimal
	CountryCode string
	StateCode   string
}

// Matches reports whether the rule applies.
func (r *Rule) Matches(c Criteria) bool {
	if !r.Enabled {
		return false
	}
	if r.MinQty > 0 && c.Qty < r.MinQty {
		return false
	}
	if r.MaxQty > 0 && c.Qty > r.MaxQty {
		return false
	}
	if !within(c.Total, r.MinTotal, r.MaxTotal) || !within(c.Weight, r.MinWeight, r.MaxWeight) {
		return false
	}
	if len(r.CountryCodes) > 0 && !slices.Contains(r.CountryCodes, c.CountryCode) {
		return false
	}
	if len(r.StateCodes) > 0 && !slices.Contains(r.StateCodes, c.StateCode) {
		return false
	}
	return true
}

func within(v, lo, hi decimal.Decimal) bool {
	if lo.IsPositive() && v.LessThan(lo) {
		return false
	}
	if hi.IsPositive() && v.GreaterThan(hi) {
		return false
	}
	return true
}

// Repository provides shipping methods and their rules.
type Repository interface {
	// MethodByHandle returns ErrMethodNotFound for unknown handles.
	MethodByHandle(ctx context.Context, handle string) (*Method, error)
	RulesByMethod(ctx context.Context, methodID string) ([]*Rule, error)
}

// ErrMethodNotFound is returned for unknown shipping method handles.
var ErrMethodNotFound = errors.New("shipping method not found")

// AddressGetter resolves the destination address.
type AddressGetter interface {
	GetAddress(ctx context.Context, id string) (*customer.Address, error)
}

// RuleMatcher selects the shipping rule for an order.
type RuleMatcher struct {
	repo      Repository
	addresses AddressGetter
}

// NewRuleMatcher creates a RuleMatcher.
func NewRuleMatcher(repo Repository, addresses AddressGetter) *RuleMatcher {
	return &RuleMatcher{repo: repo, addresses: addresses}
}

// MatchShippingRule returns the first enabled rule, by priority, of the
// order's shipping method that matches the order. ok is false when the order
// has no usable method or no rule matches.
func (m *RuleMatcher) MatchShippingRule(ctx context.Context, o *order.Order, items []*order.LineItem) (*Rule, bool, error) {
	if o.ShippingMethod == "" {
		return nil, false, nil
	}
	method, err := m.repo.MethodByHandle(ctx, o.ShippingMethod)
	if errors.Is(err, ErrMethodNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "get shipping method")
	}
	if !method.Enabled {
		return nil, false, nil
	}

	rules, err := m.repo.RulesByMethod(ctx, method.ID)
	if err != nil {
		return nil, false, errors.Wrap(err, "list shipping rules")
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})

	c := Criteria{Total: decimal.Zero, Weight: decimal.Zero}
	for _, li := range items {
		c.Qty += li.Qty
		c.Total = c.Total.Add(li.Subtotal())
		c.Weight = c.Weight.Add(li.Weight.Mul(decimal.NewFromInt(int64(li.Qty))))
	}
	if id := o.TaxAddressID(); id != "" && m.addresses != nil {
		addr, err := m.addresses.GetAddress(ctx, id)
		if err != nil {
			return nil, false, errors.Wrap(err, "get shipping address")
		}
		c.CountryCode = addr.CountryCode
		c.StateCode = addr.StateCode
	}

	for _, r := range rules {
		if r.Matches(c) {
			return r, true, nil
		}
	}
	return nil, false, nil
}
