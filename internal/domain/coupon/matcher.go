package coupon

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

// Matcher selects the discount rules applicable to an order: every available
// automatic promotion plus the rule of the order's coupon code.
type Matcher struct {
	repo Repository
	now  func() time.Time
}

// NewMatcher creates a Matcher backed by the given Repository.
func NewMatcher(repo Repository) *Matcher {
	return &Matcher{repo: repo, now: time.Now}
}

// Check validates a coupon code against the given items without applying
// it. It is used when a customer enters a code.
func (m *Matcher) Check(ctx context.Context, code string, items []Item) (*Rule, error) {
	rule, err := m.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if err := rule.Available(m.now()); err != nil {
		return nil, err
	}
	if _, err := Apply(rule, items); err != nil {
		return nil, err
	}
	return rule, nil
}

// MatchDiscounts returns the applicable rules ordered by priority. Rules
// that do not apply are skipped silently; a rule with StopProcessing ends the
// list.
func (m *Matcher) MatchDiscounts(ctx context.Context, o *order.Order, lineItems []*order.LineItem) ([]*Rule, error) {
	candidates, err := m.repo.ListAutomatic(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list automatic discounts")
	}
	if o.CouponCode != "" {
		rule, err := m.repo.FindByCode(ctx, o.CouponCode)
		switch {
		case errors.Is(err, ErrInvalidCoupon):
			zctx.From(ctx).Debug("Coupon no longer matches",
				zap.String("order_id", o.ID),
				zap.String("coupon", o.CouponCode),
			)
		case err != nil:
			return nil, errors.Wrap(err, "lookup coupon")
		default:
			candidates = append(candidates, rule)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})

	now := m.now()
	items := Items(lineItems)
	var rules []*Rule
	for _, r := range candidates {
		if r.Available(now) != nil {
			continue
		}
		if _, err := Apply(r, items); err != nil {
			if errors.Is(err, ErrInvalidCoupon) {
				continue
			}
			return nil, errors.Wrapf(err, "apply rule %s", r.ID)
		}
		rules = append(rules, r)
		if r.StopProcessing {
			break
		}
	}
	return rules, nil
}

// Items converts line items into discount items priced after sale.
func Items(lineItems []*order.LineItem) []Item {
	items := make([]Item, len(lineItems))
	for i, li := range lineItems {
		items[i] = Item{
			ID:        li.ID,
			ProductID: li.PurchasableID,
			Category:  li.Snapshot.Category,
			Price:     li.Price.Sub(li.SaleAmount),
			Quantity:  li.Qty,
		}
	}
	return items
}

// UsageHook counts a coupon use when an order carrying its code completes.
type UsageHook struct {
	order.NopHook
	repo Repository
}

// NewUsageHook creates a UsageHook.
func NewUsageHook(repo Repository) *UsageHook {
	return &UsageHook{repo: repo}
}

// AfterComplete increments the uses of the order's coupon.
func (h *UsageHook) AfterComplete(ctx context.Context, o *order.Order) error {
	if o.CouponCode == "" {
		return nil
	}
	if err := h.repo.IncrementUses(ctx, o.CouponCode); err != nil {
		return errors.Wrap(err, "increment coupon uses")
	}
	return nil
}

var _ order.Hook = (*UsageHook)(nil)
