package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-commerce/internal/domain/coupon"
)

const couponColumns = `id, code, discount_type, value, free_shipping, description, purchasable_ids, categories,
	min_items, min_total, valid_from, valid_until, max_uses, uses, max_discount, priority, stop_processing, enabled`

const (
	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE code <> '' AND UPPER(code) = UPPER($1)`

	listAutomaticCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE code = '' AND enabled ORDER BY id`

	incrementCouponUsesSQL = `UPDATE coupons SET uses = uses + 1 WHERE code <> '' AND UPPER(code) = UPPER($1)`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value, free_shipping = EXCLUDED.free_shipping, description = EXCLUDED.description,
			purchasable_ids = EXCLUDED.purchasable_ids, categories = EXCLUDED.categories,
			min_items = EXCLUDED.min_items, min_total = EXCLUDED.min_total,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			max_uses = EXCLUDED.max_uses, max_discount = EXCLUDED.max_discount, priority = EXCLUDED.priority,
			stop_processing = EXCLUDED.stop_processing, enabled = EXCLUDED.enabled`

	createCouponStagingSQL = `CREATE TEMP TABLE coupon_import (LIKE coupons INCLUDING DEFAULTS) ON COMMIT DROP`

	mergeCouponStagingSQL = `INSERT INTO coupons SELECT * FROM coupon_import
		ON CONFLICT (UPPER(code)) WHERE code <> '' DO NOTHING`
)

var couponCopyColumns = []string{"id", "code", "discount_type", "value", "description", "min_items", "enabled"}

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
// Codes are case-insensitive.
type CouponRepository struct {
	s *Store
}

// FindByCode looks up a coupon by its code.
// Returns coupon.ErrInvalidCoupon when no coupon has the code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.s.conn(ctx).Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon by code %q", code)
	}
	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, errors.Wrapf(err, "find coupon by code %q", code)
	}
	return rule, nil
}

// ListAutomatic returns the enabled rules without a code ordered by id.
func (r *CouponRepository) ListAutomatic(ctx context.Context) ([]*coupon.Rule, error) {
	rows, err := r.s.conn(ctx).Query(ctx, listAutomaticCouponsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list automatic coupons")
	}
	return pgx.CollectRows(rows, scanCouponRule)
}

// IncrementUses atomically increments the usage counter for the given coupon code.
func (r *CouponRepository) IncrementUses(ctx context.Context, code string) error {
	tag, err := r.s.conn(ctx).Exec(ctx, incrementCouponUsesSQL, code)
	if err != nil {
		return errors.Wrapf(err, "increment uses for coupon %q", code)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrInvalidCoupon
	}
	return nil
}

// Put inserts or replaces a coupon rule. The usage counter is kept.
func (r *CouponRepository) Put(ctx context.Context, c coupon.Rule) error {
	_, err := r.s.conn(ctx).Exec(ctx, upsertCouponSQL,
		c.ID, c.Code, string(c.DiscountType), c.Value, c.FreeShipping, c.Description,
		nonNil(c.PurchasableIDs), nonNil(c.Categories),
		c.MinItems, c.MinTotal, c.ValidFrom, c.ValidUntil, c.MaxUses, c.Uses, c.MaxDiscount,
		c.Priority, c.StopProcessing, c.Enabled,
	)
	if err != nil {
		return errors.Wrapf(err, "put coupon %q", c.ID)
	}
	return nil
}

// Import bulk loads coded rules with COPY. Codes that already exist are left
// untouched. It returns the number of rules inserted.
func (r *CouponRepository) Import(ctx context.Context, rules []coupon.Rule) (int64, error) {
	var inserted int64
	err := r.s.InTx(ctx, func(ctx context.Context) error {
		conn := r.s.conn(ctx)
		if _, err := conn.Exec(ctx, createCouponStagingSQL); err != nil {
			return errors.Wrap(err, "create coupon staging table")
		}
		src := pgx.CopyFromSlice(len(rules), func(i int) ([]any, error) {
			c := rules[i]
			if c.Code == "" {
				return nil, errors.Errorf("coupon %q has no code", c.ID)
			}
			return []any{c.ID, c.Code, string(c.DiscountType), c.Value, c.Description, c.MinItems, c.Enabled}, nil
		})
		if _, err := conn.CopyFrom(ctx, pgx.Identifier{"coupon_import"}, couponCopyColumns, src); err != nil {
			return errors.Wrap(err, "copy coupons")
		}
		tag, err := conn.Exec(ctx, mergeCouponStagingSQL)
		if err != nil {
			return errors.Wrap(err, "merge coupons")
		}
		inserted = tag.RowsAffected()
		return nil
	})
	return inserted, err
}

func scanCouponRule(row pgx.CollectableRow) (*coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
	)
	err := row.Scan(
		&rule.ID, &rule.Code, &discountType, &rule.Value, &rule.FreeShipping, &rule.Description,
		&rule.PurchasableIDs, &rule.Categories,
		&rule.MinItems, &rule.MinTotal, &rule.ValidFrom, &rule.ValidUntil, &rule.MaxUses, &rule.Uses, &rule.MaxDiscount,
		&rule.Priority, &rule.StopProcessing, &rule.Enabled,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	return &rule, err
}
