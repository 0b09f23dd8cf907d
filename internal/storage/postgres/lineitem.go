package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

const lineItemColumns = `id, order_id, purchasable_id, options_signature, options, snapshot, qty, note,
	price, sale_amount, sale_price, weight, tax_category_id,
	tax, tax_included, discount, shipping_cost, total, created_at, updated_at`

const (
	listLineItemsSQL = `SELECT ` + lineItemColumns + ` FROM line_items WHERE order_id = $1 ORDER BY created_at, id`
	getLineItemSQL   = `SELECT ` + lineItemColumns + ` FROM line_items WHERE id = $1`
	findLineItemSQL  = `SELECT ` + lineItemColumns + ` FROM line_items
		WHERE order_id = $1 AND purchasable_id = $2 AND options_signature = $3`

	createLineItemSQL = `INSERT INTO line_items (` + lineItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	updateLineItemSQL = `UPDATE line_items SET order_id = $2, purchasable_id = $3, options_signature = $4,
		options = $5, snapshot = $6, qty = $7, note = $8,
		price = $9, sale_amount = $10, sale_price = $11, weight = $12, tax_category_id = $13,
		tax = $14, tax_included = $15, discount = $16, shipping_cost = $17, total = $18,
		created_at = $19, updated_at = $20
		WHERE id = $1`

	deleteLineItemSQL         = `DELETE FROM line_items WHERE id = $1`
	deleteLineItemsByOrderSQL = `DELETE FROM line_items WHERE order_id = $1`
)

var _ order.LineItemRepository = (*LineItemRepository)(nil)

// LineItemRepository implements order.LineItemRepository backed by
// PostgreSQL. Options and the purchasable snapshot are stored as JSONB.
type LineItemRepository struct {
	s *Store
}

func lineItemArgs(li *order.LineItem) []any {
	options := li.Options
	if options == nil {
		options = map[string]any{}
	}
	return []any{
		li.ID, li.OrderID, li.PurchasableID, li.OptionsSignature, options, li.Snapshot, li.Qty, li.Note,
		li.Price, li.SaleAmount, li.SalePrice, li.Weight, li.TaxCategoryID,
		li.Tax, li.TaxIncluded, li.Discount, li.ShippingCost, li.Total, li.CreatedAt, li.UpdatedAt,
	}
}

// ListByOrder returns the line items of an order in creation order.
func (r *LineItemRepository) ListByOrder(ctx context.Context, orderID string) ([]*order.LineItem, error) {
	rows, err := r.s.conn(ctx).Query(ctx, listLineItemsSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "list line items of order %q", orderID)
	}
	return pgx.CollectRows(rows, scanLineItem)
}

// GetByID returns a line item by id.
func (r *LineItemRepository) GetByID(ctx context.Context, id string) (*order.LineItem, error) {
	rows, err := r.s.conn(ctx).Query(ctx, getLineItemSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get line item %q", id)
	}
	return collectLineItem(rows, id)
}

// FindByKey returns the line item of the (order, purchasable, signature)
// triple.
func (r *LineItemRepository) FindByKey(ctx context.Context, orderID, purchasableID, signature string) (*order.LineItem, error) {
	rows, err := r.s.conn(ctx).Query(ctx, findLineItemSQL, orderID, purchasableID, signature)
	if err != nil {
		return nil, errors.Wrapf(err, "find line item of purchasable %q", purchasableID)
	}
	return collectLineItem(rows, purchasableID)
}

func collectLineItem(rows pgx.Rows, key string) (*order.LineItem, error) {
	li, err := pgx.CollectExactlyOneRow(rows, scanLineItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &order.NotFoundError{Entity: "line item", ID: key}
		}
		return nil, errors.Wrapf(err, "get line item %q", key)
	}
	return li, nil
}

// Create inserts a line item. It fails when the order is missing or the
// (order, purchasable, signature) triple is taken.
func (r *LineItemRepository) Create(ctx context.Context, li *order.LineItem) error {
	_, err := r.s.conn(ctx).Exec(ctx, createLineItemSQL, lineItemArgs(li)...)
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pgErr) && pgErr.Code == "23503":
		return &order.NotFoundError{Entity: "order", ID: li.OrderID}
	case isUniqueViolation(err):
		return errors.Errorf("line item for purchasable %q with these options already exists", li.PurchasableID)
	default:
		return errors.Wrapf(err, "create line item %q", li.ID)
	}
}

// Update overwrites a line item.
func (r *LineItemRepository) Update(ctx context.Context, li *order.LineItem) error {
	tag, err := r.s.conn(ctx).Exec(ctx, updateLineItemSQL, lineItemArgs(li)...)
	if err != nil {
		return errors.Wrapf(err, "update line item %q", li.ID)
	}
	if tag.RowsAffected() == 0 {
		return &order.NotFoundError{Entity: "line item", ID: li.ID}
	}
	return nil
}

// Delete removes a line item. Missing rows are ignored.
func (r *LineItemRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.s.conn(ctx).Exec(ctx, deleteLineItemSQL, id); err != nil {
		return errors.Wrapf(err, "delete line item %q", id)
	}
	return nil
}

// DeleteByOrder removes every line item of an order.
func (r *LineItemRepository) DeleteByOrder(ctx context.Context, orderID string) error {
	if _, err := r.s.conn(ctx).Exec(ctx, deleteLineItemsByOrderSQL, orderID); err != nil {
		return errors.Wrapf(err, "delete line items of order %q", orderID)
	}
	return nil
}

func scanLineItem(row pgx.CollectableRow) (*order.LineItem, error) {
	var li order.LineItem
	err := row.Scan(
		&li.ID, &li.OrderID, &li.PurchasableID, &li.OptionsSignature, &li.Options, &li.Snapshot, &li.Qty, &li.Note,
		&li.Price, &li.SaleAmount, &li.SalePrice, &li.Weight, &li.TaxCategoryID,
		&li.Tax, &li.TaxIncluded, &li.Discount, &li.ShippingCost, &li.Total, &li.CreatedAt, &li.UpdatedAt,
	)
	return &li, err
}

const (
	listAdjustmentsSQL = `SELECT id, order_id, type, name, description, amount, included, position, metadata
		FROM order_adjustments WHERE order_id = $1 ORDER BY position, id`

	deleteAdjustmentsSQL = `DELETE FROM order_adjustments WHERE order_id = $1`
)

var adjustmentCopyColumns = []string{"id", "order_id", "type", "name", "description", "amount", "included", "position", "metadata"}

var _ order.AdjustmentRepository = (*AdjustmentRepository)(nil)

// AdjustmentRepository implements order.AdjustmentRepository backed by
// PostgreSQL.
type AdjustmentRepository struct {
	s *Store
}

// ListByOrder returns the adjustments of an order by position.
func (r *AdjustmentRepository) ListByOrder(ctx context.Context, orderID string) ([]*order.Adjustment, error) {
	rows, err := r.s.conn(ctx).Query(ctx, listAdjustmentsSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "list adjustments of order %q", orderID)
	}
	return pgx.CollectRows(rows, scanAdjustment)
}

// ReplaceForOrder deletes the adjustments of an order and copies in adj.
// It runs in its own transaction unless ctx already carries one.
func (r *AdjustmentRepository) ReplaceForOrder(ctx context.Context, orderID string, adj []*order.Adjustment) error {
	return r.s.InTx(ctx, func(ctx context.Context) error {
		conn := r.s.conn(ctx)
		if _, err := conn.Exec(ctx, deleteAdjustmentsSQL, orderID); err != nil {
			return errors.Wrapf(err, "delete adjustments of order %q", orderID)
		}
		if len(adj) == 0 {
			return nil
		}
		src := pgx.CopyFromSlice(len(adj), func(i int) ([]any, error) {
			a := adj[i]
			metadata := a.Metadata
			if metadata == nil {
				metadata = map[string]string{}
			}
			return []any{a.ID, orderID, string(a.Type), a.Name, a.Description, a.Amount, a.Included, a.Position, metadata}, nil
		})
		if _, err := conn.CopyFrom(ctx, pgx.Identifier{"order_adjustments"}, adjustmentCopyColumns, src); err != nil {
			return errors.Wrapf(err, "copy adjustments of order %q", orderID)
		}
		return nil
	})
}

func scanAdjustment(row pgx.CollectableRow) (*order.Adjustment, error) {
	var (
		a   order.Adjustment
		typ string
	)
	err := row.Scan(&a.ID, &a.OrderID, &typ, &a.Name, &a.Description, &a.Amount, &a.Included, &a.Position, &a.Metadata)
	a.Type = order.AdjustmentType(typ)
	return &a, err
}
