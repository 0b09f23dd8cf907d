package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/payment"
)

const transactionColumns = `id, order_id, COALESCE(parent_id, ''), payment_method_id, hash, type, status,
	amount, currency, reference, code, message, response, created_at, updated_at`

const (
	createTransactionSQL = `INSERT INTO transactions (id, order_id, parent_id, payment_method_id, hash, type, status,
		amount, currency, reference, code, message, response, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	updateTransactionSQL = `UPDATE transactions SET status = $2, reference = $3, code = $4, message = $5,
		response = $6, updated_at = $7
		WHERE id = $1`

	getTransactionSQL      = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	lockTransactionSQL     = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	lockTransactionHashSQL = `SELECT ` + transactionColumns + ` FROM transactions WHERE hash = $1 FOR UPDATE`
	listTransactionsSQL    = `SELECT ` + transactionColumns + ` FROM transactions WHERE order_id = $1 ORDER BY created_at, id`
	listChildrenSQL        = `SELECT ` + transactionColumns + ` FROM transactions WHERE parent_id = $1 ORDER BY created_at, id`

	sumSuccessfulSQL = `SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE order_id = $1 AND status = 'success' AND type = ANY($2)`
)

var (
	_ payment.Repository       = (*TransactionRepository)(nil)
	_ payment.MethodRepository = (*MethodRepository)(nil)
)

// TransactionRepository implements payment.Repository backed by PostgreSQL.
// Only the mutable lifecycle columns are ever updated.
type TransactionRepository struct {
	s *Store
}

// Create inserts a transaction.
func (r *TransactionRepository) Create(ctx context.Context, t *payment.Transaction) error {
	_, err := r.s.conn(ctx).Exec(ctx, createTransactionSQL,
		t.ID, t.OrderID, t.ParentID, t.PaymentMethodID, t.Hash, string(t.Type), string(t.Status),
		t.Amount, t.Currency, t.Reference, t.Code, t.Message, t.Response, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create transaction %q", t.ID)
	}
	return nil
}

// Update persists the status, gateway outcome and timestamp.
func (r *TransactionRepository) Update(ctx context.Context, t *payment.Transaction) error {
	tag, err := r.s.conn(ctx).Exec(ctx, updateTransactionSQL,
		t.ID, string(t.Status), t.Reference, t.Code, t.Message, t.Response, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update transaction %q", t.ID)
	}
	if tag.RowsAffected() == 0 {
		return &order.NotFoundError{Entity: "transaction", ID: t.ID}
	}
	return nil
}

// GetByID returns a transaction by id.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*payment.Transaction, error) {
	return r.getOne(ctx, getTransactionSQL, id)
}

// LockForUpdate returns a transaction and locks its row.
func (r *TransactionRepository) LockForUpdate(ctx context.Context, id string) (*payment.Transaction, error) {
	return r.getOne(ctx, lockTransactionSQL, id)
}

// LockByHash returns the transaction with the hash and locks its row.
func (r *TransactionRepository) LockByHash(ctx context.Context, hash string) (*payment.Transaction, error) {
	return r.getOne(ctx, lockTransactionHashSQL, hash)
}

func (r *TransactionRepository) getOne(ctx context.Context, query, key string) (*payment.Transaction, error) {
	rows, err := r.s.conn(ctx).Query(ctx, query, key)
	if err != nil {
		return nil, errors.Wrapf(err, "get transaction %q", key)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTransaction)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &order.NotFoundError{Entity: "transaction", ID: key}
		}
		return nil, errors.Wrapf(err, "get transaction %q", key)
	}
	return t, nil
}

// ListByOrder returns the transactions of an order oldest first.
func (r *TransactionRepository) ListByOrder(ctx context.Context, orderID string) ([]*payment.Transaction, error) {
	rows, err := r.s.conn(ctx).Query(ctx, listTransactionsSQL, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "list transactions of order %q", orderID)
	}
	return pgx.CollectRows(rows, scanTransaction)
}

// ListChildren returns the captures or refunds of a transaction.
func (r *TransactionRepository) ListChildren(ctx context.Context, parentID string) ([]*payment.Transaction, error) {
	rows, err := r.s.conn(ctx).Query(ctx, listChildrenSQL, parentID)
	if err != nil {
		return nil, errors.Wrapf(err, "list children of transaction %q", parentID)
	}
	return pgx.CollectRows(rows, scanTransaction)
}

// SumSuccessful sums the amounts of successful transactions of the types.
func (r *TransactionRepository) SumSuccessful(ctx context.Context, orderID string, types ...string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := r.s.conn(ctx).QueryRow(ctx, sumSuccessfulSQL, orderID, types).Scan(&sum); err != nil {
		return decimal.Zero, errors.Wrapf(err, "sum transactions of order %q", orderID)
	}
	return sum, nil
}

func scanTransaction(row pgx.CollectableRow) (*payment.Transaction, error) {
	var (
		t              payment.Transaction
		typ, status    string
		responseColumn []byte
	)
	err := row.Scan(
		&t.ID, &t.OrderID, &t.ParentID, &t.PaymentMethodID, &t.Hash, &typ, &status,
		&t.Amount, &t.Currency, &t.Reference, &t.Code, &t.Message, &responseColumn, &t.CreatedAt, &t.UpdatedAt,
	)
	t.Type = payment.Type(typ)
	t.Status = payment.Status(status)
	if len(responseColumn) > 0 {
		t.Response = responseColumn
	}
	return &t, err
}

const (
	getMethodSQL = `SELECT id, name, gateway, payment_type, enabled FROM payment_methods WHERE id = $1`

	upsertMethodSQL = `INSERT INTO payment_methods (id, name, gateway, payment_type, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, gateway = EXCLUDED.gateway,
			payment_type = EXCLUDED.payment_type, enabled = EXCLUDED.enabled`
)

// MethodRepository implements payment.MethodRepository backed by PostgreSQL.
type MethodRepository struct {
	s *Store
}

// GetMethod returns a payment method by id.
func (r *MethodRepository) GetMethod(ctx context.Context, id string) (*payment.Method, error) {
	var (
		m   payment.Method
		typ string
	)
	err := r.s.conn(ctx).QueryRow(ctx, getMethodSQL, id).Scan(&m.ID, &m.Name, &m.Gateway, &typ, &m.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &order.NotFoundError{Entity: "payment method", ID: id}
		}
		return nil, errors.Wrapf(err, "get payment method %q", id)
	}
	m.PaymentType = payment.Type(typ)
	return &m, nil
}

// Put inserts or replaces a payment method.
func (r *MethodRepository) Put(ctx context.Context, m payment.Method) error {
	_, err := r.s.conn(ctx).Exec(ctx, upsertMethodSQL, m.ID, m.Name, m.Gateway, string(m.PaymentType), m.Enabled)
	if err != nil {
		return errors.Wrapf(err, "put payment method %q", m.ID)
	}
	return nil
}
