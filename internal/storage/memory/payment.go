package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/payment"
)

var (
	_ payment.Repository       = (*TransactionRepository)(nil)
	_ payment.MethodRepository = (*MethodRepository)(nil)
)

func cloneTransaction(t payment.Transaction) *payment.Transaction {
	t.Response = slices.Clone(t.Response)
	return &t
}

// TransactionRepository implements payment.Repository.
type TransactionRepository struct {
	s *Store
}

func (r *TransactionRepository) Create(ctx context.Context, t *payment.Transaction) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.t.transactions[t.ID]; ok {
		return fmt.Errorf("transaction %q already exists", t.ID)
	}
	r.s.t.transactions[t.ID] = *cloneTransaction(*t)
	return nil
}

func (r *TransactionRepository) Update(ctx context.Context, t *payment.Transaction) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.t.transactions[t.ID]; !ok {
		return &order.NotFoundError{Entity: "transaction", ID: t.ID}
	}
	r.s.t.transactions[t.ID] = *cloneTransaction(*t)
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*payment.Transaction, error) {
	defer r.s.lock(ctx)()
	t, ok := r.s.t.transactions[id]
	if !ok {
		return nil, &order.NotFoundError{Entity: "transaction", ID: id}
	}
	return cloneTransaction(t), nil
}

func (r *TransactionRepository) LockForUpdate(ctx context.Context, id string) (*payment.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r *TransactionRepository) LockByHash(ctx context.Context, hash string) (*payment.Transaction, error) {
	defer r.s.lock(ctx)()
	for _, t := range r.s.t.transactions {
		if t.Hash == hash {
			return cloneTransaction(t), nil
		}
	}
	return nil, &order.NotFoundError{Entity: "transaction", ID: hash}
}

func (r *TransactionRepository) ListByOrder(ctx context.Context, orderID string) ([]*payment.Transaction, error) {
	return r.list(ctx, func(t payment.Transaction) bool { return t.OrderID == orderID })
}

func (r *TransactionRepository) ListChildren(ctx context.Context, parentID string) ([]*payment.Transaction, error) {
	return r.list(ctx, func(t payment.Transaction) bool { return t.ParentID == parentID })
}

func (r *TransactionRepository) list(ctx context.Context, match func(payment.Transaction) bool) ([]*payment.Transaction, error) {
	defer r.s.lock(ctx)()
	var out []*payment.Transaction
	for _, t := range r.s.t.transactions {
		if match(t) {
			out = append(out, cloneTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SumSuccessful sums the successful transactions of the given types.
func (r *TransactionRepository) SumSuccessful(ctx context.Context, orderID string, types ...string) (decimal.Decimal, error) {
	defer r.s.lock(ctx)()
	sum := decimal.Zero
	for _, t := range r.s.t.transactions {
		if t.OrderID == orderID && t.Status == payment.StatusSuccess && slices.Contains(types, string(t.Type)) {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

// MethodRepository implements payment.MethodRepository.
type MethodRepository struct {
	s *Store
}

func (r *MethodRepository) GetMethod(ctx context.Context, id string) (*payment.Method, error) {
	defer r.s.lock(ctx)()
	m, ok := r.s.t.methods[id]
	if !ok {
		return nil, &order.NotFoundError{Entity: "payment method", ID: id}
	}
	return &m, nil
}

// Put adds or replaces a payment method.
func (r *MethodRepository) Put(ctx context.Context, m payment.Method) error {
	defer r.s.lock(ctx)()
	r.s.t.methods[m.ID] = m
	return nil
}
