package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

var (
	_ order.Repository           = (*OrderRepository)(nil)
	_ order.LineItemRepository   = (*LineItemRepository)(nil)
	_ order.AdjustmentRepository = (*AdjustmentRepository)(nil)
	_ order.StatusRepository     = (*StatusRepository)(nil)
)

func cloneOrder(o order.Order) *order.Order {
	if o.BillingAddressID != nil {
		v := *o.BillingAddressID
		o.BillingAddressID = &v
	}
	if o.ShippingAddressID != nil {
		v := *o.ShippingAddressID
		o.ShippingAddressID = &v
	}
	if o.CompletedAt != nil {
		v := *o.CompletedAt
		o.CompletedAt = &v
	}
	if o.DatePaid != nil {
		v := *o.DatePaid
		o.DatePaid = &v
	}
	return &o
}

func cloneLineItem(li order.LineItem) *order.LineItem {
	li.Options = maps.Clone(li.Options)
	return &li
}

// OrderRepository implements order.Repository.
type OrderRepository struct {
	s *Store
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.t.orders[o.ID]; ok {
		return fmt.Errorf("order %q already exists", o.ID)
	}
	for _, existing := range r.s.t.orders {
		if existing.Number == o.Number {
			return fmt.Errorf("order number %q already exists", o.Number)
		}
	}
	r.s.t.orders[o.ID] = *cloneOrder(*o)
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.t.orders[o.ID]; !ok {
		return &order.NotFoundError{Entity: "order", ID: o.ID}
	}
	r.s.t.orders[o.ID] = *cloneOrder(*o)
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	defer r.s.lock(ctx)()
	o, ok := r.s.t.orders[id]
	if !ok {
		return nil, &order.NotFoundError{Entity: "order", ID: id}
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	defer r.s.lock(ctx)()
	for _, o := range r.s.t.orders {
		if o.Number == number {
			return cloneOrder(o), nil
		}
	}
	return nil, &order.NotFoundError{Entity: "order", ID: number}
}

// LockForUpdate returns the order. Serialized units of work make the row
// lock implicit.
func (r *OrderRepository) LockForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.GetByID(ctx, id)
}

func (r *OrderRepository) DeleteStaleCarts(ctx context.Context, before time.Time) (int64, error) {
	defer r.s.lock(ctx)()
	paid := make(map[string]bool)
	for _, t := range r.s.t.transactions {
		paid[t.OrderID] = true
	}
	var n int64
	for id, o := range r.s.t.orders {
		if o.CompletedAt != nil || !o.UpdatedAt.Before(before) || paid[id] {
			continue
		}
		delete(r.s.t.orders, id)
		delete(r.s.t.adjustments, id)
		for liID, li := range r.s.t.lineItems {
			if li.OrderID == id {
				delete(r.s.t.lineItems, liID)
			}
		}
		n++
	}
	return n, nil
}

// LineItemRepository implements order.LineItemRepository.
type LineItemRepository struct {
	s *Store
}

// ListByOrder returns the line items of an order in creation order.
func (r *LineItemRepository) ListByOrder(ctx context.Context, orderID string) ([]*order.LineItem, error) {
	defer r.s.lock(ctx)()
	var items []*order.LineItem
	for _, li := range r.s.t.lineItems {
		if li.OrderID == orderID {
			items = append(items, cloneLineItem(li))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (r *LineItemRepository) GetByID(ctx context.Context, id string) (*order.LineItem, error) {
	defer r.s.lock(ctx)()
	li, ok := r.s.t.lineItems[id]
	if !ok {
		return nil, &order.NotFoundError{Entity: "line item", ID: id}
	}
	return cloneLineItem(li), nil
}

func (r *LineItemRepository) FindByKey(ctx context.Context, orderID, purchasableID, signature string) (*order.LineItem, error) {
	defer r.s.lock(ctx)()
	for _, li := range r.s.t.lineItems {
		if li.OrderID == orderID && li.PurchasableID == purchasableID && li.OptionsSignature == signature {
			return cloneLineItem(li), nil
		}
	}
	return nil, &order.NotFoundError{Entity: "line item", ID: purchasableID}
}

func (r *LineItemRepository) Create(ctx context.Context, li *order.LineItem) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.t.orders[li.OrderID]; !ok {
		return &order.NotFoundError{Entity: "order", ID: li.OrderID}
	}
	if _, ok := r.s.t.lineItems[li.ID]; ok {
		return fmt.Errorf("line item %q already exists", li.ID)
	}
	for _, existing := range r.s.t.lineItems {
		if existing.OrderID == li.OrderID && existing.PurchasableID == li.PurchasableID &&
			existing.OptionsSignature == li.OptionsSignature {
			return fmt.Errorf("line item for purchasable %q with these options already exists", li.PurchasableID)
		}
	}
	r.s.t.lineItems[li.ID] = *cloneLineItem(*li)
	return nil
}

func (r *LineItemRepository) Update(ctx context.Context, li *order.LineItem) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.t.lineItems[li.ID]; !ok {
		return &order.NotFoundError{Entity: "line item", ID: li.ID}
	}
	r.s.t.lineItems[li.ID] = *cloneLineItem(*li)
	return nil
}

func (r *LineItemRepository) Delete(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	delete(r.s.t.lineItems, id)
	return nil
}

func (r *LineItemRepository) DeleteByOrder(ctx context.Context, orderID string) error {
	defer r.s.lock(ctx)()
	for id, li := range r.s.t.lineItems {
		if li.OrderID == orderID {
			delete(r.s.t.lineItems, id)
		}
	}
	return nil
}

// AdjustmentRepository implements order.AdjustmentRepository.
type AdjustmentRepository struct {
	s *Store
}

func (r *AdjustmentRepository) ListByOrder(ctx context.Context, orderID string) ([]*order.Adjustment, error) {
	defer r.s.lock(ctx)()
	rows := r.s.t.adjustments[orderID]
	out := make([]*order.Adjustment, len(rows))
	for i, a := range rows {
		a.Metadata = maps.Clone(a.Metadata)
		out[i] = &a
	}
	return out, nil
}

func (r *AdjustmentRepository) ReplaceForOrder(ctx context.Context, orderID string, adj []*order.Adjustment) error {
	defer r.s.lock(ctx)()
	rows := make([]order.Adjustment, len(adj))
	for i, a := range adj {
		rows[i] = *a
		rows[i].Metadata = maps.Clone(a.Metadata)
	}
	slices.SortStableFunc(rows, func(a, b order.Adjustment) int { return a.Position - b.Position })
	if len(rows) == 0 {
		delete(r.s.t.adjustments, orderID)
		return nil
	}
	r.s.t.adjustments[orderID] = rows
	return nil
}

// StatusRepository implements order.StatusRepository.
type StatusRepository struct {
	s *Store
}

// Default returns the status flagged Default.
func (r *StatusRepository) Default(ctx context.Context) (*order.Status, error) {
	defer r.s.lock(ctx)()
	for _, st := range r.s.t.statuses {
		if st.Default {
			return &st, nil
		}
	}
	return nil, &order.NotFoundError{Entity: "order status", ID: "default"}
}

// Put adds or replaces a status. A new default clears the previous one.
func (r *StatusRepository) Put(ctx context.Context, st order.Status) error {
	defer r.s.lock(ctx)()
	statuses := r.s.t.statuses[:0:0]
	for _, existing := range r.s.t.statuses {
		if existing.ID == st.ID {
			continue
		}
		if st.Default {
			existing.Default = false
		}
		statuses = append(statuses, existing)
	}
	r.s.t.statuses = append(statuses, st)
	return nil
}
