package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-commerce/internal/domain/coupon"
	"github.com/xenking/kart-commerce/internal/domain/order"
)

// AddToCart adds qty of a purchasable with options. An existing line with
// the same purchasable and options has its quantity increased instead. The
// line is validated by the catalog before anything is persisted.
func (m *Manager) AddToCart(ctx context.Context, o *order.Order, purchasableID string, qty int, options map[string]any, note string) (*order.LineItem, error) {
	if qty <= 0 {
		return nil, order.ErrInvalidQuantity
	}
	sig, err := order.OptionsSignature(options)
	if err != nil {
		return nil, err
	}

	var li *order.LineItem
	err = m.mutate(ctx, o, func(ctx context.Context, cur *order.Order) error {
		snap, ok, err := m.purchasables.Resolve(ctx, purchasableID)
		if err != nil {
			return errors.Wrap(err, "resolve purchasable")
		}
		if !ok {
			return &order.NotFoundError{Entity: "purchasable", ID: purchasableID}
		}

		now := m.now()
		existing, err := m.lineItems.FindByKey(ctx, cur.ID, purchasableID, sig)
		switch {
		case err == nil:
			li = existing
			li.Qty += qty
			if note != "" {
				li.Note = note
			}
			li.UpdatedAt = now
		case order.IsNotFound(err):
			li = &order.LineItem{
				ID:               uuid.NewString(),
				OrderID:          cur.ID,
				OptionsSignature: sig,
				Options:          options,
				Qty:              qty,
				Note:             note,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
		default:
			return errors.Wrap(err, "find line item")
		}
		li.PopulateFromSnapshot(*snap)
		li.Total = order.CalculateTotal(li)

		for _, h := range m.hooks {
			if err := h.BeforeAddToCart(ctx, cur, li); err != nil {
				return errors.Wrap(err, "before add to cart")
			}
		}
		if err := m.validate(ctx, li); err != nil {
			return err
		}

		if existing != nil {
			err = m.lineItems.Update(ctx, li)
		} else {
			err = m.lineItems.Create(ctx, li)
		}
		return errors.Wrap(err, "save line item")
	}, func(ctx context.Context, cur *order.Order) error {
		fresh, err := m.lineItems.GetByID(ctx, li.ID)
		if err != nil {
			return errors.Wrap(err, "reload line item")
		}
		li = fresh
		for _, h := range m.hooks {
			if err := h.AfterAddToCart(ctx, cur, li); err != nil {
				return errors.Wrap(err, "after add to cart")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return li, nil
}

// UpdateQty sets the quantity of a line item. Zero removes it.
func (m *Manager) UpdateQty(ctx context.Context, o *order.Order, lineItemID string, qty int) error {
	if qty < 0 {
		return order.ErrInvalidQuantity
	}
	if qty == 0 {
		return m.RemoveFromCart(ctx, o, lineItemID)
	}
	return m.mutate(ctx, o, func(ctx context.Context, cur *order.Order) error {
		li, err := m.cartItem(ctx, cur, lineItemID)
		if err != nil {
			return err
		}
		li.Qty = qty
		li.UpdatedAt = m.now()
		if err := m.validate(ctx, li); err != nil {
			return err
		}
		return errors.Wrap(m.lineItems.Update(ctx, li), "update line item")
	})
}

// RemoveFromCart deletes a line item.
func (m *Manager) RemoveFromCart(ctx context.Context, o *order.Order, lineItemID string) error {
	return m.mutate(ctx, o, func(ctx context.Context, cur *order.Order) error {
		if _, err := m.cartItem(ctx, cur, lineItemID); err != nil {
			return err
		}
		return errors.Wrap(m.lineItems.Delete(ctx, lineItemID), "delete line item")
	})
}

// ClearCart deletes every line item.
func (m *Manager) ClearCart(ctx context.Context, o *order.Order) error {
	return m.mutate(ctx, o, func(ctx context.Context, cur *order.Order) error {
		return errors.Wrap(m.lineItems.DeleteByOrder(ctx, cur.ID), "delete line items")
	})
}

// ApplyCoupon sets the coupon code of a cart after checking it against the
// current items. An empty code removes the coupon. An unusable code leaves
// the cart unchanged and returns false with a *order.ValidationError.
func (m *Manager) ApplyCoupon(ctx context.Context, o *order.Order, code string) (bool, error) {
	err := m.mutate(ctx, o, func(ctx context.Context, cur *order.Order) error {
		if code != "" {
			items, err := m.lineItems.ListByOrder(ctx, cur.ID)
			if err != nil {
				return errors.Wrap(err, "list line items")
			}
			if _, err := m.coupons.Check(ctx, code, coupon.Items(items)); err != nil {
				if errors.Is(err, coupon.ErrInvalidCoupon) ||
					errors.Is(err, coupon.ErrCouponExpired) ||
					errors.Is(err, coupon.ErrCouponUsageLimitReached) {
					return &order.ValidationError{
						Entity: "order",
						ID:     cur.ID,
						Fields: []order.FieldError{{Field: "couponCode", Message: err.Error()}},
					}
				}
				return errors.Wrap(err, "check coupon")
			}
		}
		cur.CouponCode = code
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetShippingMethod selects the shipping method by handle.
func (m *Manager) SetShippingMethod(ctx context.Context, o *order.Order, handle string) error {
	return m.mutate(ctx, o, func(_ context.Context, cur *order.Order) error {
		cur.ShippingMethod = handle
		return nil
	})
}

// SetAddresses sets the billing and shipping address ids. Nil clears one.
func (m *Manager) SetAddresses(ctx context.Context, o *order.Order, billingID, shippingID *string) error {
	return m.mutate(ctx, o, func(_ context.Context, cur *order.Order) error {
		cur.BillingAddressID = billingID
		cur.ShippingAddressID = shippingID
		return nil
	})
}

// SetEmail sets the customer email of a cart.
func (m *Manager) SetEmail(ctx context.Context, o *order.Order, email string) error {
	return m.mutate(ctx, o, func(_ context.Context, cur *order.Order) error {
		cur.Email = email
		return nil
	})
}

// mutate runs fn on the locked cart, persists it and recalculates, all in
// one unit of work. after runs once recalculation is done. On success o is
// replaced with the recalculated cart.
func (m *Manager) mutate(ctx context.Context, o *order.Order, fn func(ctx context.Context, cur *order.Order) error, after ...func(ctx context.Context, cur *order.Order) error) error {
	if o == nil || o.ID == "" {
		return order.ErrUnsavedOrder
	}

	var result *order.Order
	if err := m.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := m.orders.LockForUpdate(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "lock cart")
		}
		if cur.IsCompleted() {
			return &order.ConsistencyError{Op: "modify cart " + cur.ID, Err: order.ErrOrderCompleted}
		}
		if err := fn(ctx, cur); err != nil {
			return err
		}
		cur.UpdatedAt = m.now()
		if err := m.orders.Update(ctx, cur); err != nil {
			return errors.Wrap(err, "update cart")
		}
		if err := m.engine.Recalculate(ctx, cur); err != nil {
			return errors.Wrap(err, "recalculate")
		}
		for _, fn := range after {
			if err := fn(ctx, cur); err != nil {
				return err
			}
		}
		result = cur
		return nil
	}); err != nil {
		return err
	}

	*o = *result
	return nil
}

func (m *Manager) cartItem(ctx context.Context, cur *order.Order, lineItemID string) (*order.LineItem, error) {
	li, err := m.lineItems.GetByID(ctx, lineItemID)
	if err != nil {
		return nil, errors.Wrap(err, "get line item")
	}
	if li.OrderID != cur.ID {
		return nil, &order.NotFoundError{Entity: "line item", ID: lineItemID}
	}
	return li, nil
}

func (m *Manager) validate(ctx context.Context, li *order.LineItem) error {
	fields, err := m.purchasables.ValidateLineItem(ctx, li)
	if err != nil {
		return errors.Wrap(err, "validate line item")
	}
	fields = append(li.Validate(), fields...)
	if len(fields) > 0 {
		return &order.ValidationError{Entity: "line item", ID: li.ID, Fields: fields}
	}
	return nil
}
