package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Transaction types summed by UpdateOrderPaidTotal.
const (
	txPurchase  = "purchase"
	txCapture   = "capture"
	txAuthorize = "authorize"
)

// Complete turns a cart into an immutable order: it assigns the default
// status, snapshots the billing and shipping addresses and sets CompletedAt.
// Completing an already completed order is a no-op.
//
// On success o reflects the persisted order.
func (s *Service) Complete(ctx context.Context, o *Order) error {
	if o == nil || o.ID == "" {
		return ErrUnsavedOrder
	}

	var (
		result    *Order
		completed bool
	)
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.orders.LockForUpdate(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		result = cur
		if cur.IsCompleted() {
			return nil
		}
		if err := s.complete(ctx, cur); err != nil {
			return err
		}
		completed = true
		return nil
	}); err != nil {
		return err
	}

	*o = *result
	if completed {
		s.afterComplete(ctx, o)
	}
	return nil
}

// UpdateOrderPaidTotal sets TotalPaid to the sum of successful purchase and
// capture transactions. An incomplete order that is now fully paid, or fully
// authorized, is completed.
func (s *Service) UpdateOrderPaidTotal(ctx context.Context, orderID string) (*Order, error) {
	if orderID == "" {
		return nil, ErrUnsavedOrder
	}

	var (
		result    *Order
		completed bool
	)
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.orders.LockForUpdate(ctx, orderID)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		paid, err := s.payments.SumSuccessful(ctx, orderID, txPurchase, txCapture)
		if err != nil {
			return errors.Wrap(err, "sum paid")
		}
		authorized, err := s.payments.SumSuccessful(ctx, orderID, txAuthorize)
		if err != nil {
			return errors.Wrap(err, "sum authorized")
		}

		now := s.now()
		cur.TotalPaid = paid.Round(2)
		if cur.DatePaid == nil && cur.IsPaid() {
			cur.DatePaid = &now
		}
		cur.UpdatedAt = now
		if err := s.orders.Update(ctx, cur); err != nil {
			return errors.Wrap(err, "update order")
		}
		result = cur

		if cur.IsCompleted() {
			return nil
		}
		if cur.IsPaid() || authorized.GreaterThanOrEqual(cur.TotalPrice) {
			if err := s.complete(ctx, cur); err != nil {
				return errors.Wrap(err, "complete")
			}
			completed = true
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if completed {
		s.afterComplete(ctx, result)
	}
	return result, nil
}

// complete performs the completion on a locked, incomplete order.
func (s *Service) complete(ctx context.Context, o *Order) error {
	for _, h := range s.hooks {
		if err := h.BeforeComplete(ctx, o); err != nil {
			return errors.Wrap(err, "before complete")
		}
	}

	status, err := s.statuses.Default(ctx)
	if err != nil {
		if IsNotFound(err) {
			return fmt.Errorf("%w: %w", ErrNoDefaultStatus, err)
		}
		return errors.Wrap(err, "get default status")
	}
	if status == nil {
		return fmt.Errorf("%w: %w", ErrNoDefaultStatus, &NotFoundError{Entity: "order status", ID: "default"})
	}

	// Billing and shipping often point at the same saved address; one copy
	// serves both.
	copies := make(map[string]string, 2)
	snapshot := func(id *string) (*string, error) {
		if id == nil || *id == "" {
			return id, nil
		}
		if c, ok := copies[*id]; ok {
			return &c, nil
		}
		c, err := s.addresses.SnapshotAddress(ctx, *id)
		if err != nil {
			return nil, errors.Wrapf(err, "snapshot address %s", *id)
		}
		copies[*id] = c
		return &c, nil
	}
	if o.BillingAddressID, err = snapshot(o.BillingAddressID); err != nil {
		return err
	}
	if o.ShippingAddressID, err = snapshot(o.ShippingAddressID); err != nil {
		return err
	}

	now := s.now()
	o.OrderStatusID = status.ID
	o.CompletedAt = &now
	o.UpdatedAt = now
	if err := s.orders.Update(ctx, o); err != nil {
		return errors.Wrap(err, "update order")
	}

	zctx.From(ctx).Info("Order completed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("status", status.Handle),
	)
	return nil
}

func (s *Service) afterComplete(ctx context.Context, o *Order) {
	for _, h := range s.hooks {
		if err := h.AfterComplete(ctx, o); err != nil {
			zctx.From(ctx).Error("After complete hook failed",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
	}
}
