package order

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/txn"
)

// Deps holds the collaborators of a Service.
type Deps struct {
	Orders       Repository
	LineItems    LineItemRepository
	Adjustments  AdjustmentRepository
	Statuses     StatusRepository
	Payments     PaymentTotals
	Addresses    AddressSnapshotter
	Purchasables Purchasables
	Tx           txn.Manager
	Pipeline     *Pipeline
}

// Option configures a Service.
type Option func(*Service)

// WithHooks registers lifecycle hooks, invoked in registration order.
func WithHooks(hooks ...Hook) Option {
	return func(s *Service) {
		s.hooks = append(s.hooks, hooks...)
	}
}

// WithAdjusters appends plugin adjusters after the built-in ones.
func WithAdjusters(adjusters ...Adjuster) Option {
	return func(s *Service) {
		p := &Pipeline{}
		if s.pipeline != nil {
			p.adjusters = slices.Clone(s.pipeline.adjusters)
		}
		for _, a := range adjusters {
			if a != nil {
				p.adjusters = append(p.adjusters, a)
			}
		}
		s.pipeline = p
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer("github.com/xenking/kart-commerce/internal/domain/order")
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service is the only writer of order total fields. It recalculates orders,
// tracks their paid total and completes them.
type Service struct {
	orders       Repository
	lineItems    LineItemRepository
	adjustments  AdjustmentRepository
	statuses     StatusRepository
	payments     PaymentTotals
	addresses    AddressSnapshotter
	purchasables Purchasables
	tx           txn.Manager
	pipeline     *Pipeline

	hooks  []Hook
	tracer trace.Tracer
	now    func() time.Time
}

// NewService creates an order Service.
func NewService(deps Deps, opts ...Option) *Service {
	s := &Service{
		orders:       deps.Orders,
		lineItems:    deps.LineItems,
		adjustments:  deps.Adjustments,
		statuses:     deps.Statuses,
		payments:     deps.Payments,
		addresses:    deps.Addresses,
		purchasables: deps.Purchasables,
		tx:           deps.Tx,
		pipeline:     deps.Pipeline,
		tracer:       otel.GetTracerProvider().Tracer("github.com/xenking/kart-commerce/internal/domain/order"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use registers hooks after construction. It must not be called
// concurrently with other methods.
func (s *Service) Use(hooks ...Hook) {
	s.hooks = append(s.hooks, hooks...)
}

// Recalculate re-derives the totals of o from its current line items and
// the adjuster pipeline, inside one unit of work holding the order lock.
//
// The persisted order row is the input: unsaved changes to o are discarded,
// and on success o is overwritten with the recalculated order. On failure
// nothing is persisted and o is left untouched. UpdatedAt is not modified, so
// recalculating an unchanged order rewrites identical rows.
func (s *Service) Recalculate(ctx context.Context, o *Order) error {
	if o == nil || o.ID == "" {
		return ErrUnsavedOrder
	}
	if o.IsCompleted() {
		return completedError("recalculate", o.ID)
	}

	ctx, span := s.tracer.Start(ctx, "order.Recalculate",
		trace.WithAttributes(attribute.String("order.id", o.ID)),
	)
	defer span.End()

	var result *Order
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.orders.LockForUpdate(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}
		if cur.IsCompleted() {
			return completedError("recalculate", cur.ID)
		}
		if err := s.recalculate(ctx, cur); err != nil {
			return err
		}
		result = cur
		return nil
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	*o = *result
	return nil
}

// recalculate runs the algorithm on a locked order. It must be called
// inside a unit of work.
func (s *Service) recalculate(ctx context.Context, o *Order) error {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	for _, h := range s.hooks {
		if err := h.BeforeRecalculate(ctx, o); err != nil {
			return errors.Wrap(err, "before recalculate")
		}
	}

	items, err := s.lineItems.ListByOrder(ctx, o.ID)
	if err != nil {
		return errors.Wrap(err, "list line items")
	}

	// Drop items whose purchasable vanished and refresh the rest from the
	// catalog.
	live := items[:0]
	for _, li := range items {
		snap, ok, err := s.purchasables.Resolve(ctx, li.PurchasableID)
		if err != nil {
			return errors.Wrapf(err, "resolve purchasable %s", li.PurchasableID)
		}
		if !ok || snap == nil {
			if err := s.lineItems.Delete(ctx, li.ID); err != nil {
				return errors.Wrapf(err, "delete orphan line item %s", li.ID)
			}
			lg.Info("Removed orphan line item",
				zap.String("line_item_id", li.ID),
				zap.String("purchasable_id", li.PurchasableID),
			)
			continue
		}
		li.PopulateFromSnapshot(*snap)
		live = append(live, li)
	}

	// Reset rolling fields. The provisional item total is the input of
	// percentage based adjusters.
	o.BaseDiscount = decimal.Zero
	o.ShippingDiscount = decimal.Zero
	o.BaseShippingCost = decimal.Zero
	itemTotal := decimal.Zero
	for _, li := range live {
		li.resetAdjustments()
		li.Total = CalculateTotal(li)
		itemTotal = itemTotal.Add(li.Total)
	}
	o.ItemTotal = itemTotal
	o.TotalPrice = floorAtZero(itemTotal)

	adjustments, err := s.pipeline.Run(ctx, o, live)
	if err != nil {
		return err
	}

	for i, a := range adjustments {
		a.ID = adjustmentID(o.ID, i)
		a.OrderID = o.ID
		a.Position = i
		a.Amount = a.Amount.Round(2)
	}

	itemTotal = decimal.Zero
	for _, li := range live {
		li.Tax = li.Tax.Round(2)
		li.TaxIncluded = li.TaxIncluded.Round(2)
		li.Discount = li.Discount.Round(2)
		li.ShippingCost = li.ShippingCost.Round(2)
		li.Total = CalculateTotal(li)
		itemTotal = itemTotal.Add(li.Total)
	}
	o.ItemTotal = itemTotal.Round(2)
	o.BaseDiscount = o.BaseDiscount.Round(2)
	o.ShippingDiscount = o.ShippingDiscount.Round(2)
	o.BaseShippingCost = o.BaseShippingCost.Round(2)
	o.TotalPrice = floorAtZero(o.ItemTotal.Add(o.BaseDiscount).Add(o.BaseShippingCost)).Round(2)

	if err := validateAll(o, live, adjustments); err != nil {
		return err
	}

	if err := s.adjustments.ReplaceForOrder(ctx, o.ID, adjustments); err != nil {
		return errors.Wrap(err, "replace adjustments")
	}
	for _, li := range live {
		if err := s.lineItems.Update(ctx, li); err != nil {
			return errors.Wrapf(err, "update line item %s", li.ID)
		}
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return errors.Wrap(err, "update order")
	}

	for _, h := range s.hooks {
		if err := h.AfterRecalculate(ctx, o); err != nil {
			return errors.Wrap(err, "after recalculate")
		}
	}

	lg.Debug("Recalculated order",
		zap.Int("line_items", len(live)),
		zap.Int("adjustments", len(adjustments)),
		zap.Stringer("item_total", o.ItemTotal),
		zap.Stringer("total_price", o.TotalPrice),
	)
	return nil
}

func validateAll(o *Order, items []*LineItem, adjustments []*Adjustment) error {
	var errs ValidationErrors
	var orderFields []FieldError
	if o.BaseDiscount.IsPositive() {
		orderFields = append(orderFields, FieldError{Field: "baseDiscount", Message: "must not be positive"})
	}
	if o.ShippingDiscount.IsPositive() || o.ShippingDiscount.LessThan(o.BaseDiscount) {
		orderFields = append(orderFields, FieldError{Field: "shippingDiscount", Message: "must be between baseDiscount and zero"})
	}
	if o.BaseShippingCost.IsNegative() {
		orderFields = append(orderFields, FieldError{Field: "baseShippingCost", Message: "must not be negative"})
	}
	if len(orderFields) > 0 {
		errs = append(errs, &ValidationError{Entity: "order", ID: o.ID, Fields: orderFields})
	}
	for _, li := range items {
		if fields := li.Validate(); len(fields) > 0 {
			errs = append(errs, &ValidationError{Entity: "line item", ID: li.ID, Fields: fields})
		}
	}
	for _, a := range adjustments {
		if fields := a.Validate(); len(fields) > 0 {
			errs = append(errs, &ValidationError{Entity: "adjustment", ID: a.ID, Fields: fields})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

var adjustmentNamespace = uuid.MustParse("6f1c3c1e-8a4e-4d0b-9a55-2b1f0c7e9d41")

// adjustmentID derives a stable adjustment id so recalculating an unchanged
// order produces identical rows.
func adjustmentID(orderID string, position int) string {
	return uuid.NewSHA1(adjustmentNamespace, []byte(orderID+"/"+strconv.Itoa(position))).String()
}

func completedError(op, id string) error {
	return &ConsistencyError{
		Op:  fmt.Sprintf("%s order %s", op, id),
		Err: ErrOrderCompleted,
	}
}
