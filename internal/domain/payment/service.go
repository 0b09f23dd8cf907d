package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/txn"
)

// Orders reads orders.
type Orders interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
}

// OrderPayments is the part of the order engine a payment touches.
type OrderPayments interface {
	UpdateOrderPaidTotal(ctx context.Context, orderID string) (*order.Order, error)
	Complete(ctx context.Context, o *order.Order) error
}

// LineItems lists the line items of an order.
type LineItems interface {
	ListByOrder(ctx context.Context, orderID string) ([]*order.LineItem, error)
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Transactions Repository
	Methods      MethodRepository
	Orders       Orders
	LineItems    LineItems
	OrderPayment OrderPayments
	Gateways     *Registry
	Tx           txn.Manager
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds every gateway call. Defaults to 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// HashPlaceholder in a return URL is replaced by the transaction hash.
const HashPlaceholder = "{hash}"

// WithURLs sets the return and cancel URLs handed to redirecting gateways.
// HashPlaceholder in returnURL is replaced by the transaction hash, as in
// "https://shop.example/api/payments/{hash}/complete". A return URL without
// it gets the hash appended.
func WithURLs(returnURL, cancelURL string) Option {
	return func(s *Service) {
		s.returnURL = returnURL
		s.cancelURL = cancelURL
	}
}

// WithRequestID tags gateway requests with the ID fn reads from the call
// context, such as the HTTP request ID.
func WithRequestID(fn func(context.Context) string) Option {
	return func(s *Service) {
		s.requestID = fn
	}
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.meter = mp.Meter("github.com/xenking/kart-commerce/internal/domain/payment")
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service runs payments through gateways and records them as transactions.
type Service struct {
	transactions Repository
	methods      MethodRepository
	orders       Orders
	lineItems    LineItems
	orderPayment OrderPayments
	gateways     *Registry
	tx           txn.Manager

	requestID func(context.Context) string
	timeout   time.Duration
	returnURL string
	cancelURL string
	now       func() time.Time
	meter     metric.Meter
	counter   metric.Int64Counter
}

// NewService creates a payment Service.
func NewService(deps Deps, opts ...Option) (*Service, error) {
	s := &Service{
		transactions: deps.Transactions,
		methods:      deps.Methods,
		orders:       deps.Orders,
		lineItems:    deps.LineItems,
		orderPayment: deps.OrderPayment,
		gateways:     deps.Gateways,
		tx:           deps.Tx,
		timeout:      30 * time.Second,
		now:          time.Now,
		meter:        otel.GetMeterProvider().Meter("github.com/xenking/kart-commerce/internal/domain/payment"),
	}
	for _, opt := range opts {
		opt(s)
	}
	counter, err := s.meter.Int64Counter("payment.transactions",
		metric.WithDescription("Transactions reaching a status, by type and status"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	s.counter = counter
	return s, nil
}

// ProcessRequest starts a payment of an order.
type ProcessRequest struct {
	OrderID         string
	PaymentMethodID string
	Params          map[string]string
}

// Result is the outcome of a payment step.
type Result struct {
	// Transaction is nil for orders completed without payment.
	Transaction *Transaction
	Order       *order.Order
	// RedirectURL is set when the customer must continue off-site.
	RedirectURL string
}

// ProcessPayment charges the order total through the payment method's
// gateway. Orders with a zero total are completed without a transaction.
//
// A gateway failure marks the transaction failed and returns a
// *GatewayError; a decline returns an error wrapping ErrDeclined. In both
// cases the returned Result carries the failed transaction.
func (s *Service) ProcessPayment(ctx context.Context, req ProcessRequest) (*Result, error) {
	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.IsCompleted() {
		return nil, &order.ConsistencyError{Op: "pay order " + o.ID, Err: order.ErrOrderCompleted}
	}
	items, err := s.lineItems.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list line items")
	}
	if len(items) == 0 {
		return nil, &order.ValidationError{Entity: "order", ID: o.ID, Fields: []order.FieldError{
			{Field: "lineItems", Message: "cannot pay an empty order"},
		}}
	}

	if o.TotalPrice.Round(2).IsZero() {
		if err := s.orderPayment.Complete(ctx, o); err != nil {
			return nil, errors.Wrap(err, "complete free order")
		}
		return &Result{Order: o}, nil
	}

	method, err := s.methods.GetMethod(ctx, req.PaymentMethodID)
	if err != nil {
		return nil, errors.Wrap(err, "get payment method")
	}
	if !method.Enabled {
		return nil, ErrMethodUnavailable
	}
	gw, err := s.gateways.Get(method.Gateway)
	if err != nil {
		return nil, err
	}

	typ := method.PaymentType
	if typ != TypeAuthorize {
		typ = TypePurchase
	}
	currency := o.PaymentCurrency
	if currency == "" {
		currency = o.Currency
	}
	now := s.now()
	t := &Transaction{
		ID:              uuid.NewString(),
		OrderID:         o.ID,
		PaymentMethodID: method.ID,
		Hash:            newHash(),
		Type:            typ,
		Status:          StatusPending,
		Amount:          o.TotalPrice.Round(2),
		Currency:        currency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.transactions.Create(ctx, t); err != nil {
		return nil, errors.Wrap(err, "create transaction")
	}
	s.record(ctx, t)

	r := s.request(ctx, t, o)
	r.Params = req.Params
	call := gw.Purchase
	if typ == TypeAuthorize {
		call = gw.Authorize
	}
	resp, callErr := s.call(ctx, r, call)
	payErr := s.settle(ctx, method.Gateway, t, resp, callErr)
	if err := s.transactions.Update(ctx, t); err != nil {
		return nil, errors.Wrap(err, "update transaction")
	}

	res := &Result{Transaction: t, Order: o}
	if payErr != nil {
		return res, payErr
	}
	if t.Status == StatusRedirect {
		res.RedirectURL = resp.RedirectURL
		return res, nil
	}
	if res.Order, err = s.orderPayment.UpdateOrderPaidTotal(ctx, o.ID); err != nil {
		return res, errors.Wrap(err, "update paid total")
	}
	return res, nil
}

// CompletePayment resolves a pending or redirected transaction after the
// customer returns from the gateway. Terminal transactions are returned as
// they are, so repeated callbacks are harmless.
func (s *Service) CompletePayment(ctx context.Context, hash string) (*Result, error) {
	var (
		t      *Transaction
		payErr error
		fresh  bool
	)
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.transactions.LockByHash(ctx, hash)
		if err != nil {
			return errors.Wrap(err, "lock transaction")
		}
		if t.Status.IsTerminal() {
			return nil
		}

		method, err := s.methods.GetMethod(ctx, t.PaymentMethodID)
		if err != nil {
			return errors.Wrap(err, "get payment method")
		}
		gw, err := s.gateways.Get(method.Gateway)
		if err != nil {
			return err
		}
		o, err := s.orders.GetByID(ctx, t.OrderID)
		if err != nil {
			return errors.Wrap(err, "get order")
		}

		call := gw.CompletePurchase
		if t.Type == TypeAuthorize {
			call = gw.CompleteAuthorize
		}
		r := s.request(ctx, t, o)
		r.Reference = t.Reference
		resp, callErr := s.call(ctx, r, call)
		payErr = s.settle(ctx, method.Gateway, t, resp, callErr)
		fresh = t.Status == StatusSuccess
		if err := s.transactions.Update(ctx, t); err != nil {
			return errors.Wrap(err, "update transaction")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	res := &Result{Transaction: t}
	if payErr != nil {
		return res, payErr
	}
	if fresh {
		o, err := s.orderPayment.UpdateOrderPaidTotal(ctx, t.OrderID)
		if err != nil {
			return res, errors.Wrap(err, "update paid total")
		}
		res.Order = o
	}
	return res, nil
}

// Capture settles a successful authorization with a child capture
// transaction for the same amount.
func (s *Service) Capture(ctx context.Context, transactionID string) (*Result, error) {
	return s.child(ctx, transactionID, TypeCapture)
}

// Refund refunds a successful purchase or capture with a child refund
// transaction for the same amount. Refunds do not change the paid total.
func (s *Service) Refund(ctx context.Context, transactionID string) (*Result, error) {
	return s.child(ctx, transactionID, TypeRefund)
}

func (s *Service) child(ctx context.Context, parentID string, typ Type) (*Result, error) {
	var (
		parent, t *Transaction
		method    *Method
	)
	// The pending child is committed before the gateway call, so a
	// concurrent attempt sees it and is rejected.
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		parent, err = s.transactions.LockForUpdate(ctx, parentID)
		if err != nil {
			return errors.Wrap(err, "lock transaction")
		}
		if err := checkParent(parent, typ); err != nil {
			return err
		}
		children, err := s.transactions.ListChildren(ctx, parent.ID)
		if err != nil {
			return errors.Wrap(err, "list child transactions")
		}
		for _, c := range children {
			if c.Type == typ && c.Status != StatusFailed {
				return parentError(parent, typ)
			}
		}
		if method, err = s.methods.GetMethod(ctx, parent.PaymentMethodID); err != nil {
			return errors.Wrap(err, "get payment method")
		}

		now := s.now()
		t = &Transaction{
			ID:              uuid.NewString(),
			OrderID:         parent.OrderID,
			ParentID:        parent.ID,
			PaymentMethodID: parent.PaymentMethodID,
			Hash:            newHash(),
			Type:            typ,
			Status:          StatusPending,
			Amount:          parent.Amount,
			Currency:        parent.Currency,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.transactions.Create(ctx, t); err != nil {
			return errors.Wrap(err, "create transaction")
		}
		return nil
	}); err != nil {
		return nil, err
	}
	s.record(ctx, t)

	gw, err := s.gateways.Get(method.Gateway)
	if err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, t.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	r := s.request(ctx, t, o)
	r.ParentReference = parent.Reference
	call := gw.Capture
	if typ == TypeRefund {
		call = gw.Refund
	}
	resp, callErr := s.call(ctx, r, call)
	if resp != nil && resp.Redirect {
		// Captures and refunds never continue off-site.
		resp.Redirect = false
	}
	payErr := s.settle(ctx, method.Gateway, t, resp, callErr)
	if err := s.transactions.Update(ctx, t); err != nil {
		return nil, errors.Wrap(err, "update transaction")
	}

	res := &Result{Transaction: t, Order: o}
	if payErr != nil {
		return res, payErr
	}
	if res.Order, err = s.orderPayment.UpdateOrderPaidTotal(ctx, t.OrderID); err != nil {
		return res, errors.Wrap(err, "update paid total")
	}
	return res, nil
}

func checkParent(parent *Transaction, typ Type) error {
	if parent.Status != StatusSuccess {
		return parentError(parent, typ)
	}
	switch typ {
	case TypeCapture:
		if parent.Type != TypeAuthorize {
			return parentError(parent, typ)
		}
	case TypeRefund:
		if parent.Type != TypePurchase && parent.Type != TypeCapture {
			return parentError(parent, typ)
		}
	}
	return nil
}

func parentError(parent *Transaction, typ Type) error {
	err := ErrNotCapturable
	if typ == TypeRefund {
		err = ErrNotRefundable
	}
	return &order.ConsistencyError{
		Op:  fmt.Sprintf("%s %s transaction %s (%s)", typ, parent.Type, parent.ID, parent.Status),
		Err: err,
	}
}

func (s *Service) request(ctx context.Context, t *Transaction, o *order.Order) Request {
	r := Request{
		TransactionID: t.ID,
		Hash:          t.Hash,
		OrderID:       t.OrderID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		CancelURL:     s.cancelURL,
	}
	switch {
	case strings.Contains(s.returnURL, HashPlaceholder):
		r.ReturnURL = strings.ReplaceAll(s.returnURL, HashPlaceholder, t.Hash)
	case s.returnURL != "":
		r.ReturnURL = s.returnURL + t.Hash
	}
	if s.requestID != nil {
		r.RequestID = s.requestID(ctx)
	}
	if o != nil {
		r.OrderNumber = o.Number
		r.Email = o.Email
	}
	return r
}

// call runs one gateway operation under the configured timeout. An expired
// deadline counts as a failure even if the gateway ignored it.
func (s *Service) call(ctx context.Context, req Request, fn func(context.Context, Request) (*Response, error)) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := fn(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && resp == nil {
		err = errors.New("empty gateway response")
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// settle applies a gateway outcome to t. It returns the error to surface to
// the caller: a *GatewayError, a decline, or nil.
func (s *Service) settle(ctx context.Context, gateway string, t *Transaction, resp *Response, callErr error) error {
	lg := zctx.From(ctx).With(
		zap.String("transaction_id", t.ID),
		zap.String("order_id", t.OrderID),
		zap.String("type", string(t.Type)),
	)
	now := s.now()

	if callErr != nil {
		t.Message = callErr.Error()
		if err := t.transition(StatusFailed, now); err != nil {
			return err
		}
		s.record(ctx, t)
		lg.Warn("Gateway call failed", zap.String("gateway", gateway), zap.Error(callErr))
		return &GatewayError{Gateway: gateway, Op: string(t.Type), Err: callErr}
	}

	t.Reference = resp.Reference
	t.Code = resp.Code
	t.Message = resp.Message
	if len(resp.Data) > 0 {
		t.Response = resp.Data
	} else {
		t.Response, _ = json.Marshal(resp)
	}

	next := StatusFailed
	switch {
	case resp.Redirect && t.Status == StatusRedirect:
		// Still waiting on the customer.
		return nil
	case resp.Redirect:
		next = StatusRedirect
	case resp.Successful:
		next = StatusSuccess
	}
	if err := t.transition(next, now); err != nil {
		return err
	}
	s.record(ctx, t)
	lg.Info("Transaction settled", zap.String("status", string(t.Status)), zap.String("reference", t.Reference))

	if next == StatusFailed {
		return fmt.Errorf("%w: %s", ErrDeclined, resp.Message)
	}
	return nil
}

func (s *Service) record(ctx context.Context, t *Transaction) {
	s.counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(t.Type)),
		attribute.String("status", string(t.Status)),
	))
}
