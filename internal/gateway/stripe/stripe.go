// Package stripe adapts Stripe Payment Intents to payment.Gateway.
package stripe

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/payment"
)

// Name is the registry key of the gateway.
const Name = "stripe"

// ParamPaymentMethod is the request parameter carrying the Stripe payment
// method id collected by the storefront.
const ParamPaymentMethod = "payment_method"

type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
}

type refundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// Clients overrides the Stripe API clients.
type Clients struct {
	Intents intentAPI
	Refunds refundAPI
}

// Config configures a Gateway.
type Config struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Clients   *Clients
}

var _ payment.Gateway = (*Gateway)(nil)

// Gateway charges orders with Stripe Payment Intents. Authorizations use
// manual capture; purchases capture automatically. Intents needing customer
// action are reported as redirects.
type Gateway struct {
	intents intentAPI
	refunds refundAPI
	account string
}

// New creates a Stripe Gateway.
func New(cfg Config) (*Gateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	g := &Gateway{account: strings.TrimSpace(cfg.AccountID)}
	if cfg.Clients != nil {
		g.intents, g.refunds = cfg.Clients.Intents, cfg.Clients.Refunds
	} else {
		sc := client.New(apiKey, cfg.Backends)
		g.intents, g.refunds = sc.PaymentIntents, sc.Refunds
	}
	if g.intents == nil || g.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}
	return g, nil
}

// Authorize places a hold for the amount.
func (g *Gateway) Authorize(ctx context.Context, req payment.Request) (*payment.Response, error) {
	return g.createIntent(ctx, req, stripe.PaymentIntentCaptureMethodManual)
}

// Purchase charges the amount.
func (g *Gateway) Purchase(ctx context.Context, req payment.Request) (*payment.Response, error) {
	return g.createIntent(ctx, req, stripe.PaymentIntentCaptureMethodAutomatic)
}

// CompleteAuthorize reads back an intent after the customer returns.
func (g *Gateway) CompleteAuthorize(ctx context.Context, req payment.Request) (*payment.Response, error) {
	return g.lookup(ctx, req)
}

// CompletePurchase reads back an intent after the customer returns.
func (g *Gateway) CompletePurchase(ctx context.Context, req payment.Request) (*payment.Response, error) {
	return g.lookup(ctx, req)
}

// Capture captures an authorized intent.
func (g *Gateway) Capture(ctx context.Context, req payment.Request) (*payment.Response, error) {
	if req.ParentReference == "" {
		return nil, errors.New("stripe: capture requires the authorized payment intent")
	}
	amount, err := minorUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentCaptureParams{AmountToCapture: stripe.Int64(amount)}
	g.prepare(ctx, &params.Params, req.TransactionID)

	intent, err := g.intents.Capture(req.ParentReference, params)
	if err != nil {
		return declineOrError(err, "capture payment intent")
	}
	zctx.From(ctx).Info("Stripe intent captured",
		zap.String("payment_intent", intent.ID),
		zap.Int64("amount_received", intent.AmountReceived),
	)
	return intentResponse(intent, false)
}

// Refund refunds a captured or purchased intent in full.
func (g *Gateway) Refund(ctx context.Context, req payment.Request) (*payment.Response, error) {
	if req.ParentReference == "" {
		return nil, errors.New("stripe: refund requires the charged payment intent")
	}
	amount, err := minorUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ParentReference),
		Amount:        stripe.Int64(amount),
	}
	g.prepare(ctx, &params.Params, req.TransactionID)
	params.AddMetadata("order_number", req.OrderNumber)
	if req.RequestID != "" {
		params.AddMetadata("request_id", req.RequestID)
	}

	refund, err := g.refunds.New(params)
	if err != nil {
		return declineOrError(err, "refund payment intent")
	}
	zctx.From(ctx).Info("Stripe intent refunded",
		zap.String("payment_intent", req.ParentReference),
		zap.String("refund", refund.ID),
		zap.String("status", string(refund.Status)),
	)

	data, _ := json.Marshal(refund)
	resp := &payment.Response{
		Reference: refund.ID,
		Code:      string(refund.Status),
		Message:   "refund " + string(refund.Status),
		Data:      data,
	}
	switch refund.Status {
	case stripe.RefundStatusSucceeded, stripe.RefundStatusPending:
		resp.Successful = true
	default:
		if refund.FailureReason != "" {
			resp.Message = string(refund.FailureReason)
		}
	}
	return resp, nil
}

func (g *Gateway) createIntent(ctx context.Context, req payment.Request, capture stripe.PaymentIntentCaptureMethod) (*payment.Response, error) {
	amount, err := minorUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		CaptureMethod: stripe.String(string(capture)),
	}
	g.prepare(ctx, &params.Params, req.TransactionID)
	if pm := req.Params[ParamPaymentMethod]; pm != "" {
		params.PaymentMethod = stripe.String(pm)
		params.Confirm = stripe.Bool(true)
		if req.ReturnURL != "" {
			params.ReturnURL = stripe.String(req.ReturnURL)
		}
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("order_number", req.OrderNumber)
	params.AddMetadata("transaction_hash", req.Hash)
	if req.RequestID != "" {
		params.AddMetadata("request_id", req.RequestID)
	}

	intent, err := g.intents.New(params)
	if err != nil {
		return declineOrError(err, "create payment intent")
	}
	zctx.From(ctx).Info("Stripe intent created",
		zap.String("payment_intent", intent.ID),
		zap.String("status", string(intent.Status)),
	)
	return intentResponse(intent, true)
}

func (g *Gateway) lookup(ctx context.Context, req payment.Request) (*payment.Response, error) {
	if req.Reference == "" {
		return nil, errors.New("stripe: missing payment intent reference")
	}
	params := &stripe.PaymentIntentParams{}
	g.prepare(ctx, &params.Params, "")
	intent, err := g.intents.Get(req.Reference, params)
	if err != nil {
		return nil, errors.Wrap(err, "stripe: lookup payment intent")
	}
	// The customer is back; an intent still asking for action was abandoned.
	return intentResponse(intent, false)
}

func (g *Gateway) prepare(ctx context.Context, p *stripe.Params, idempotencyKey string) {
	p.Context = ctx
	if idempotencyKey != "" {
		p.SetIdempotencyKey(idempotencyKey)
	}
	if g.account != "" {
		p.SetStripeAccount(g.account)
	}
}

// intentResponse maps an intent to a gateway response. A held authorization
// (requires_capture) counts as a success.
func intentResponse(intent *stripe.PaymentIntent, allowRedirect bool) (*payment.Response, error) {
	if intent == nil {
		return nil, errors.New("stripe: empty payment intent")
	}
	data, _ := json.Marshal(intent)
	resp := &payment.Response{
		Reference: intent.ID,
		Code:      string(intent.Status),
		Message:   string(intent.Status),
		Data:      data,
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture, stripe.PaymentIntentStatusProcessing:
		resp.Successful = true
	case stripe.PaymentIntentStatusRequiresAction:
		next := intent.NextAction
		if allowRedirect && next != nil && next.RedirectToURL != nil && next.RedirectToURL.URL != "" {
			resp.Redirect = true
			resp.RedirectURL = next.RedirectToURL.URL
		}
	}
	if e := intent.LastPaymentError; e != nil && !resp.Successful {
		resp.Message = e.Msg
		if e.Code != "" {
			resp.Code = string(e.Code)
		}
	}
	return resp, nil
}

// declineOrError turns card errors into declined responses. Anything else is
// a gateway failure.
func declineOrError(err error, op string) (*payment.Response, error) {
	var se *stripe.Error
	if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
		resp := &payment.Response{
			Code:    string(se.Code),
			Message: se.Msg,
		}
		if se.DeclineCode != "" {
			resp.Code = string(se.DeclineCode)
		}
		if pi := se.PaymentIntent; pi != nil {
			resp.Reference = pi.ID
		}
		return resp, nil
	}
	return nil, errors.Wrap(err, "stripe: "+op)
}

func minorUnits(amount decimal.Decimal) (int64, error) {
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, errors.Errorf("stripe: amount %s has more than two decimals", amount)
	}
	if cents.Sign() <= 0 {
		return 0, errors.Errorf("stripe: amount %s must be positive", amount)
	}
	return cents.IntPart(), nil
}
