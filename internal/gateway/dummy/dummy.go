// Package dummy implements an offline payment.Gateway for development and
// tests. The outcome is chosen by the card number parameter.
package dummy

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/xenking/kart-commerce/internal/domain/payment"
)

// Name is the registry key of the gateway.
const Name = "dummy"

// Request parameters understood by the gateway.
const (
	ParamNumber   = "number"
	ParamRedirect = "redirect"
)

// Card numbers with a fixed outcome. Any other number succeeds.
const (
	DeclineNumber  = "4000000000000002"
	RedirectNumber = "4000000000003220"
)

var _ payment.Gateway = (*Gateway)(nil)

// Gateway approves everything except the decline card. Redirect card
// payments first send the customer to the return URL.
type Gateway struct{}

// New creates a dummy Gateway.
func New() *Gateway {
	return &Gateway{}
}

func (g *Gateway) Authorize(ctx context.Context, req payment.Request) (*payment.Response, error) {
	return g.charge(ctx, req)
}

func (g *Gateway) Purchase(ctx context.Context, req payment.Request) (*payment.Response, error) {
	return g.charge(ctx, req)
}

func (g *Gateway) CompleteAuthorize(ctx context.Context, req payment.Request) (*payment.Response, error) {
	return g.complete(ctx, req)
}

func (g *Gateway) CompletePurchase(ctx context.Context, req payment.Request) (*payment.Response, error) {
	return g.complete(ctx, req)
}

// Capture always succeeds.
func (g *Gateway) Capture(ctx context.Context, req payment.Request) (*payment.Response, error) {
	return g.settled(ctx, req, "captured")
}

// Refund always succeeds.
func (g *Gateway) Refund(ctx context.Context, req payment.Request) (*payment.Response, error) {
	return g.settled(ctx, req, "refunded")
}

func (g *Gateway) charge(ctx context.Context, req payment.Request) (*payment.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	number := strings.ReplaceAll(req.Params[ParamNumber], " ", "")
	resp := &payment.Response{Reference: reference(req)}
	switch {
	case number == DeclineNumber:
		resp.Code = "card_declined"
		resp.Message = "The card was declined."
	case number == RedirectNumber || req.Params[ParamRedirect] == "true":
		resp.Redirect = true
		resp.RedirectURL = req.ReturnURL
		resp.Message = "redirect"
	default:
		resp.Successful = true
		resp.Code = "approved"
		resp.Message = "approved"
	}
	resp.Data = data(resp)
	return resp, nil
}

func (g *Gateway) complete(ctx context.Context, req payment.Request) (*payment.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := &payment.Response{
		Reference:  req.Reference,
		Code:       "approved",
		Message:    "approved",
		Successful: true,
	}
	resp.Data = data(resp)
	return resp, nil
}

func (g *Gateway) settled(ctx context.Context, req payment.Request, msg string) (*payment.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := &payment.Response{
		Reference:  reference(req),
		Code:       msg,
		Message:    msg,
		Successful: true,
	}
	resp.Data = data(resp)
	return resp, nil
}

func reference(req payment.Request) string {
	return "dummy_" + req.TransactionID
}

func data(resp *payment.Response) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"reference": resp.Reference,
		"code":      resp.Code,
		"message":   resp.Message,
	})
	return b
}
