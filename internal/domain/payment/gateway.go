package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrUnsupportedGateway is returned when no gateway is registered under a
// payment method's gateway name.
var ErrUnsupportedGateway = errors.New("unsupported payment gateway")

// Request is the input of a gateway call.
type Request struct {
	TransactionID string
	Hash          string
	OrderID       string
	OrderNumber   string
	Email         string
	Amount        decimal.Decimal
	Currency      string
	// ParentReference is the gateway reference of the authorize or
	// purchase a capture or refund applies to.
	ParentReference string
	// Reference is the gateway reference of the transaction being completed.
	Reference string
	ReturnURL string
	CancelURL string
	// Params carries gateway specific form data such as card tokens.
	Params map[string]string
	// RequestID identifies the API request that started the call.
	RequestID string
}

// Response is the normalized outcome of a gateway call.
type Response struct {
	Reference   string
	Message     string
	Code        string
	Successful  bool
	Redirect    bool
	RedirectURL string
	Data        json.RawMessage
}

// Gateway is a payment processor adapter. Implementations must honor ctx
// cancellation.
type Gateway interface {
	Authorize(ctx context.Context, req Request) (*Response, error)
	Purchase(ctx context.Context, req Request) (*Response, error)
	Capture(ctx context.Context, req Request) (*Response, error)
	Refund(ctx context.Context, req Request) (*Response, error)
	CompleteAuthorize(ctx context.Context, req Request) (*Response, error)
	CompletePurchase(ctx context.Context, req Request) (*Response, error)
}

// Registry holds gateways keyed by name.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry builds a Registry. Names are case-insensitive.
func NewRegistry(gateways map[string]Gateway) (*Registry, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payment: at least one gateway is required")
	}
	m := make(map[string]Gateway, len(gateways))
	for name, g := range gateways {
		key := normalizeName(name)
		if key == "" || g == nil {
			return nil, fmt.Errorf("payment: invalid gateway registration for key %q", name)
		}
		m[key] = g
	}
	return &Registry{gateways: m}, nil
}

// Get returns the gateway registered under name.
func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[normalizeName(name)]
	if !ok {
		return nil, errors.Wrap(ErrUnsupportedGateway, name)
	}
	return g, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
