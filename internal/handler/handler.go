package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/payment"
)

// CartTokenHeader carries the cart session token in both directions.
const CartTokenHeader = "X-Cart-Token"

// Carts is the cart lifecycle used by the HTTP API.
type Carts interface {
	GetOrCreateCart(ctx context.Context, token string) (*order.Order, string, error)
	Items(ctx context.Context, o *order.Order) ([]*order.LineItem, error)
	AddToCart(ctx context.Context, o *order.Order, purchasableID string, qty int, options map[string]any, note string) (*order.LineItem, error)
	UpdateQty(ctx context.Context, o *order.Order, lineItemID string, qty int) error
	RemoveFromCart(ctx context.Context, o *order.Order, lineItemID string) error
	ClearCart(ctx context.Context, o *order.Order) error
	ApplyCoupon(ctx context.Context, o *order.Order, code string) (bool, error)
	SetShippingMethod(ctx context.Context, o *order.Order, handle string) error
	SetAddresses(ctx context.Context, o *order.Order, billingID, shippingID *string) error
	SetEmail(ctx context.Context, o *order.Order, email string) error
	PurgeStaleCarts(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Payments runs gateway transactions.
type Payments interface {
	ProcessPayment(ctx context.Context, req payment.ProcessRequest) (*payment.Result, error)
	CompletePayment(ctx context.Context, hash string) (*payment.Result, error)
	Capture(ctx context.Context, transactionID string) (*payment.Result, error)
	Refund(ctx context.Context, transactionID string) (*payment.Result, error)
}

// Adjustments reads the adjustment ledger of an order.
type Adjustments interface {
	ListByOrder(ctx context.Context, orderID string) ([]*order.Adjustment, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// StaleCartAge is the purge age used when a purge request names none.
	StaleCartAge time.Duration
}

// Handler serves the storefront and admin JSON API.
type Handler struct {
	carts        Carts
	payments     Payments
	adjustments  Adjustments
	staleCartAge time.Duration
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg Config, carts Carts, payments Payments, adjustments Adjustments) *Handler {
	age := cfg.StaleCartAge
	if age <= 0 {
		age = 7 * 24 * time.Hour
	}
	return &Handler{
		carts:        carts,
		payments:     payments,
		adjustments:  adjustments,
		staleCartAge: age,
	}
}

// Routes mounts the API under /api. Admin routes are wrapped with admin.
func (h *Handler) Routes(admin func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Post("/items", h.AddItem)
			r.Delete("/items", h.ClearCart)
			r.Patch("/items/{id}", h.UpdateItem)
			r.Delete("/items/{id}", h.RemoveItem)
			r.Post("/coupon", h.ApplyCoupon)
			r.Put("/shipping-method", h.SetShippingMethod)
			r.Put("/addresses", h.SetAddresses)
			r.Post("/payments", h.Pay)
		})
		r.Get("/payments/{hash}/complete", h.CompletePayment)

		r.Route("/admin", func(r chi.Router) {
			r.Use(admin)
			r.Post("/transactions/{id}/capture", h.Capture)
			r.Post("/transactions/{id}/refund", h.Refund)
			r.Post("/carts/purge", h.PurgeCarts)
		})
	})
	return r
}
