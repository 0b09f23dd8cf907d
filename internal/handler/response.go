package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/coupon"
	"github.com/xenking/kart-commerce/internal/domain/order"
	"github.com/xenking/kart-commerce/internal/domain/payment"
)

type lineItemResponse struct {
	ID            string         `json:"id"`
	PurchasableID string         `json:"purchasableId"`
	SKU           string         `json:"sku"`
	Description   string         `json:"description"`
	Options       map[string]any `json:"options,omitempty"`
	Note          string         `json:"note,omitempty"`
	Qty           int            `json:"qty"`
	Price         string         `json:"price"`
	SalePrice     string         `json:"salePrice"`
	Discount      string         `json:"discount"`
	ShippingCost  string         `json:"shippingCost"`
	Tax           string         `json:"tax"`
	Total         string         `json:"total"`
}

type adjustmentResponse struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount"`
	Included    bool   `json:"included"`
}

type cartResponse struct {
	ID                string               `json:"id"`
	Number            string               `json:"number"`
	Email             string               `json:"email,omitempty"`
	CouponCode        string               `json:"couponCode,omitempty"`
	ShippingMethod    string               `json:"shippingMethod,omitempty"`
	BillingAddressID  *string              `json:"billingAddressId,omitempty"`
	ShippingAddressID *string              `json:"shippingAddressId,omitempty"`
	Currency          string               `json:"currency"`
	ItemTotal         string               `json:"itemTotal"`
	Discount          string               `json:"discount"`
	ShippingDiscount  string               `json:"shippingDiscount"`
	ShippingCost      string               `json:"shippingCost"`
	TotalPrice        string               `json:"totalPrice"`
	TotalPaid         string               `json:"totalPaid"`
	Completed         bool                 `json:"completed"`
	Items             []lineItemResponse   `json:"items"`
	Adjustments       []adjustmentResponse `json:"adjustments"`
}

type transactionResponse struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parentId,omitempty"`
	Hash      string    `json:"hash"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	Reference string    `json:"reference,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type paymentResponse struct {
	Transaction *transactionResponse `json:"transaction,omitempty"`
	OrderID     string               `json:"orderId,omitempty"`
	Completed   bool                 `json:"completed"`
	TotalPaid   string               `json:"totalPaid,omitempty"`
	RedirectURL string               `json:"redirectUrl,omitempty"`
}

type errorResponse struct {
	Code    int                `json:"code"`
	Error   string             `json:"error"`
	Message string             `json:"message"`
	Fields  []fieldErrorDetail `json:"fields,omitempty"`
	// Transaction is the failed transaction of a declined payment.
	Transaction *transactionResponse `json:"transaction,omitempty"`
}

type fieldErrorDetail struct {
	Entity  string `json:"entity"`
	ID      string `json:"id,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func toCart(o *order.Order, items []*order.LineItem, adjustments []*order.Adjustment) cartResponse {
	resp := cartResponse{
		ID:                o.ID,
		Number:            o.Number,
		Email:             o.Email,
		CouponCode:        o.CouponCode,
		ShippingMethod:    o.ShippingMethod,
		BillingAddressID:  o.BillingAddressID,
		ShippingAddressID: o.ShippingAddressID,
		Currency:          o.Currency,
		ItemTotal:         o.ItemTotal.StringFixed(2),
		Discount:          o.BaseDiscount.StringFixed(2),
		ShippingDiscount:  o.ShippingDiscount.StringFixed(2),
		ShippingCost:      o.BaseShippingCost.StringFixed(2),
		TotalPrice:        o.TotalPrice.StringFixed(2),
		TotalPaid:         o.TotalPaid.StringFixed(2),
		Completed:         o.IsCompleted(),
		Items:             make([]lineItemResponse, len(items)),
		Adjustments:       make([]adjustmentResponse, len(adjustments)),
	}
	for i, li := range items {
		resp.Items[i] = lineItemResponse{
			ID:            li.ID,
			PurchasableID: li.PurchasableID,
			SKU:           li.Snapshot.SKU,
			Description:   li.Snapshot.Description,
			Options:       li.Options,
			Note:          li.Note,
			Qty:           li.Qty,
			Price:         li.Price.StringFixed(2),
			SalePrice:     li.SalePrice.StringFixed(2),
			Discount:      li.Discount.StringFixed(2),
			ShippingCost:  li.ShippingCost.StringFixed(2),
			Tax:           li.Tax.StringFixed(2),
			Total:         li.Total.StringFixed(2),
		}
	}
	for i, a := range adjustments {
		resp.Adjustments[i] = adjustmentResponse{
			Type:        string(a.Type),
			Name:        a.Name,
			Description: a.Description,
			Amount:      a.Amount.StringFixed(2),
			Included:    a.Included,
		}
	}
	return resp
}

func toTransaction(t *payment.Transaction) *transactionResponse {
	if t == nil {
		return nil
	}
	return &transactionResponse{
		ID:        t.ID,
		ParentID:  t.ParentID,
		Hash:      t.Hash,
		Type:      string(t.Type),
		Status:    string(t.Status),
		Amount:    t.Amount.StringFixed(2),
		Currency:  t.Currency,
		Reference: t.Reference,
		Message:   t.Message,
		CreatedAt: t.CreatedAt,
	}
}

func toPayment(res *payment.Result) paymentResponse {
	resp := paymentResponse{
		Transaction: toTransaction(res.Transaction),
		RedirectURL: res.RedirectURL,
	}
	if res.Order != nil {
		resp.OrderID = res.Order.ID
		resp.Completed = res.Order.IsCompleted()
		resp.TotalPaid = res.Order.TotalPaid.StringFixed(2)
	} else if res.Transaction != nil {
		resp.OrderID = res.Transaction.OrderID
	}
	return resp
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zctx.From(r.Context()).Warn("Failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondJSON(w, r, status, errorResponse{Code: status, Error: code, Message: message})
}

// writeError maps domain errors to HTTP responses. Unknown errors are logged
// and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorWith(w, r, err, nil)
}

func writeErrorWith(w http.ResponseWriter, r *http.Request, err error, t *payment.Transaction) {
	lg := zctx.From(r.Context())

	var (
		validations order.ValidationErrors
		validation  *order.ValidationError
		notFound    *order.NotFoundError
		consistency *order.ConsistencyError
		gatewayErr  *payment.GatewayError
	)
	resp := errorResponse{Transaction: toTransaction(t)}
	switch {
	case errors.As(err, &validations):
		resp.Code, resp.Error, resp.Message = http.StatusUnprocessableEntity, "validation_failed", "validation failed"
		for _, v := range validations {
			resp.Fields = append(resp.Fields, fieldDetails(v)...)
		}
	case errors.As(err, &validation):
		resp.Code, resp.Error, resp.Message = http.StatusUnprocessableEntity, "validation_failed", validation.Error()
		resp.Fields = fieldDetails(validation)
	case errors.Is(err, order.ErrInvalidQuantity):
		resp.Code, resp.Error, resp.Message = http.StatusUnprocessableEntity, "invalid_quantity", order.ErrInvalidQuantity.Error()
	case errors.Is(err, coupon.ErrInvalidCoupon):
		resp.Code, resp.Error, resp.Message = http.StatusUnprocessableEntity, "invalid_coupon", "invalid coupon code"
	case errors.Is(err, payment.ErrMethodUnavailable):
		resp.Code, resp.Error, resp.Message = http.StatusUnprocessableEntity, "payment_method_unavailable", payment.ErrMethodUnavailable.Error()
	case errors.As(err, &notFound):
		resp.Code, resp.Error, resp.Message = http.StatusNotFound, "not_found", notFound.Error()
	case errors.As(err, &consistency):
		resp.Code, resp.Error, resp.Message = http.StatusConflict, "conflict", consistency.Error()
	case errors.As(err, &gatewayErr):
		lg.Warn("Payment gateway failure", zap.String("detail", gatewayErr.Detail()))
		resp.Code, resp.Error, resp.Message = http.StatusPaymentRequired, "payment_failed", gatewayErr.Error()
	case errors.Is(err, payment.ErrDeclined):
		resp.Code, resp.Error, resp.Message = http.StatusPaymentRequired, "payment_declined", err.Error()
	default:
		lg.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		resp.Code, resp.Error, resp.Message = http.StatusInternalServerError, "internal_error", "internal server error"
	}
	respondJSON(w, r, resp.Code, resp)
}

func fieldDetails(v *order.ValidationError) []fieldErrorDetail {
	out := make([]fieldErrorDetail, len(v.Fields))
	for i, f := range v.Fields {
		out[i] = fieldErrorDetail{Entity: v.Entity, ID: v.ID, Field: f.Field, Message: f.Message}
	}
	return out
}
