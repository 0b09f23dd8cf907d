package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-commerce/internal/domain/order"
)

type addItemRequest struct {
	PurchasableID string         `json:"purchasableId"`
	Qty           int            `json:"qty"`
	Options       map[string]any `json:"options"`
	Note          string         `json:"note"`
}

type updateItemRequest struct {
	Qty *int `json:"qty"`
}

type couponRequest struct {
	Code string `json:"code"`
}

type shippingMethodRequest struct {
	Handle string `json:"handle"`
}

type addressesRequest struct {
	BillingAddressID  *string `json:"billingAddressId"`
	ShippingAddressID *string `json:"shippingAddressId"`
	Email             *string `json:"email"`
}

// cart resolves the session cart and echoes its token. It writes the error
// response itself and returns nil on failure.
func (h *Handler) cart(w http.ResponseWriter, r *http.Request) *order.Order {
	o, token, err := h.carts.GetOrCreateCart(r.Context(), r.Header.Get(CartTokenHeader))
	if err != nil {
		writeError(w, r, err)
		return nil
	}
	w.Header().Set(CartTokenHeader, token)
	return o
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, status int, o *order.Order) {
	items, err := h.carts.Items(r.Context(), o)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list items"))
		return
	}
	adjustments, err := h.adjustments.ListByOrder(r.Context(), o.ID)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list adjustments"))
		return
	}
	respondJSON(w, r, status, toCart(o, items, adjustments))
}

// GetCart returns the session cart, creating one for new sessions.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	o := h.cart(w, r)
	if o == nil {
		return
	}
	h.respondCart(w, r, http.StatusOK, o)
}

// AddItem adds a purchasable to the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.PurchasableID == "" {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "purchasableId is required")
		return
	}
	o := h.cart(w, r)
	if o == nil {
		return
	}
	if _, err := h.carts.AddToCart(r.Context(), o, req.PurchasableID, req.Qty, req.Options, req.Note); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusCreated, o)
}

// UpdateItem sets the quantity of a line item. Zero removes it.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Qty == nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "qty is required")
		return
	}
	o := h.cart(w, r)
	if o == nil {
		return
	}
	if err := h.carts.UpdateQty(r.Context(), o, chi.URLParam(r, "id"), *req.Qty); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, o)
}

// RemoveItem removes a line item.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	o := h.cart(w, r)
	if o == nil {
		return
	}
	if err := h.carts.RemoveFromCart(r.Context(), o, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, o)
}

// ClearCart removes every line item.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	o := h.cart(w, r)
	if o == nil {
		return
	}
	if err := h.carts.ClearCart(r.Context(), o); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, o)
}

// ApplyCoupon sets or, with an empty code, removes the cart coupon.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	o := h.cart(w, r)
	if o == nil {
		return
	}
	if _, err := h.carts.ApplyCoupon(r.Context(), o, req.Code); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, o)
}

// SetShippingMethod selects a shipping method by handle.
func (h *Handler) SetShippingMethod(w http.ResponseWriter, r *http.Request) {
	var req shippingMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	o := h.cart(w, r)
	if o == nil {
		return
	}
	if err := h.carts.SetShippingMethod(r.Context(), o, req.Handle); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, http.StatusOK, o)
}

// SetAddresses sets the billing and shipping addresses and, when given, the
// customer email.
func (h *Handler) SetAddresses(w http.ResponseWriter, r *http.Request) {
	var req addressesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	o := h.cart(w, r)
	if o == nil {
		return
	}
	if err := h.carts.SetAddresses(r.Context(), o, req.BillingAddressID, req.ShippingAddressID); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Email != nil {
		if err := h.carts.SetEmail(r.Context(), o, *req.Email); err != nil {
			writeError(w, r, err)
			return
		}
	}
	h.respondCart(w, r, http.StatusOK, o)
}
