package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-commerce/internal/domain/payment"
)

type payRequest struct {
	PaymentMethodID string            `json:"paymentMethodId"`
	Params          map[string]string `json:"params"`
}

type purgeRequest struct {
	OlderThan string `json:"olderThan"`
}

type purgeResponse struct {
	Deleted int64 `json:"deleted"`
}

// Pay starts the payment of the session cart. Redirecting gateways answer
// with redirectUrl; declines answer 402 with the failed transaction.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	o := h.cart(w, r)
	if o == nil {
		return
	}
	res, err := h.payments.ProcessPayment(r.Context(), payment.ProcessRequest{
		OrderID:         o.ID,
		PaymentMethodID: req.PaymentMethodID,
		Params:          req.Params,
	})
	h.respondPayment(w, r, res, err)
}

// CompletePayment is the return URL of off-site gateways.
func (h *Handler) CompletePayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.CompletePayment(r.Context(), chi.URLParam(r, "hash"))
	h.respondPayment(w, r, res, err)
}

// Capture captures an authorized transaction.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.Capture(r.Context(), chi.URLParam(r, "id"))
	h.respondPayment(w, r, res, err)
}

// Refund refunds a purchase or capture.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	res, err := h.payments.Refund(r.Context(), chi.URLParam(r, "id"))
	h.respondPayment(w, r, res, err)
}

func (h *Handler) respondPayment(w http.ResponseWriter, r *http.Request, res *payment.Result, err error) {
	if err != nil {
		var t *payment.Transaction
		if res != nil {
			t = res.Transaction
		}
		writeErrorWith(w, r, err, t)
		return
	}
	respondJSON(w, r, http.StatusOK, toPayment(res))
}

// PurgeCarts deletes stale carts. The body is optional.
func (h *Handler) PurgeCarts(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	age := h.staleCartAge
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d <= 0 {
			respondError(w, r, http.StatusBadRequest, "invalid_request", "olderThan must be a positive duration")
			return
		}
		age = d
	}
	n, err := h.carts.PurgeStaleCarts(r.Context(), age)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, purgeResponse{Deleted: n})
}
