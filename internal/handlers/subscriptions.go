package handlers

import (
	"net/http"

	"github.com/PortNumber53/fitmarket-payments/internal/billing"
)

type checkoutRequest struct {
	Period     string `json:"period"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type portalRequest struct {
	ReturnURL string `json:"returnUrl"`
}

type urlResponse struct {
	URL string `json:"url"`
}

// CreateSubscriptionCheckout starts a subscription checkout for the caller.
func (h *RPCHandler) CreateSubscriptionCheckout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "createSubscriptionCheckout"
		c, err := caller(r)
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		var req checkoutRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, h.Logger, op, err)
			return
		}

		url, err := h.Subscriptions.StartCheckout(r.Context(), billing.CheckoutRequest{
			AccountID:  c.ID,
			Email:      c.Email,
			Period:     req.Period,
			SuccessURL: req.SuccessURL,
			CancelURL:  req.CancelURL,
		})
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		writeJSON(w, http.StatusOK, urlResponse{URL: url})
	}
}

// CreateCustomerPortal opens the billing portal for the caller.
func (h *RPCHandler) CreateCustomerPortal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "createCustomerPortal"
		c, err := caller(r)
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		var req portalRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, h.Logger, op, err)
			return
		}

		url, err := h.Subscriptions.OpenPortal(r.Context(), c.ID, req.ReturnURL)
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		writeJSON(w, http.StatusOK, urlResponse{URL: url})
	}
}

// GetSubscriptionStatus reports the caller's entitlement.
func (h *RPCHandler) GetSubscriptionStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "getSubscriptionStatus"
		c, err := caller(r)
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}

		view, err := h.Subscriptions.Status(r.Context(), c.ID)
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}
