package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
	"github.com/PortNumber53/fitmarket-payments/internal/stripe"
)

type createPaymentIntentRequest struct {
	Amount    float64     `json:"amount"`
	Currency  string      `json:"currency"`
	TrainerID string      `json:"trainerId"`
	UserID    string      `json:"userId"`
	BookingID string      `json:"bookingId"`
	Duration  json.Number `json:"duration"`
}

type createPaymentIntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// CreatePaymentIntent issues a charge for a booking. Amount is in major
// currency units; the booking itself is not touched until the webhook lands.
func (h *RPCHandler) CreatePaymentIntent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "createPaymentIntent"
		c, err := caller(r)
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}

		var req createPaymentIntentRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		if err := validatePaymentIntent(req); err != nil {
			writeError(w, h.Logger, op, err)
			return
		}
		if !c.CanActFor(req.UserID) {
			writeError(w, h.Logger, op, fmt.Errorf("%w: userId must be the caller", models.ErrPermissionDenied))
			return
		}
		if h.Gateway == nil {
			writeError(w, h.Logger, op, fmt.Errorf("stripe: %w", models.ErrMissingConfiguration))
			return
		}

		currency := strings.ToLower(strings.TrimSpace(req.Currency))
		if currency == "" {
			currency = "usd"
		}
		metadata := map[string]string{
			stripe.MetadataBookingID: req.BookingID,
			stripe.MetadataUserID:    req.UserID,
			stripe.MetadataTrainerID: req.TrainerID,
		}
		if req.Duration != "" {
			metadata[stripe.MetadataDuration] = req.Duration.String()
		}

		pi, err := h.Gateway.CreatePaymentIntent(r.Context(), stripe.PaymentIntentRequest{
			Amount:   int64(math.Round(req.Amount * 100)),
			Currency: currency,
			Metadata: metadata,
		})
		if err != nil {
			writeError(w, h.Logger, op, err)
			return
		}

		writeJSON(w, http.StatusOK, createPaymentIntentResponse{
			ClientSecret:    pi.ClientSecret,
			PaymentIntentID: pi.ID,
		})
	}
}

func validatePaymentIntent(req createPaymentIntentRequest) error {
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || math.Round(req.Amount*100) <= 0 {
		return fmt.Errorf("%w: amount must be positive", models.ErrInvalidArgument)
	}
	for _, f := range []struct{ name, value string }{
		{"trainerId", req.TrainerID},
		{"userId", req.UserID},
		{"bookingId", req.BookingID},
	} {
		if err := required(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}
