package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
	"github.com/PortNumber53/fitmarket-payments/internal/stripe"
	"github.com/PortNumber53/fitmarket-payments/internal/webhook"
)

const maxWebhookBody = 65536

// EventVerifier authenticates a raw delivery. *stripe.Verifier implements it.
type EventVerifier interface {
	Verify(payload []byte, sigHeader string) (stripe.Event, error)
}

// EventDispatcher settles a verified event. *webhook.Dispatcher implements it.
type EventDispatcher interface {
	Handle(ctx context.Context, e stripe.Event) (webhook.Outcome, error)
}

// WebhookHandler receives gateway deliveries.
type WebhookHandler struct {
	Verifier   EventVerifier
	Dispatcher EventDispatcher
	Logger     *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(verifier EventVerifier, dispatcher EventDispatcher, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{Verifier: verifier, Dispatcher: dispatcher, Logger: logger}
}

// RegisterRoutes registers the webhook route
func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/webhooks/stripe", h.HandleWebhook())
}

// HandleWebhook verifies and dispatches one delivery. Verification failures
// touch nothing; persistence failures return 500 so the gateway redelivers.
func (h *WebhookHandler) HandleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			h.Logger.Warn("webhook: read body", slog.Any("error", err))
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		event, err := h.Verifier.Verify(body, r.Header.Get("Stripe-Signature"))
		switch {
		case err == nil:
		case errors.Is(err, models.ErrMissingConfiguration):
			h.Logger.Error("webhook: verifier not configured", slog.Any("error", err))
			http.Error(w, "webhook not configured", http.StatusInternalServerError)
			return
		case errors.Is(err, models.ErrInvalidSignature):
			h.Logger.Warn("webhook: signature rejected", slog.Any("error", err))
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		default:
			h.Logger.Warn("webhook: malformed event", slog.Any("error", err))
			http.Error(w, "malformed event", http.StatusBadRequest)
			return
		}

		outcome, err := h.Dispatcher.Handle(r.Context(), event)
		if err != nil {
			if errors.Is(err, models.ErrInvalidArgument) {
				http.Error(w, "malformed event", http.StatusBadRequest)
				return
			}
			http.Error(w, "event processing failed", http.StatusInternalServerError)
			return
		}

		h.Logger.Debug("webhook: acknowledged",
			slog.String("event_id", event.Meta().ID),
			slog.String("outcome", string(outcome)))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}
