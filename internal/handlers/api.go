package handlers

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/fitmarket-payments/internal/billing"
	"github.com/PortNumber53/fitmarket-payments/internal/models"
	"github.com/PortNumber53/fitmarket-payments/internal/notify"
	"github.com/PortNumber53/fitmarket-payments/internal/stripe"
)

// PaymentGateway creates one-off charges. *stripe.Client implements it.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req stripe.PaymentIntentRequest) (*stripe.PaymentIntent, error)
}

// SubscriptionService is the client surface of the subscription machine.
type SubscriptionService interface {
	StartCheckout(ctx context.Context, req billing.CheckoutRequest) (string, error)
	OpenPortal(ctx context.Context, accountID, returnURL string) (string, error)
	Status(ctx context.Context, accountID string) (models.SubscriptionView, error)
}

// DeviceRegistry stores push registrations.
type DeviceRegistry interface {
	UpsertDeviceToken(ctx context.Context, token *models.DeviceToken) error
}

// PushService fans a message out to an account's devices.
type PushService interface {
	PushToAccount(ctx context.Context, accountID string, msg notify.Message) (notify.PushResult, error)
}

// BookingReader returns a booking to one of its parties.
type BookingReader interface {
	Get(ctx context.Context, bookingID, callerID string) (*models.Booking, error)
}

// RPCHandler holds dependencies for the authenticated client RPCs. A nil
// Gateway or Push leaves those RPCs answering failed-precondition.
type RPCHandler struct {
	Gateway       PaymentGateway
	Subscriptions SubscriptionService
	Devices       DeviceRegistry
	Push          PushService
	Bookings      BookingReader
	Logger        *slog.Logger
}

// RegisterRoutes registers the RPC routes. The router is expected to carry
// the auth middleware already.
func (h *RPCHandler) RegisterRoutes(router chi.Router) {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	router.Post("/api/rpc/createPaymentIntent", h.CreatePaymentIntent())
	router.Post("/api/rpc/createSubscriptionCheckout", h.CreateSubscriptionCheckout())
	router.Post("/api/rpc/createCustomerPortal", h.CreateCustomerPortal())
	router.Post("/api/rpc/getSubscriptionStatus", h.GetSubscriptionStatus())
	router.Post("/api/rpc/registerFCMToken", h.RegisterFCMToken())
	router.Post("/api/rpc/sendPushNotification", h.SendPushNotification())
	router.Get("/api/bookings/{id}", h.GetBooking())
}
