package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	stripego "github.com/stripe/stripe-go/v82"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

// Metadata keys written on outbound objects and read back from webhooks.
const (
	MetadataBookingID = "bookingId"
	MetadataUserID    = "userId"
	MetadataTrainerID = "trainerId"
	MetadataDuration  = "duration"
	MetadataAccountID = "account_id"
	MetadataPeriod    = "period"
)

// Meta identifies the webhook delivery an event came from.
type Meta struct {
	ID   string
	Type string
}

// Event is a verified gateway event decoded into one of the routed variants.
// The set is closed: every variant is handled by an EventHandler method.
type Event interface {
	Meta() Meta
	dispatch(ctx context.Context, h EventHandler) error
}

// EventHandler receives each variant. Adding a variant adds a method here.
type EventHandler interface {
	HandlePaymentIntentSucceeded(ctx context.Context, e PaymentIntentSucceeded) error
	HandlePaymentIntentFailed(ctx context.Context, e PaymentIntentFailed) error
	HandleCheckoutSessionCompleted(ctx context.Context, e CheckoutSessionCompleted) error
	HandleSubscriptionUpdated(ctx context.Context, e SubscriptionUpdated) error
	HandleSubscriptionDeleted(ctx context.Context, e SubscriptionDeleted) error
	HandleInvoicePaymentFailed(ctx context.Context, e InvoicePaymentFailed) error
	HandleIgnored(ctx context.Context, e Ignored) error
}

// Dispatch routes e to the matching handler method.
func Dispatch(ctx context.Context, e Event, h EventHandler) error {
	return e.dispatch(ctx, h)
}

// PaymentIntentSucceeded is payment_intent.succeeded for a booking charge.
type PaymentIntentSucceeded struct {
	Event           Meta
	PaymentIntentID string
	BookingID       string
	UserID          string
	TrainerID       string
	PaidAt          time.Time
}

func (e PaymentIntentSucceeded) Meta() Meta { return e.Event }
func (e PaymentIntentSucceeded) dispatch(ctx context.Context, h EventHandler) error {
	return h.HandlePaymentIntentSucceeded(ctx, e)
}

// PaymentIntentFailed is payment_intent.payment_failed for a booking charge.
type PaymentIntentFailed struct {
	Event           Meta
	PaymentIntentID string
	BookingID       string
	Reason          string
}

func (e PaymentIntentFailed) Meta() Meta { return e.Event }
func (e PaymentIntentFailed) dispatch(ctx context.Context, h EventHandler) error {
	return h.HandlePaymentIntentFailed(ctx, e)
}

// CheckoutSessionCompleted is checkout.session.completed in subscription mode.
type CheckoutSessionCompleted struct {
	Event          Meta
	SessionID      string
	AccountID      string
	CustomerID     string
	SubscriptionID string
	Period         models.BillingPeriod
}

func (e CheckoutSessionCompleted) Meta() Meta { return e.Event }
func (e CheckoutSessionCompleted) dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleCheckoutSessionCompleted(ctx, e)
}

// Subscription is the gateway subscription state carried by lifecycle events.
type Subscription struct {
	ID               string
	CustomerID       string
	AccountID        string
	Status           string
	Period           models.BillingPeriod
	CurrentPeriodEnd *time.Time
}

// SubscriptionUpdated is customer.subscription.created or
// customer.subscription.updated.
type SubscriptionUpdated struct {
	Event        Meta
	Subscription Subscription
}

func (e SubscriptionUpdated) Meta() Meta { return e.Event }
func (e SubscriptionUpdated) dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleSubscriptionUpdated(ctx, e)
}

// SubscriptionDeleted is customer.subscription.deleted.
type SubscriptionDeleted struct {
	Event        Meta
	Subscription Subscription
}

func (e SubscriptionDeleted) Meta() Meta { return e.Event }
func (e SubscriptionDeleted) dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleSubscriptionDeleted(ctx, e)
}

// InvoicePaymentFailed is invoice.payment_failed for a subscription invoice.
type InvoicePaymentFailed struct {
	Event          Meta
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
}

func (e InvoicePaymentFailed) Meta() Meta { return e.Event }
func (e InvoicePaymentFailed) dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleInvoicePaymentFailed(ctx, e)
}

// Ignored is any event this service acknowledges without acting on.
type Ignored struct {
	Event  Meta
	Reason string
}

func (e Ignored) Meta() Meta { return e.Event }
func (e Ignored) dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleIgnored(ctx, e)
}

// Parse decodes evt.Data into its variant. Unknown types become Ignored.
func Parse(evt stripego.Event) (Event, error) {
	meta := Meta{ID: evt.ID, Type: string(evt.Type)}
	var raw json.RawMessage
	if evt.Data != nil {
		raw = evt.Data.Raw
	}

	switch evt.Type {
	case stripego.EventTypePaymentIntentSucceeded:
		var pi paymentIntentObject
		if err := decodeObject(raw, &pi); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		if pi.Metadata[MetadataBookingID] == "" {
			return Ignored{Event: meta, Reason: "payment intent has no booking reference"}, nil
		}
		paidAt := time.Unix(evt.Created, 0).UTC()
		if evt.Created == 0 {
			paidAt = time.Now().UTC()
		}
		return PaymentIntentSucceeded{
			Event:           meta,
			PaymentIntentID: pi.ID,
			BookingID:       pi.Metadata[MetadataBookingID],
			UserID:          pi.Metadata[MetadataUserID],
			TrainerID:       pi.Metadata[MetadataTrainerID],
			PaidAt:          paidAt,
		}, nil

	case stripego.EventTypePaymentIntentPaymentFailed:
		var pi paymentIntentObject
		if err := decodeObject(raw, &pi); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		if pi.Metadata[MetadataBookingID] == "" {
			return Ignored{Event: meta, Reason: "payment intent has no booking reference"}, nil
		}
		reason := ""
		if pi.LastPaymentError != nil {
			reason = pi.LastPaymentError.Message
		}
		return PaymentIntentFailed{
			Event:           meta,
			PaymentIntentID: pi.ID,
			BookingID:       pi.Metadata[MetadataBookingID],
			Reason:          reason,
		}, nil

	case stripego.EventTypeCheckoutSessionCompleted:
		var cs checkoutSessionObject
		if err := decodeObject(raw, &cs); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		if cs.Mode != string(stripego.CheckoutSessionModeSubscription) {
			return Ignored{Event: meta, Reason: "checkout session mode " + cs.Mode}, nil
		}
		accountID := cs.ClientReferenceID
		if accountID == "" {
			accountID = cs.Metadata[MetadataAccountID]
		}
		period, _ := models.ParseBillingPeriod(cs.Metadata[MetadataPeriod])
		return CheckoutSessionCompleted{
			Event:          meta,
			SessionID:      cs.ID,
			AccountID:      accountID,
			CustomerID:     string(cs.Customer),
			SubscriptionID: string(cs.Subscription),
			Period:         period,
		}, nil

	case stripego.EventTypeCustomerSubscriptionCreated,
		stripego.EventTypeCustomerSubscriptionUpdated,
		stripego.EventTypeCustomerSubscriptionDeleted:
		var so subscriptionObject
		if err := decodeObject(raw, &so); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		sub := so.toSubscription()
		if evt.Type == stripego.EventTypeCustomerSubscriptionDeleted {
			return SubscriptionDeleted{Event: meta, Subscription: sub}, nil
		}
		return SubscriptionUpdated{Event: meta, Subscription: sub}, nil

	case stripego.EventTypeInvoicePaymentFailed:
		var inv invoiceObject
		if err := decodeObject(raw, &inv); err != nil {
			return nil, fmt.Errorf("decode %s: %w", meta.Type, err)
		}
		subID := string(inv.Subscription)
		if subID == "" && inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
			subID = string(inv.Parent.SubscriptionDetails.Subscription)
		}
		if subID == "" {
			return Ignored{Event: meta, Reason: "invoice is not linked to a subscription"}, nil
		}
		return InvoicePaymentFailed{
			Event:          meta,
			InvoiceID:      inv.ID,
			CustomerID:     string(inv.Customer),
			SubscriptionID: subID,
		}, nil
	}

	return Ignored{Event: meta, Reason: "unhandled event type"}, nil
}

func decodeObject(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing data.object: %w", models.ErrInvalidArgument)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	return nil
}

// expandableID accepts either an object id or an expanded object with an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type paymentIntentObject struct {
	ID               string            `json:"id"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID               string            `json:"id"`
	Customer         expandableID      `json:"customer"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func (so subscriptionObject) toSubscription() Subscription {
	sub := Subscription{
		ID:         so.ID,
		CustomerID: string(so.Customer),
		AccountID:  so.Metadata[MetadataAccountID],
		Status:     so.Status,
	}
	sub.Period, _ = models.ParseBillingPeriod(so.Metadata[MetadataPeriod])

	end := so.CurrentPeriodEnd
	if len(so.Items.Data) > 0 && so.Items.Data[0].CurrentPeriodEnd > 0 {
		end = so.Items.Data[0].CurrentPeriodEnd
	}
	if end > 0 {
		t := time.Unix(end, 0).UTC()
		sub.CurrentPeriodEnd = &t
	}
	return sub
}

type invoiceObject struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}
