// Package webhook routes verified gateway events to the booking and
// subscription state machines, acknowledging each event id once.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PortNumber53/fitmarket-payments/internal/booking"
	"github.com/PortNumber53/fitmarket-payments/internal/metrics"
	"github.com/PortNumber53/fitmarket-payments/internal/models"
	"github.com/PortNumber53/fitmarket-payments/internal/stripe"
)

// Outcome describes how an event was settled. Every outcome is acknowledged
// to the gateway; only a returned error asks it to redeliver.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeError     Outcome = "error"
)

// Ledger remembers which event ids have been handled.
type Ledger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	RecordEvent(ctx context.Context, eventID, eventType string) error
}

// Bookings is the booking side of the routing table.
type Bookings interface {
	MarkPaid(ctx context.Context, in booking.PaymentSucceeded) (*booking.Result, error)
	MarkFailed(ctx context.Context, in booking.PaymentFailed) (*booking.Result, error)
}

// Subscriptions is the subscription side of the routing table.
type Subscriptions interface {
	Activate(ctx context.Context, e stripe.CheckoutSessionCompleted) error
	Sync(ctx context.Context, e stripe.SubscriptionUpdated) error
	Cancel(ctx context.Context, e stripe.SubscriptionDeleted) error
	MarkPastDue(ctx context.Context, e stripe.InvoicePaymentFailed) error
}

// Dispatcher implements stripe.EventHandler.
type Dispatcher struct {
	ledger        Ledger
	bookings      Bookings
	subscriptions Subscriptions
	rec           metrics.Recorder
	logger        *slog.Logger
}

var _ stripe.EventHandler = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. ledger may be nil, in which case
// deduplication relies on the state machines alone.
func NewDispatcher(ledger Ledger, bookings Bookings, subscriptions Subscriptions, rec metrics.Recorder, logger *slog.Logger) *Dispatcher {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		ledger:        ledger,
		bookings:      bookings,
		subscriptions: subscriptions,
		rec:           rec,
		logger:        logger,
	}
}

// Handle settles one verified event.
func (d *Dispatcher) Handle(ctx context.Context, e stripe.Event) (Outcome, error) {
	meta := e.Meta()
	log := d.logger.With(slog.String("event_id", meta.ID), slog.String("event_type", meta.Type))

	if d.ledger != nil && meta.ID != "" {
		seen, err := d.ledger.IsEventProcessed(ctx, meta.ID)
		if err != nil {
			d.rec.RecordWebhookEvent(meta.Type, string(OutcomeError))
			return OutcomeError, fmt.Errorf("webhook: ledger lookup: %w", err)
		}
		if seen {
			log.Info("duplicate event acknowledged")
			d.rec.RecordWebhookEvent(meta.Type, string(OutcomeDuplicate))
			return OutcomeDuplicate, nil
		}
	}

	outcome := OutcomeProcessed
	if _, ok := e.(stripe.Ignored); ok {
		outcome = OutcomeIgnored
	}

	if err := stripe.Dispatch(ctx, e, d); err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Error("event dispatch failed", slog.Any("error", err))
			d.rec.RecordWebhookEvent(meta.Type, string(OutcomeError))
			return OutcomeError, err
		}
		log.Warn("event references unknown record", slog.Any("error", err))
		outcome = OutcomeNotFound
	}

	if outcome != OutcomeIgnored {
		d.record(ctx, log, meta)
	}
	d.rec.RecordWebhookEvent(meta.Type, string(outcome))
	return outcome, nil
}

func (d *Dispatcher) record(ctx context.Context, log *slog.Logger, meta stripe.Meta) {
	if d.ledger == nil || meta.ID == "" {
		return
	}
	if err := d.ledger.RecordEvent(context.WithoutCancel(ctx), meta.ID, meta.Type); err != nil {
		log.Error("record processed event", slog.Any("error", err))
	}
}

func (d *Dispatcher) HandlePaymentIntentSucceeded(ctx context.Context, e stripe.PaymentIntentSucceeded) error {
	_, err := d.bookings.MarkPaid(ctx, booking.PaymentSucceeded{
		BookingID:       e.BookingID,
		PaymentIntentID: e.PaymentIntentID,
		PaidAt:          e.PaidAt,
	})
	return err
}

func (d *Dispatcher) HandlePaymentIntentFailed(ctx context.Context, e stripe.PaymentIntentFailed) error {
	_, err := d.bookings.MarkFailed(ctx, booking.PaymentFailed{
		BookingID:       e.BookingID,
		PaymentIntentID: e.PaymentIntentID,
		Reason:          e.Reason,
	})
	return err
}

func (d *Dispatcher) HandleCheckoutSessionCompleted(ctx context.Context, e stripe.CheckoutSessionCompleted) error {
	return d.subscriptions.Activate(ctx, e)
}

func (d *Dispatcher) HandleSubscriptionUpdated(ctx context.Context, e stripe.SubscriptionUpdated) error {
	return d.subscriptions.Sync(ctx, e)
}

func (d *Dispatcher) HandleSubscriptionDeleted(ctx context.Context, e stripe.SubscriptionDeleted) error {
	return d.subscriptions.Cancel(ctx, e)
}

func (d *Dispatcher) HandleInvoicePaymentFailed(ctx context.Context, e stripe.InvoicePaymentFailed) error {
	return d.subscriptions.MarkPastDue(ctx, e)
}

func (d *Dispatcher) HandleIgnored(_ context.Context, e stripe.Ignored) error {
	d.logger.Info("event ignored",
		slog.String("event_id", e.Event.ID),
		slog.String("event_type", e.Event.Type),
		slog.String("reason", e.Reason))
	return nil
}
