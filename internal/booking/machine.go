// Package booking owns the payment-driven lifecycle of a booking:
// pending_payment moves to confirmed or payment_failed, and confirmed is
// never undone by a later payment event.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

// Repository is the persistence the machine drives. Each transition is a
// single conditional write that reports whether the row changed.
type Repository interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ConfirmBookingPayment(ctx context.Context, id, paymentIntentID string, paidAt time.Time) (*models.Booking, bool, error)
	FailBookingPayment(ctx context.Context, id, paymentIntentID string) (*models.Booking, bool, error)
}

// Notifier schedules the confirmation fan-out for a booking. It returns false
// when the fan-out had already been scheduled by an earlier delivery.
type Notifier interface {
	BookingConfirmed(ctx context.Context, b *models.Booking) (bool, error)
}

// PaymentSucceeded is the input of MarkPaid.
type PaymentSucceeded struct {
	BookingID       string
	PaymentIntentID string
	PaidAt          time.Time
}

// PaymentFailed is the input of MarkFailed.
type PaymentFailed struct {
	BookingID       string
	PaymentIntentID string
	Reason          string
}

// Result describes what a transition did.
type Result struct {
	Booking  *models.Booking
	Changed  bool
	Notified bool
}

// Machine applies payment events to bookings.
type Machine struct {
	repo     Repository
	notifier Notifier
	logger   *slog.Logger
}

// NewMachine wires a Machine. A nil logger falls back to slog.Default.
func NewMachine(repo Repository, notifier Notifier, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{repo: repo, notifier: notifier, logger: logger}
}

// MarkPaid confirms the booking and schedules confirmation notices once.
// Redeliveries converge on the same confirmed row and schedule nothing.
func (m *Machine) MarkPaid(ctx context.Context, in PaymentSucceeded) (*Result, error) {
	if in.BookingID == "" || in.PaymentIntentID == "" {
		return nil, fmt.Errorf("booking: mark paid: %w", models.ErrInvalidArgument)
	}

	b, changed, err := m.repo.ConfirmBookingPayment(ctx, in.BookingID, in.PaymentIntentID, in.PaidAt)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			m.logger.Warn("payment succeeded for unknown booking",
				slog.String("booking_id", in.BookingID),
				slog.String("payment_intent_id", in.PaymentIntentID))
		}
		return nil, err
	}

	res := &Result{Booking: b, Changed: changed}
	if !changed {
		m.logger.Info("booking payment replay",
			slog.String("booking_id", b.ID),
			slog.String("status", string(b.Status)))
	}

	if !b.NeedsConfirmationNotice() {
		return res, nil
	}

	if m.notifier == nil {
		return res, nil
	}
	notified, err := m.notifier.BookingConfirmed(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("booking: schedule confirmation for %s: %w", b.ID, err)
	}
	res.Notified = notified

	m.logger.Info("booking confirmed",
		slog.String("booking_id", b.ID),
		slog.Bool("changed", changed),
		slog.Bool("notified", notified))
	return res, nil
}

// MarkFailed records a failed charge on a pending booking. Bookings in any
// other status are left as they are.
func (m *Machine) MarkFailed(ctx context.Context, in PaymentFailed) (*Result, error) {
	if in.BookingID == "" {
		return nil, fmt.Errorf("booking: mark failed: %w", models.ErrInvalidArgument)
	}

	b, changed, err := m.repo.FailBookingPayment(ctx, in.BookingID, in.PaymentIntentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			m.logger.Warn("payment failed for unknown booking",
				slog.String("booking_id", in.BookingID),
				slog.String("payment_intent_id", in.PaymentIntentID))
		}
		return nil, err
	}

	m.logger.Info("booking payment failed",
		slog.String("booking_id", b.ID),
		slog.String("status", string(b.Status)),
		slog.Bool("changed", changed),
		slog.String("reason", in.Reason))
	return &Result{Booking: b, Changed: changed}, nil
}

// Get returns a booking to one of its two parties.
func (m *Machine) Get(ctx context.Context, bookingID, callerID string) (*models.Booking, error) {
	if bookingID == "" {
		return nil, fmt.Errorf("booking: get: %w", models.ErrInvalidArgument)
	}
	b, err := m.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.CanView(callerID) {
		return nil, fmt.Errorf("booking: get %s: %w", bookingID, models.ErrPermissionDenied)
	}
	return b, nil
}
