package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

const bookingColumns = `id, user_id, trainer_id, scheduled_at, duration_minutes, location,
	price_cents, currency, notes, status, payment_status, payment_intent_id,
	paid_at, notified_at, created_at, updated_at`

// GetBooking returns the booking with the given id or models.ErrBookingNotFound.
func (s *Store) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get booking %s: %w", id, err)
	}
	return b, nil
}

// ConfirmBookingPayment moves a pending or failed booking to confirmed/paid.
// It reports whether the row changed; when it did not, the current row is
// returned unchanged so the caller can treat the delivery as a replay.
func (s *Store) ConfirmBookingPayment(ctx context.Context, id, paymentIntentID string, paidAt time.Time) (*models.Booking, bool, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx, `
UPDATE bookings
SET status = 'confirmed',
	payment_status = 'paid',
	payment_intent_id = $2,
	paid_at = $3,
	updated_at = now()
WHERE id = $1 AND status IN ('pending_payment', 'payment_failed')
RETURNING `+bookingColumns,
		id, paymentIntentID, paidAt))
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("store: confirm booking %s: %w", id, err)
	}

	current, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// FailBookingPayment moves a pending booking to payment_failed. Any other
// status is left untouched and reported as unchanged.
func (s *Store) FailBookingPayment(ctx context.Context, id, paymentIntentID string) (*models.Booking, bool, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx, `
UPDATE bookings
SET status = 'payment_failed',
	payment_status = 'failed',
	payment_intent_id = $2,
	updated_at = now()
WHERE id = $1 AND status = 'pending_payment'
RETURNING `+bookingColumns,
		id, paymentIntentID))
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("store: fail booking %s: %w", id, err)
	}

	current, err := s.GetBooking(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// QueueBookingNotifications stamps notified_at on a confirmed booking and
// enqueues jobs in the same transaction. It returns false without enqueuing
// when the booking was already stamped.
func (s *Store) QueueBookingNotifications(ctx context.Context, bookingID string, jobs []*models.Job) (bool, error) {
	queued := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE bookings
SET notified_at = now(), updated_at = now()
WHERE id = $1 AND status = 'confirmed' AND notified_at IS NULL`, bookingID)
		if err != nil {
			return fmt.Errorf("store: stamp booking %s notified: %w", bookingID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: stamp booking %s notified: %w", bookingID, err)
		}
		if affected == 0 {
			return nil
		}

		for _, job := range jobs {
			if err := enqueueJob(ctx, tx, job); err != nil {
				return fmt.Errorf("store: %w", err)
			}
		}
		queued = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return queued, nil
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b        models.Booking
		intentID sql.NullString
		paidAt   sql.NullTime
		notified sql.NullTime
	)
	if err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.TrainerID,
		&b.ScheduledAt,
		&b.DurationMinutes,
		&b.Location,
		&b.PriceCents,
		&b.Currency,
		&b.Notes,
		&b.Status,
		&b.PaymentStatus,
		&intentID,
		&paidAt,
		&notified,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.PaymentIntentID = nullStringPtr(intentID)
	b.PaidAt = nullTimePtr(paidAt)
	b.NotifiedAt = nullTimePtr(notified)
	return &b, nil
}
