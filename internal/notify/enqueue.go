package notify

import (
	"context"
	"fmt"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

// Job types handled by the notification worker.
const (
	JobBookingConfirmationEmail = "booking_confirmation_email"
	JobBookingConfirmationPush  = "booking_confirmation_push"
)

const notificationMaxAttempts = 5

// BookingConfirmationJobs returns one job per channel for a confirmed booking.
func BookingConfirmationJobs(bookingID string) []*models.Job {
	payload := func() models.JSONB { return models.JSONB{"booking_id": bookingID} }

	email := models.NewJob(JobBookingConfirmationEmail, payload(), notificationMaxAttempts)
	email.Priority = models.JobPriorityHigh
	push := models.NewJob(JobBookingConfirmationPush, payload(), notificationMaxAttempts)
	push.Priority = models.JobPriorityHigh
	return []*models.Job{email, push}
}

// NotificationQueue stamps a booking as notified and enqueues its jobs in one step.
type NotificationQueue interface {
	QueueBookingNotifications(ctx context.Context, bookingID string, jobs []*models.Job) (bool, error)
}

// Enqueuer hands booking confirmations to the job queue instead of sending
// them inline, so delivery never holds up the webhook response.
type Enqueuer struct {
	queue NotificationQueue
}

// NewEnqueuer creates an Enqueuer.
func NewEnqueuer(queue NotificationQueue) *Enqueuer {
	return &Enqueuer{queue: queue}
}

// BookingConfirmed queues the email and push jobs for b. It reports false when
// another delivery already queued them.
func (e *Enqueuer) BookingConfirmed(ctx context.Context, b *models.Booking) (bool, error) {
	queued, err := e.queue.QueueBookingNotifications(ctx, b.ID, BookingConfirmationJobs(b.ID))
	if err != nil {
		return false, fmt.Errorf("notify: queue confirmation for %s: %w", b.ID, err)
	}
	return queued, nil
}
