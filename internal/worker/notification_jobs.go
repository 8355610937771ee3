package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
	"github.com/PortNumber53/fitmarket-payments/internal/notify"
)

// Notifier is the delivery side of the notification jobs. *notify.Dispatcher implements it.
type Notifier interface {
	SendBookingConfirmation(ctx context.Context, bookingID string) error
	SendBookingConfirmationPush(ctx context.Context, bookingID string) (notify.PushResult, error)
}

// RegisterNotificationJobs registers the booking confirmation email and push handlers
func RegisterNotificationJobs(w *Worker, n Notifier) {
	w.RegisterHandler(notify.JobBookingConfirmationEmail, confirmationEmailHandler(n))
	w.RegisterHandler(notify.JobBookingConfirmationPush, confirmationPushHandler(n))

	w.logger.Info("registered notification job handlers",
		slog.String("email", notify.JobBookingConfirmationEmail),
		slog.String("push", notify.JobBookingConfirmationPush))
}

func confirmationEmailHandler(n Notifier) Handler {
	return func(ctx context.Context, job *models.Job) error {
		bookingID, ok := job.Payload.String("booking_id")
		if !ok {
			return Permanent(fmt.Errorf("missing booking_id in payload"))
		}
		return classify(n.SendBookingConfirmation(ctx, bookingID))
	}
}

func confirmationPushHandler(n Notifier) Handler {
	return func(ctx context.Context, job *models.Job) error {
		bookingID, ok := job.Payload.String("booking_id")
		if !ok {
			return Permanent(fmt.Errorf("missing booking_id in payload"))
		}
		_, err := n.SendBookingConfirmationPush(ctx, bookingID)
		return classify(err)
	}
}

// classify marks errors that another attempt cannot fix.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrMissingConfiguration),
		errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrInvalidArgument):
		return Permanent(err)
	default:
		return err
	}
}
