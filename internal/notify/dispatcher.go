// Package notify delivers booking confirmations by email and mobile push.
// Each channel runs as its own queued job so one failing provider never
// affects the other or the booking transition that triggered it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/PortNumber53/fitmarket-payments/internal/metrics"
	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

// ErrInvalidToken is returned by a PushSender when the provider reports the
// device token as no longer deliverable.
var ErrInvalidToken = errors.New("invalid device token")

// Directory resolves the records a notification needs.
type Directory interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListDeviceTokens(ctx context.Context, accountID string) ([]models.DeviceToken, error)
	DeleteDeviceToken(ctx context.Context, accountID, key, token string) error
}

// EmailSender delivers one rendered email.
type EmailSender interface {
	Send(ctx context.Context, email Email) error
}

// PushSender delivers one push message to one device token.
type PushSender interface {
	Send(ctx context.Context, token string, msg Message) error
}

// Message is a push notification payload.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// PushResult counts per-token outcomes of a fan-out.
type PushResult struct {
	SuccessCount int `json:"successCount"`
	FailureCount int `json:"failureCount"`
	Pruned       int `json:"-"`
}

const defaultPushConcurrency = 4

// Dispatcher sends notifications. Either sender may be nil when the channel
// is not configured.
type Dispatcher struct {
	dir     Directory
	email   EmailSender
	push    PushSender
	rec     metrics.Recorder
	logger  *slog.Logger
	from    string
	workers int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEmail enables the email channel. from is used as the invite organizer.
func WithEmail(sender EmailSender, from string) Option {
	return func(d *Dispatcher) {
		d.email = sender
		d.from = from
	}
}

// WithPush enables the push channel.
func WithPush(sender PushSender) Option {
	return func(d *Dispatcher) { d.push = sender }
}

// WithRecorder reports delivery outcomes.
func WithRecorder(rec metrics.Recorder) Option {
	return func(d *Dispatcher) { d.rec = rec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher creates a Dispatcher over dir.
func NewDispatcher(dir Directory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		dir:     dir,
		rec:     metrics.Nop{},
		logger:  slog.Default(),
		workers: defaultPushConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SendBookingConfirmation emails the payer a confirmation with a calendar
// invite. A payer without an email address is skipped with a warning.
func (d *Dispatcher) SendBookingConfirmation(ctx context.Context, bookingID string) error {
	if d.email == nil {
		return fmt.Errorf("notify: email: %w", models.ErrMissingConfiguration)
	}
	log := d.logger.With(slog.String("booking_id", bookingID), slog.String("channel", "email"))

	b, err := d.dir.GetBooking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("notify: email: %w", err)
	}
	payer, err := d.dir.GetUser(ctx, b.UserID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("notify: email: payer: %w", err)
	}
	if payer == nil || payer.Email == nil || *payer.Email == "" {
		log.Warn("payer has no email address, confirmation skipped", slog.String("account_id", b.UserID))
		d.rec.RecordNotification("email", "skipped")
		return nil
	}

	trainer, err := d.dir.GetUser(ctx, b.TrainerID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("notify: email: trainer: %w", err)
	}

	email, err := RenderBookingConfirmation(b, payer, trainer, d.from)
	if err != nil {
		return fmt.Errorf("notify: email: render: %w", err)
	}
	if err := d.email.Send(ctx, email); err != nil {
		d.rec.RecordNotification("email", "failed")
		return fmt.Errorf("%w: email to %s: %v", models.ErrDeliveryFailure, b.UserID, err)
	}

	d.rec.RecordNotification("email", "sent")
	log.Info("confirmation email sent", slog.String("account_id", b.UserID))
	return nil
}

// SendBookingConfirmationPush pushes the confirmation to every device of the
// payer. It fails only when nothing was delivered and a retry could help.
func (d *Dispatcher) SendBookingConfirmationPush(ctx context.Context, bookingID string) (PushResult, error) {
	b, err := d.dir.GetBooking(ctx, bookingID)
	if err != nil {
		return PushResult{}, fmt.Errorf("notify: push: %w", err)
	}

	trainerName := "your trainer"
	if trainer, err := d.dir.GetUser(ctx, b.TrainerID); err == nil && trainer.DisplayName != nil && *trainer.DisplayName != "" {
		trainerName = *trainer.DisplayName
	}

	res, err := d.PushToAccount(ctx, b.UserID, Message{
		Title: "Booking confirmed",
		Body:  fmt.Sprintf("Your session with %s on %s is confirmed.", trainerName, b.ScheduledAt.Format("Mon Jan 2 at 15:04")),
		Data: map[string]string{
			"type":      "booking_confirmed",
			"bookingId": b.ID,
		},
	})
	if err != nil {
		return res, err
	}
	if res.SuccessCount == 0 && res.FailureCount > res.Pruned {
		return res, fmt.Errorf("%w: push to %s: %d transient failures", models.ErrDeliveryFailure, b.UserID, res.FailureCount-res.Pruned)
	}
	return res, nil
}

// PushToAccount sends msg to each token of accountID, one message per token,
// and removes tokens the provider rejects. No tokens is not an error.
func (d *Dispatcher) PushToAccount(ctx context.Context, accountID string, msg Message) (PushResult, error) {
	if d.push == nil {
		return PushResult{}, fmt.Errorf("notify: push: %w", models.ErrMissingConfiguration)
	}
	log := d.logger.With(slog.String("account_id", accountID), slog.String("channel", "push"))

	tokens, err := d.dir.ListDeviceTokens(ctx, accountID)
	if err != nil {
		return PushResult{}, fmt.Errorf("notify: push: %w", err)
	}
	if len(tokens) == 0 {
		log.Info("no device tokens registered")
		return PushResult{}, nil
	}

	var sent, failed, pruned atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, tok := range tokens {
		g.Go(func() error {
			err := d.push.Send(gctx, tok.Token, msg)
			if err == nil {
				sent.Add(1)
				d.rec.RecordNotification("push", "sent")
				return nil
			}

			failed.Add(1)
			d.rec.RecordNotification("push", "failed")
			if !errors.Is(err, ErrInvalidToken) {
				log.Warn("push delivery failed", slog.String("token_key", tok.Key), slog.Any("error", err))
				return nil
			}

			// the token is dead; drop it so later fan-outs skip it
			if derr := d.dir.DeleteDeviceToken(context.WithoutCancel(gctx), accountID, tok.Key, tok.Token); derr != nil {
				log.Error("prune device token", slog.String("token_key", tok.Key), slog.Any("error", derr))
				return nil
			}
			pruned.Add(1)
			d.rec.RecordTokenPruned()
			log.Info("pruned invalid device token", slog.String("token_key", tok.Key))
			return nil
		})
	}
	_ = g.Wait()

	res := PushResult{
		SuccessCount: int(sent.Load()),
		FailureCount: int(failed.Load()),
		Pruned:       int(pruned.Load()),
	}
	log.Info("push fan-out finished",
		slog.Int("success", res.SuccessCount),
		slog.Int("failure", res.FailureCount),
		slog.Int("pruned", res.Pruned))
	return res, nil
}
