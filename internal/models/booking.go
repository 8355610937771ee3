package models

import "time"

// BookingStatus is the lifecycle state of a paid session.
type BookingStatus string

const (
	BookingPendingPayment BookingStatus = "pending_payment"
	BookingConfirmed      BookingStatus = "confirmed"
	BookingPaymentFailed  BookingStatus = "payment_failed"
	BookingCanceled       BookingStatus = "canceled"
)

// PaymentStatus tracks the charge attached to a booking.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
	PaymentFailed PaymentStatus = "failed"
)

// Booking is a scheduled paid session between a payer and a trainer.
type Booking struct {
	ID              string        `json:"id"`
	UserID          string        `json:"userId"`
	TrainerID       string        `json:"trainerId"`
	ScheduledAt     time.Time     `json:"scheduledAt"`
	DurationMinutes int           `json:"durationMinutes"`
	Location        string        `json:"location"`
	PriceCents      int64         `json:"priceCents"`
	Currency        string        `json:"currency"`
	Notes           string        `json:"notes,omitempty"`
	Status          BookingStatus `json:"status"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	PaymentIntentID *string       `json:"paymentIntentId,omitempty"`
	PaidAt          *time.Time    `json:"paidAt,omitempty"`
	NotifiedAt      *time.Time    `json:"notifiedAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// EndsAt returns the scheduled end of the session.
func (b *Booking) EndsAt() time.Time {
	return b.ScheduledAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
}

// NeedsConfirmationNotice reports whether the confirmation fan-out for this
// booking has not been queued yet.
func (b *Booking) NeedsConfirmationNotice() bool {
	return b.Status == BookingConfirmed && b.NotifiedAt == nil
}

// CanView reports whether the given account is a party to the booking.
func (b *Booking) CanView(accountID string) bool {
	return accountID != "" && (accountID == b.UserID || accountID == b.TrainerID)
}
