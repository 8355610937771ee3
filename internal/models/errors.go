package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the webhook path and the client RPCs. Callers
// classify with errors.Is; wrappers add context with fmt.Errorf("...: %w").
var (
	// ErrInvalidSignature is returned when a webhook payload fails gateway
	// signature verification. Its content is never trusted.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMissingConfiguration is returned when gateway, mail, or push
	// credentials are absent.
	ErrMissingConfiguration = errors.New("missing configuration")

	// ErrInvalidArgument marks missing or malformed RPC fields.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks a reference to a record that does not exist.
	ErrNotFound = errors.New("not found")

	ErrBookingNotFound      = fmt.Errorf("booking %w", ErrNotFound)
	ErrSubscriptionNotFound = fmt.Errorf("subscription %w", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)

	// ErrDeliveryFailure marks a notification channel failure. It never fails
	// the state transition that triggered the notification.
	ErrDeliveryFailure = errors.New("notification delivery failed")

	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPermissionDenied = errors.New("permission denied")
)
