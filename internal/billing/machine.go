// Package billing owns the recurring-subscription lifecycle of an account:
// gateway customer mapping, checkout and portal sessions, and the status
// sync driven by subscription webhooks.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
	"github.com/PortNumber53/fitmarket-payments/internal/stripe"
)

// Repository persists one subscription row per account.
type Repository interface {
	GetSubscription(ctx context.Context, accountID string) (*models.Subscription, error)
	GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error)
	SaveCustomerID(ctx context.Context, accountID, customerID string) (string, error)
	SaveSubscription(ctx context.Context, sub *models.Subscription) (bool, error)
}

// Gateway is the outbound subset of the Stripe client used here.
type Gateway interface {
	CreateCustomer(ctx context.Context, accountID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, req stripe.CheckoutSessionRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// Config carries checkout defaults.
type Config struct {
	Prices          map[models.BillingPeriod]string
	TrialDays       int
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// Machine implements the subscription operations.
type Machine struct {
	repo    Repository
	gateway Gateway
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewMachine wires a Machine. gateway may be nil when Stripe is not
// configured; the outbound operations then fail with ErrMissingConfiguration.
func NewMachine(repo Repository, gateway Gateway, cfg Config, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{repo: repo, gateway: gateway, cfg: cfg, logger: logger, now: time.Now}
}

// CheckoutRequest is the input of StartCheckout.
type CheckoutRequest struct {
	AccountID  string
	Email      string
	Period     string
	SuccessURL string
	CancelURL  string
}

// StartCheckout creates a subscription checkout session for the requested
// period and returns its redirect URL.
func (m *Machine) StartCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	if m.gateway == nil {
		return "", fmt.Errorf("billing: checkout: stripe: %w", models.ErrMissingConfiguration)
	}
	if req.AccountID == "" {
		return "", fmt.Errorf("billing: checkout: account: %w", models.ErrInvalidArgument)
	}
	period, ok := models.ParseBillingPeriod(req.Period)
	if !ok {
		return "", fmt.Errorf("billing: checkout: period %q: %w", req.Period, models.ErrInvalidArgument)
	}
	priceID := m.cfg.Prices[period]
	if priceID == "" {
		return "", fmt.Errorf("billing: checkout: price for %s: %w", period, models.ErrMissingConfiguration)
	}

	successURL := firstNonEmpty(req.SuccessURL, m.cfg.SuccessURL)
	cancelURL := firstNonEmpty(req.CancelURL, m.cfg.CancelURL)
	if successURL == "" || cancelURL == "" {
		return "", fmt.Errorf("billing: checkout: redirect urls: %w", models.ErrInvalidArgument)
	}

	customerID, err := m.resolveCustomer(ctx, req.AccountID, req.Email)
	if err != nil {
		return "", err
	}

	url, err := m.gateway.CreateCheckoutSession(ctx, stripe.CheckoutSessionRequest{
		CustomerID: customerID,
		AccountID:  req.AccountID,
		PriceID:    priceID,
		TrialDays:  m.cfg.TrialDays,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata: map[string]string{
			stripe.MetadataAccountID: req.AccountID,
			stripe.MetadataPeriod:    string(period),
		},
	})
	if err != nil {
		return "", fmt.Errorf("billing: checkout: %w", err)
	}

	m.logger.Info("checkout session created",
		slog.String("account_id", req.AccountID),
		slog.String("period", string(period)))
	return url, nil
}

// resolveCustomer returns the persisted gateway customer for an account,
// creating and persisting one on first use.
func (m *Machine) resolveCustomer(ctx context.Context, accountID, email string) (string, error) {
	sub, err := m.repo.GetSubscription(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("billing: resolve customer: %w", err)
	}
	if sub != nil && sub.StripeCustomerID != "" {
		return sub.StripeCustomerID, nil
	}

	created, err := m.gateway.CreateCustomer(ctx, accountID, email)
	if err != nil {
		return "", fmt.Errorf("billing: resolve customer: %w", err)
	}
	stored, err := m.repo.SaveCustomerID(ctx, accountID, created)
	if err != nil {
		return "", fmt.Errorf("billing: resolve customer: %w", err)
	}
	if stored != created {
		m.logger.Warn("concurrent customer creation, keeping first mapping",
			slog.String("account_id", accountID),
			slog.String("kept", stored),
			slog.String("discarded", created))
	}
	return stored, nil
}

// OpenPortal returns a billing portal URL for an account with a customer.
func (m *Machine) OpenPortal(ctx context.Context, accountID, returnURL string) (string, error) {
	if m.gateway == nil {
		return "", fmt.Errorf("billing: portal: stripe: %w", models.ErrMissingConfiguration)
	}
	sub, err := m.repo.GetSubscription(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("billing: portal: %w", err)
	}
	if sub == nil || sub.StripeCustomerID == "" {
		return "", fmt.Errorf("billing: portal: %w", models.ErrSubscriptionNotFound)
	}

	url, err := m.gateway.CreatePortalSession(ctx, sub.StripeCustomerID, firstNonEmpty(returnURL, m.cfg.PortalReturnURL))
	if err != nil {
		return "", fmt.Errorf("billing: portal: %w", err)
	}
	return url, nil
}

// Activate applies a completed subscription checkout.
func (m *Machine) Activate(ctx context.Context, e stripe.CheckoutSessionCompleted) error {
	if e.SubscriptionID == "" {
		return fmt.Errorf("billing: activate: subscription id: %w", models.ErrInvalidArgument)
	}

	accountID := e.AccountID
	var existing *models.Subscription
	var err error
	if accountID != "" {
		existing, err = m.repo.GetSubscription(ctx, accountID)
	} else {
		existing, err = m.repo.GetSubscriptionByCustomerID(ctx, e.CustomerID)
		if existing != nil {
			accountID = existing.UserID
		}
	}
	if err != nil {
		return fmt.Errorf("billing: activate: %w", err)
	}
	if accountID == "" {
		return fmt.Errorf("billing: activate customer %s: %w", e.CustomerID, models.ErrSubscriptionNotFound)
	}

	sub := &models.Subscription{
		UserID:               accountID,
		Period:               e.Period,
		StripeCustomerID:     e.CustomerID,
		StripeSubscriptionID: e.SubscriptionID,
		Status:               models.SubscriptionActive,
	}
	switch {
	case existing != nil && existing.StripeSubscriptionID == e.SubscriptionID && existing.Status != "":
		// subscription events already drive this row
		sub.Status = existing.Status
	case m.cfg.TrialDays > 0:
		// every checkout starts a trial; subscription events replace the estimate
		trialEnd := m.now().UTC().AddDate(0, 0, m.cfg.TrialDays)
		sub.Status = models.SubscriptionTrialing
		sub.CurrentPeriodEnd = &trialEnd
	}
	sub.Tier = tierFor(sub.Status)
	return m.save(ctx, sub, e.Event)
}

// Sync applies customer.subscription.created and customer.subscription.updated.
func (m *Machine) Sync(ctx context.Context, e stripe.SubscriptionUpdated) error {
	return m.apply(ctx, e.Event, e.Subscription, MapGatewayStatus(e.Subscription.Status))
}

// Cancel applies customer.subscription.deleted. canceled is final for the
// subscription id.
func (m *Machine) Cancel(ctx context.Context, e stripe.SubscriptionDeleted) error {
	return m.apply(ctx, e.Event, e.Subscription, models.SubscriptionCanceled)
}

// MarkPastDue applies invoice.payment_failed for a subscription invoice.
func (m *Machine) MarkPastDue(ctx context.Context, e stripe.InvoicePaymentFailed) error {
	existing, err := m.repo.GetSubscriptionByCustomerID(ctx, e.CustomerID)
	if err != nil {
		return fmt.Errorf("billing: past due: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("billing: past due customer %s: %w", e.CustomerID, models.ErrSubscriptionNotFound)
	}
	if existing.StripeSubscriptionID != e.SubscriptionID {
		m.logger.Info("invoice for untracked subscription ignored",
			slog.String("event_id", e.Event.ID),
			slog.String("account_id", existing.UserID),
			slog.String("subscription_id", e.SubscriptionID))
		return nil
	}
	if !existing.Status.GrantsAccess() {
		return nil
	}

	sub := *existing
	sub.Status = models.SubscriptionPastDue
	sub.Tier = tierFor(sub.Status)
	return m.save(ctx, &sub, e.Event)
}

func (m *Machine) apply(ctx context.Context, meta stripe.Meta, gs stripe.Subscription, status models.SubscriptionStatus) error {
	existing, accountID, err := m.resolveAccount(ctx, gs)
	if err != nil {
		return err
	}

	if existing != nil && existing.StripeSubscriptionID != "" &&
		existing.StripeSubscriptionID != gs.ID && !existing.Status.Replaceable() {
		m.logger.Info("event for superseded subscription ignored",
			slog.String("event_id", meta.ID),
			slog.String("account_id", accountID),
			slog.String("tracked", existing.StripeSubscriptionID),
			slog.String("subscription_id", gs.ID))
		return nil
	}

	period := gs.Period
	if period == "" && existing != nil {
		period = existing.Period
	}
	sub := &models.Subscription{
		UserID:               accountID,
		Period:               period,
		StripeCustomerID:     gs.CustomerID,
		StripeSubscriptionID: gs.ID,
		Status:               status,
		Tier:                 tierFor(status),
		CurrentPeriodEnd:     gs.CurrentPeriodEnd,
	}
	return m.save(ctx, sub, meta)
}

func (m *Machine) resolveAccount(ctx context.Context, gs stripe.Subscription) (*models.Subscription, string, error) {
	if gs.AccountID != "" {
		existing, err := m.repo.GetSubscription(ctx, gs.AccountID)
		if err != nil {
			return nil, "", fmt.Errorf("billing: resolve account: %w", err)
		}
		return existing, gs.AccountID, nil
	}

	existing, err := m.repo.GetSubscriptionByCustomerID(ctx, gs.CustomerID)
	if err != nil {
		return nil, "", fmt.Errorf("billing: resolve account: %w", err)
	}
	if existing == nil {
		return nil, "", fmt.Errorf("billing: subscription %s: %w", gs.ID, models.ErrSubscriptionNotFound)
	}
	return existing, existing.UserID, nil
}

func (m *Machine) save(ctx context.Context, sub *models.Subscription, meta stripe.Meta) error {
	applied, err := m.repo.SaveSubscription(ctx, sub)
	if err != nil {
		return fmt.Errorf("billing: save subscription: %w", err)
	}
	if !applied {
		m.logger.Info("canceled subscription left unchanged",
			slog.String("event_id", meta.ID),
			slog.String("account_id", sub.UserID),
			slog.String("subscription_id", sub.StripeSubscriptionID))
		return nil
	}
	m.logger.Info("subscription updated",
		slog.String("event_id", meta.ID),
		slog.String("account_id", sub.UserID),
		slog.String("status", string(sub.Status)))
	return nil
}

// Status returns the entitlement read model for an account.
func (m *Machine) Status(ctx context.Context, accountID string) (models.SubscriptionView, error) {
	sub, err := m.repo.GetSubscription(ctx, accountID)
	if err != nil {
		return models.SubscriptionView{}, fmt.Errorf("billing: status: %w", err)
	}
	return sub.View(), nil
}

// MapGatewayStatus translates a Stripe subscription status.
func MapGatewayStatus(raw string) models.SubscriptionStatus {
	switch raw {
	case "trialing":
		return models.SubscriptionTrialing
	case "active":
		return models.SubscriptionActive
	case "past_due", "unpaid":
		return models.SubscriptionPastDue
	case "canceled", "incomplete_expired":
		return models.SubscriptionCanceled
	default:
		return models.SubscriptionInactive
	}
}

func tierFor(status models.SubscriptionStatus) string {
	if status.Replaceable() {
		return models.TierFree
	}
	return models.TierPro
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
