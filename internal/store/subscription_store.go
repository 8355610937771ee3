package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

const subscriptionColumns = `user_id, period, stripe_customer_id, stripe_subscription_id,
	status, tier, current_period_end, created_at, updated_at`

// GetSubscription returns the subscription row for an account, or nil when
// the account has never been mapped to a gateway customer.
func (s *Store) GetSubscription(ctx context.Context, accountID string) (*models.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get subscription: %w", err)
	}
	return sub, nil
}

// GetSubscriptionByCustomerID looks an account up by its gateway customer.
func (s *Store) GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	if customerID == "" {
		return nil, nil
	}
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE stripe_customer_id = $1
ORDER BY updated_at DESC
LIMIT 1`, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get subscription by customer: %w", err)
	}
	return sub, nil
}

// SaveCustomerID maps an account to a gateway customer. The first persisted
// mapping wins; the returned id is the one on record after the call.
func (s *Store) SaveCustomerID(ctx context.Context, accountID, customerID string) (string, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, `
INSERT INTO subscriptions (user_id, stripe_customer_id, status, tier)
VALUES ($1, $2, 'inactive', 'free')
ON CONFLICT (user_id) DO UPDATE SET
	stripe_customer_id = COALESCE(NULLIF(subscriptions.stripe_customer_id, ''), EXCLUDED.stripe_customer_id),
	updated_at = now()
RETURNING stripe_customer_id`, accountID, customerID).Scan(&stored)
	if err != nil {
		return "", fmt.Errorf("store: save customer id: %w", err)
	}
	return stored, nil
}

// SaveSubscription upserts subscription state for sub.UserID. A row already
// canceled for the same gateway subscription id is never overwritten; the
// returned bool reports whether the write applied.
func (s *Store) SaveSubscription(ctx context.Context, sub *models.Subscription) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO subscriptions (
	user_id, period, stripe_customer_id, stripe_subscription_id,
	status, tier, current_period_end
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO UPDATE SET
	period = COALESCE(NULLIF(EXCLUDED.period, ''), subscriptions.period),
	stripe_customer_id = COALESCE(NULLIF(subscriptions.stripe_customer_id, ''), EXCLUDED.stripe_customer_id),
	stripe_subscription_id = EXCLUDED.stripe_subscription_id,
	status = EXCLUDED.status,
	tier = EXCLUDED.tier,
	current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
	updated_at = now()
WHERE NOT (
	subscriptions.stripe_subscription_id = EXCLUDED.stripe_subscription_id
	AND subscriptions.status = 'canceled'
)`,
		sub.UserID,
		string(sub.Period),
		sub.StripeCustomerID,
		sub.StripeSubscriptionID,
		string(sub.Status),
		sub.Tier,
		sub.CurrentPeriodEnd,
	)
	if err != nil {
		return false, fmt.Errorf("store: save subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: save subscription: %w", err)
	}
	return affected > 0, nil
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub       models.Subscription
		periodEnd sql.NullTime
	)
	if err := row.Scan(
		&sub.UserID,
		&sub.Period,
		&sub.StripeCustomerID,
		&sub.StripeSubscriptionID,
		&sub.Status,
		&sub.Tier,
		&periodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.CurrentPeriodEnd = nullTimePtr(periodEnd)
	return &sub, nil
}
