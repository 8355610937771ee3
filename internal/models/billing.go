package models

import "time"

// SubscriptionStatus is the internal recurring-billing state.
type SubscriptionStatus string

const (
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionInactive SubscriptionStatus = "inactive"
)

// SubscriptionStatuses lists every internal status.
var SubscriptionStatuses = []SubscriptionStatus{
	SubscriptionTrialing,
	SubscriptionActive,
	SubscriptionPastDue,
	SubscriptionCanceled,
	SubscriptionInactive,
}

// GrantsAccess is the single source of truth for paid feature access.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

// Replaceable reports whether a new gateway subscription may take over the
// account row currently in this state.
func (s SubscriptionStatus) Replaceable() bool {
	return s == SubscriptionCanceled || s == SubscriptionInactive || s == ""
}

// BillingPeriod is the checkout cadence.
type BillingPeriod string

const (
	PeriodMonthly     BillingPeriod = "monthly"
	PeriodThreeMonths BillingPeriod = "3-month"
	PeriodSixMonths   BillingPeriod = "6-month"
)

// ParseBillingPeriod accepts the client RPC spelling ("monthly", "3months",
// "6months") as well as the stored spelling.
func ParseBillingPeriod(raw string) (BillingPeriod, bool) {
	switch raw {
	case string(PeriodMonthly):
		return PeriodMonthly, true
	case "3months", string(PeriodThreeMonths):
		return PeriodThreeMonths, true
	case "6months", string(PeriodSixMonths):
		return PeriodSixMonths, true
	}
	return "", false
}

const (
	TierFree = "free"
	TierPro  = "pro"
)

// Subscription is the recurring-billing relationship of one account.
type Subscription struct {
	UserID               string             `json:"user_id"`
	Period               BillingPeriod      `json:"period,omitempty"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	Status               SubscriptionStatus `json:"status"`
	Tier                 string             `json:"tier"`
	CurrentPeriodEnd     *time.Time         `json:"current_period_end,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// EffectiveTier is the tier the account may use right now.
func (s *Subscription) EffectiveTier() string {
	if s == nil || !s.Status.GrantsAccess() || s.Tier == "" {
		return TierFree
	}
	return s.Tier
}

// SubscriptionView is the read model returned to clients.
type SubscriptionView struct {
	IsPro     bool               `json:"isPro"`
	Tier      string             `json:"tier"`
	Status    SubscriptionStatus `json:"status"`
	Period    BillingPeriod      `json:"period,omitempty"`
	ExpiresAt *time.Time         `json:"expiresAt,omitempty"`
}

// View derives the client read model. A nil subscription is an account that
// never subscribed.
func (s *Subscription) View() SubscriptionView {
	if s == nil {
		return SubscriptionView{IsPro: false, Tier: TierFree, Status: SubscriptionInactive}
	}
	status := s.Status
	if status == "" {
		status = SubscriptionInactive
	}
	return SubscriptionView{
		IsPro:     status.GrantsAccess(),
		Tier:      s.EffectiveTier(),
		Status:    status,
		Period:    s.Period,
		ExpiresAt: s.CurrentPeriodEnd,
	}
}
