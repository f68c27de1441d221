package subscription

import (
	"time"

	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/shopspring/decimal"
)

// Subscription is a customer's recurring commitment to a plan. It is owned
// exclusively by the subscription service and mutated only through the
// defined transitions; canceled subscriptions are retained for audit.
type Subscription struct {
	ID                 string                   `json:"id"`
	CustomerID         string                   `json:"customer_id"`
	PlanID             string                   `json:"plan_id"`
	SubscriptionStatus types.SubscriptionStatus `json:"subscription_status"`
	Amount             decimal.Decimal          `json:"amount"`
	Currency           string                   `json:"currency"`
	BillingPeriod      types.BillingPeriod      `json:"billing_period"`
	CurrentPeriodStart time.Time                `json:"current_period_start"`
	CurrentPeriodEnd   time.Time                `json:"current_period_end"`
	CancelAtPeriodEnd  bool                     `json:"cancel_at_period_end"`
	TrialEnd           *time.Time               `json:"trial_end,omitempty"`
	PaymentMethodRef   string                   `json:"payment_method_ref"`
	CanceledAt         *time.Time               `json:"canceled_at,omitempty"`
	PausedAt           *time.Time               `json:"paused_at,omitempty"`

	// CouponRef and CouponRemainingPeriods track a subscription-attached
	// coupon and its remaining duration: nil remaining means forever, zero
	// means exhausted (the ref is cleared when it hits zero).
	CouponRef              *string `json:"coupon_ref,omitempty"`
	CouponRemainingPeriods *int    `json:"coupon_remaining_periods,omitempty"`

	EnvironmentID string         `json:"environment_id"`
	Metadata      types.Metadata `json:"metadata,omitempty"`
	Version       int            `json:"version"`
	types.BaseModel
}

// Validate checks the subscription's internal invariants
func (s *Subscription) Validate() error {
	if err := s.SubscriptionStatus.Validate(); err != nil {
		return err
	}
	if err := s.BillingPeriod.Validate(); err != nil {
		return err
	}
	if s.Amount.IsNegative() {
		return ierr.NewError("subscription amount cannot be negative").
			WithHint("Amount must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	if !s.CurrentPeriodEnd.After(s.CurrentPeriodStart) {
		return ierr.NewError("current_period_end must be after current_period_start").
			WithHint("Subscription period bounds are invalid").
			WithReportableDetails(map[string]interface{}{
				"current_period_start": s.CurrentPeriodStart,
				"current_period_end":   s.CurrentPeriodEnd,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsTerminal reports whether the subscription is in a terminal state
func (s *Subscription) IsTerminal() bool {
	return s.SubscriptionStatus.IsTerminal()
}
