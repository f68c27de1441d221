package types

import (
	"time"

	ierr "github.com/freeflowhq/billing-engine/internal/errors"
)

// SubscriptionStatus is the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusPaused     SubscriptionStatus = "paused"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
)

// subscriptionTransitions is the closed transition table. canceled is
// terminal; every non-terminal state may cancel.
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusIncomplete: {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusTrialing:   {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusActive:     {SubscriptionStatusPastDue, SubscriptionStatusPaused, SubscriptionStatusCanceled},
	SubscriptionStatusPastDue:    {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusPaused:     {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusCanceled:   {},
}

func (s SubscriptionStatus) Validate() error {
	switch s {
	case SubscriptionStatusIncomplete, SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusPaused, SubscriptionStatusCanceled:
		return nil
	}
	return ierr.NewErrorf("invalid subscription status: %s", s).
		WithHint("Unknown subscription status").
		Mark(ierr.ErrValidation)
}

// IsTerminal reports whether the status has no outgoing transitions
func (s SubscriptionStatus) IsTerminal() bool {
	return len(subscriptionTransitions[s]) == 0
}

// CanTransition reports whether the transition s -> to is listed in the table
func (s SubscriptionStatus) CanTransition(to SubscriptionStatus) bool {
	for _, allowed := range subscriptionTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a typed error when s -> to is not allowed
func (s SubscriptionStatus) ValidateTransition(to SubscriptionStatus) error {
	if s.CanTransition(to) {
		return nil
	}
	return ierr.NewErrorf("invalid subscription status transition: %s -> %s", s, to).
		WithHint("The subscription is not in a state that allows this operation").
		WithReportableDetails(map[string]interface{}{
			"from": s,
			"to":   to,
		}).
		Mark(ierr.ErrInvalidOperation)
}

// BillingPeriod is the renewal interval of a subscription
type BillingPeriod string

const (
	BillingPeriodWeekly  BillingPeriod = "week"
	BillingPeriodMonthly BillingPeriod = "month"
	BillingPeriodAnnual  BillingPeriod = "year"
)

func (p BillingPeriod) Validate() error {
	switch p {
	case BillingPeriodWeekly, BillingPeriodMonthly, BillingPeriodAnnual:
		return nil
	}
	return ierr.NewErrorf("invalid billing period: %s", p).
		WithHint("Billing period must be one of week, month, year").
		Mark(ierr.ErrValidation)
}

// NextBillingDate advances start by one billing period. Month and year math
// uses AddDate, so anchor days past the end of a month clamp the Go way
// (Jan 31 + 1 month = Mar 2/3); period bounds stay strictly increasing either way.
func (p BillingPeriod) NextBillingDate(start time.Time) time.Time {
	switch p {
	case BillingPeriodWeekly:
		return start.AddDate(0, 0, 7)
	case BillingPeriodAnnual:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}
