package dto

import (
	"context"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/subscription"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/freeflowhq/billing-engine/internal/validator"
	"github.com/shopspring/decimal"
)

type CreateSubscriptionRequest struct {
	CustomerID       string              `json:"customer_id" validate:"required"`
	PlanID           string              `json:"plan_id" validate:"required"`
	Amount           decimal.Decimal     `json:"amount" validate:"required"`
	Currency         string              `json:"currency" validate:"required,len=3"`
	BillingPeriod    types.BillingPeriod `json:"billing_period" validate:"required"`
	PaymentMethodRef string              `json:"payment_method_ref"`
	TrialDays        int                 `json:"trial_days,omitempty"`
	CouponCode       string              `json:"coupon_code,omitempty"`
	StartAt          *time.Time          `json:"start_at,omitempty"`
	Metadata         types.Metadata      `json:"metadata,omitempty"`
}

func (r *CreateSubscriptionRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if err := r.BillingPeriod.Validate(); err != nil {
		return err
	}
	if r.Amount.IsNegative() {
		return ierr.NewError("amount cannot be negative").
			WithHint("Subscription amount must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	if r.TrialDays < 0 {
		return ierr.NewError("trial_days cannot be negative").
			WithHint("Trial length must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	return nil
}

func (r *CreateSubscriptionRequest) ToSubscription(ctx context.Context, now time.Time) *subscription.Subscription {
	start := now
	if r.StartAt != nil {
		start = *r.StartAt
	}

	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		CustomerID:         r.CustomerID,
		PlanID:             r.PlanID,
		Amount:             r.Amount,
		Currency:           r.Currency,
		BillingPeriod:      r.BillingPeriod,
		CurrentPeriodStart: start,
		PaymentMethodRef:   r.PaymentMethodRef,
		EnvironmentID:      types.GetEnvironmentID(ctx),
		Metadata:           r.Metadata,
		BaseModel:          types.GetDefaultBaseModel(ctx),
	}

	if r.TrialDays > 0 {
		trialEnd := start.AddDate(0, 0, r.TrialDays)
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodEnd = trialEnd
		sub.SubscriptionStatus = types.SubscriptionStatusTrialing
	} else {
		sub.CurrentPeriodEnd = r.BillingPeriod.NextBillingDate(start)
		sub.SubscriptionStatus = types.SubscriptionStatusActive
	}

	return sub
}

type CancelSubscriptionRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

type ChangePlanRequest struct {
	PlanID      string          `json:"plan_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	OldPlanName string          `json:"old_plan_name"`
	NewPlanName string          `json:"new_plan_name"`
}

func (r *ChangePlanRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.Amount.IsNegative() {
		return ierr.NewError("amount cannot be negative").
			WithHint("New plan amount must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	return nil
}

type SubscriptionResponse struct {
	*subscription.Subscription
}

func NewSubscriptionResponse(sub *subscription.Subscription) *SubscriptionResponse {
	return &SubscriptionResponse{Subscription: sub}
}

type ListSubscriptionsResponse struct {
	Items []*SubscriptionResponse `json:"items"`
	Total int                     `json:"total"`
}
