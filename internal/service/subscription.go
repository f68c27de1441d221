package service

import (
	"context"
	"time"

	"github.com/freeflowhq/billing-engine/internal/api/dto"
	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
	"github.com/freeflowhq/billing-engine/internal/domain/proration"
	"github.com/freeflowhq/billing-engine/internal/domain/subscription"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	webhookDto "github.com/freeflowhq/billing-engine/internal/webhook/dto"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

// SubscriptionService owns the subscription state machine. Every status
// change goes through here, and every change emits a webhook event.
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error)
	GetSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	ListSubscriptions(ctx context.Context, customerID string) (*dto.ListSubscriptionsResponse, error)

	// AdvancePeriod rolls the subscription into its next billing period,
	// generating and collecting the period invoice. It is idempotent: the
	// period invoice is keyed by (subscription_id, period_start), so an
	// at-least-once scheduler can safely call it twice.
	AdvancePeriod(ctx context.Context, subscriptionID string) (*subscription.Subscription, error)

	CancelSubscription(ctx context.Context, id string, req *dto.CancelSubscriptionRequest) (*dto.SubscriptionResponse, error)
	PauseSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	ResumeSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	ChangePlan(ctx context.Context, id string, req *dto.ChangePlanRequest) (*dto.SubscriptionResponse, error)

	// RecordPaymentRecovered moves a past_due or incomplete subscription
	// back to active after a successful collection.
	RecordPaymentRecovered(ctx context.Context, id string) error

	// MarkPaymentExhausted is the terminal dunning outcome for the
	// subscription side: past_due stays, the exhausted event fires.
	MarkPaymentExhausted(ctx context.Context, id string) error

	// ProcessRenewals advances every subscription whose period has ended.
	// Each subscription is processed under an advisory lock so concurrent
	// engine instances never advance the same subscription twice.
	ProcessRenewals(ctx context.Context, now time.Time) error
}

type subscriptionService struct {
	ServiceParams
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
	}
}

func (s *subscriptionService) CreateSubscription(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := req.ToSubscription(ctx, now)

	if req.CouponCode != "" {
		couponSvc := NewCouponService(s.ServiceParams)
		c, err := couponSvc.Resolve(ctx, req.CouponCode)
		if err != nil {
			return nil, err
		}
		code := c.Code
		sub.CouponRef = &code
		switch c.Duration {
		case types.CouponDurationOnce:
			one := 1
			sub.CouponRemainingPeriods = &one
		case types.CouponDurationRepeating:
			remaining := *c.DurationInMonths
			sub.CouponRemainingPeriods = &remaining
		}
		// forever leaves remaining periods nil
	}

	// Without a trial the first period is collected up front; the
	// subscription only becomes active once that payment lands.
	if sub.TrialEnd == nil {
		sub.SubscriptionStatus = types.SubscriptionStatusIncomplete
	}

	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if err := s.SubRepo.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionCreated, sub)
	s.Logger.Infow("created subscription",
		"subscription_id", sub.ID,
		"customer_id", sub.CustomerID,
		"status", sub.SubscriptionStatus)

	if sub.SubscriptionStatus == types.SubscriptionStatusIncomplete {
		if err := s.collectFirstPeriod(ctx, sub); err != nil {
			return nil, err
		}
	}

	return dto.NewSubscriptionResponse(sub), nil
}

// collectFirstPeriod bills and collects the initial period of a non-trial
// subscription. A decline leaves the subscription incomplete for the
// scheduler to retry up to the configured cap.
func (s *subscriptionService) collectFirstPeriod(ctx context.Context, sub *subscription.Subscription) error {
	invoiceSvc := NewInvoiceService(s.ServiceParams)

	inv, err := invoiceSvc.CreateDraftForPeriod(ctx, sub, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		return err
	}
	if inv.InvoiceStatus == types.InvoiceStatusDraft {
		inv, err = s.finalizePeriodInvoice(ctx, invoiceSvc, sub, inv.ID)
		if err != nil {
			return err
		}
		// persist the consumed coupon period before any collection runs
		if err := s.SubRepo.Update(ctx, sub); err != nil {
			return err
		}
	}
	if inv.InvoiceStatus != types.InvoiceStatusOpen {
		return s.activate(ctx, sub)
	}

	dunningSvc := NewDunningService(s.ServiceParams)
	result, err := dunningSvc.ProcessCollection(ctx, inv.ID)
	if err != nil {
		return err
	}
	if result.Outcome == types.ChargeOutcomeSucceeded {
		// ProcessCollection activated the subscription; refresh the model
		fresh, err := s.SubRepo.Get(ctx, sub.ID)
		if err != nil {
			return err
		}
		*sub = *fresh
		return nil
	}

	s.Logger.Warnw("first period collection did not succeed, subscription stays incomplete",
		"subscription_id", sub.ID,
		"outcome", result.Outcome)
	return nil
}

func (s *subscriptionService) activate(ctx context.Context, sub *subscription.Subscription) error {
	if err := sub.SubscriptionStatus.ValidateTransition(types.SubscriptionStatusActive); err != nil {
		return err
	}
	sub.SubscriptionStatus = types.SubscriptionStatusActive
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionUpdated, sub)
	return nil
}

func (s *subscriptionService) GetSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) ListSubscriptions(ctx context.Context, customerID string) (*dto.ListSubscriptionsResponse, error) {
	subs, err := s.SubRepo.List(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return &dto.ListSubscriptionsResponse{
		Items: lo.Map(subs, func(sub *subscription.Subscription, _ int) *dto.SubscriptionResponse {
			return dto.NewSubscriptionResponse(sub)
		}),
		Total: len(subs),
	}, nil
}

func (s *subscriptionService) AdvancePeriod(ctx context.Context, subscriptionID string) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	// Sweeps run with the default tenant; downstream writes and events must
	// carry the subscription's own tenant and environment.
	ctx = types.SetTenantID(ctx, sub.TenantID)
	ctx = types.SetEnvironmentID(ctx, sub.EnvironmentID)

	now := time.Now().UTC()
	if sub.IsTerminal() || sub.SubscriptionStatus == types.SubscriptionStatusPaused {
		return sub, nil
	}
	if sub.CurrentPeriodEnd.After(now) {
		return sub, nil
	}

	if sub.CancelAtPeriodEnd {
		return s.cancelNow(ctx, sub, now)
	}

	if sub.SubscriptionStatus == types.SubscriptionStatusTrialing {
		sub.SubscriptionStatus = types.SubscriptionStatusActive
	}

	periodStart := sub.CurrentPeriodEnd
	periodEnd := sub.BillingPeriod.NextBillingDate(periodStart)
	sub.CurrentPeriodStart = periodStart
	sub.CurrentPeriodEnd = periodEnd

	invoiceSvc := NewInvoiceService(s.ServiceParams)
	inv, err := invoiceSvc.CreateDraftForPeriod(ctx, sub, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if inv.InvoiceStatus == types.InvoiceStatusDraft {
		inv, err = s.finalizePeriodInvoice(ctx, invoiceSvc, sub, inv.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := s.SubRepo.Update(ctx, sub); err != nil {
		// Another worker advanced this subscription concurrently; the
		// invoice side is idempotent, so surface their result.
		if ierr.IsVersionConflict(err) {
			return s.SubRepo.Get(ctx, subscriptionID)
		}
		return nil, err
	}
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionUpdated, sub)

	if inv.InvoiceStatus == types.InvoiceStatusOpen {
		dunningSvc := NewDunningService(s.ServiceParams)
		result, err := dunningSvc.ProcessCollection(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		if result.Outcome == types.ChargeOutcomeDeclined {
			if err := s.markPastDue(ctx, sub); err != nil {
				return nil, err
			}
		}
	}

	s.Logger.Infow("advanced subscription period",
		"subscription_id", sub.ID,
		"period_start", periodStart,
		"period_end", periodEnd,
		"status", sub.SubscriptionStatus)
	return sub, nil
}

// finalizePeriodInvoice finalizes the period draft with the subscription's
// stored coupon. A coupon that lapsed since attachment must not stall the
// renewal: the reference is dropped and the invoice opens without a discount.
func (s *subscriptionService) finalizePeriodInvoice(ctx context.Context, invoiceSvc InvoiceService, sub *subscription.Subscription, invoiceID string) (*invoice.Invoice, error) {
	code := s.consumeCouponPeriod(ctx, sub)
	inv, err := invoiceSvc.Finalize(ctx, invoiceID, code)
	if err == nil || code == "" {
		return inv, err
	}
	if !errorsIs(err, ierr.ErrCouponExpired) &&
		!errorsIs(err, ierr.ErrCouponExhausted) &&
		!errorsIs(err, ierr.ErrCouponNotFound) {
		return nil, err
	}

	s.Logger.Warnw("stored coupon is no longer redeemable, billing without discount",
		"subscription_id", sub.ID,
		"coupon_code", code,
		"error", err)
	sub.CouponRef = nil
	sub.CouponRemainingPeriods = nil
	return invoiceSvc.Finalize(ctx, invoiceID, "")
}

// consumeCouponPeriod returns the coupon code to apply to this period's
// invoice and decrements the remaining-period counter on the subscription.
// The ref is cleared once the counter reaches zero.
func (s *subscriptionService) consumeCouponPeriod(ctx context.Context, sub *subscription.Subscription) string {
	if sub.CouponRef == nil {
		return ""
	}
	code := *sub.CouponRef
	if sub.CouponRemainingPeriods != nil {
		remaining := *sub.CouponRemainingPeriods
		if remaining <= 0 {
			sub.CouponRef = nil
			sub.CouponRemainingPeriods = nil
			return ""
		}
		remaining--
		if remaining == 0 {
			sub.CouponRef = nil
			sub.CouponRemainingPeriods = nil
		} else {
			sub.CouponRemainingPeriods = &remaining
		}
	}
	return code
}

func (s *subscriptionService) markPastDue(ctx context.Context, sub *subscription.Subscription) error {
	if sub.SubscriptionStatus == types.SubscriptionStatusPastDue {
		return nil
	}
	if !sub.SubscriptionStatus.CanTransition(types.SubscriptionStatusPastDue) {
		// incomplete subscriptions stay incomplete on decline
		return nil
	}
	sub.SubscriptionStatus = types.SubscriptionStatusPastDue
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionUpdated, sub)
	return nil
}

func (s *subscriptionService) CancelSubscription(ctx context.Context, id string, req *dto.CancelSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req != nil && req.AtPeriodEnd {
		if sub.IsTerminal() {
			return nil, sub.SubscriptionStatus.ValidateTransition(types.SubscriptionStatusCanceled)
		}
		sub.CancelAtPeriodEnd = true
		if err := s.SubRepo.Update(ctx, sub); err != nil {
			return nil, err
		}
		s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionUpdated, sub)
		s.Logger.Infow("scheduled subscription cancelation at period end",
			"subscription_id", sub.ID)
		return dto.NewSubscriptionResponse(sub), nil
	}

	sub, err = s.cancelNow(ctx, sub, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) cancelNow(ctx context.Context, sub *subscription.Subscription, at time.Time) (*subscription.Subscription, error) {
	if err := sub.SubscriptionStatus.ValidateTransition(types.SubscriptionStatusCanceled); err != nil {
		return nil, err
	}
	sub.SubscriptionStatus = types.SubscriptionStatusCanceled
	sub.CanceledAt = &at
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionCanceled, sub)
	s.Logger.Infow("canceled subscription", "subscription_id", sub.ID)
	return sub, nil
}

func (s *subscriptionService) PauseSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sub.SubscriptionStatus.ValidateTransition(types.SubscriptionStatusPaused); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub.SubscriptionStatus = types.SubscriptionStatusPaused
	sub.PausedAt = &now
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionUpdated, sub)
	s.Logger.Infow("paused subscription", "subscription_id", sub.ID)
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) ResumeSubscription(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.SubscriptionStatus != types.SubscriptionStatusPaused {
		return nil, ierr.NewError("only paused subscriptions can be resumed").
			WithReportableDetails(map[string]interface{}{
				"subscription_id": id,
				"status":          sub.SubscriptionStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	now := time.Now().UTC()
	// Paid time is preserved: the period end shifts by the paused duration
	if sub.PausedAt != nil {
		sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.Add(now.Sub(*sub.PausedAt))
	}
	sub.SubscriptionStatus = types.SubscriptionStatusActive
	sub.PausedAt = nil
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionUpdated, sub)
	s.Logger.Infow("resumed subscription", "subscription_id", sub.ID)
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) ChangePlan(ctx context.Context, id string, req *dto.ChangePlanRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.SubscriptionStatus != types.SubscriptionStatusActive {
		return nil, ierr.NewError("only active subscriptions can change plans").
			WithReportableDetails(map[string]interface{}{
				"subscription_id": id,
				"status":          sub.SubscriptionStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	now := time.Now().UTC()
	prorationSvc := NewProrationService(s.ServiceParams)
	params := proration.Params{
		PeriodStart: sub.CurrentPeriodStart,
		PeriodEnd:   sub.CurrentPeriodEnd,
		ChangeAt:    now,
		OldAmount:   sub.Amount,
		NewAmount:   req.Amount,
		OldPlanName: lo.CoalesceOrEmpty(req.OldPlanName, sub.PlanID),
		NewPlanName: lo.CoalesceOrEmpty(req.NewPlanName, req.PlanID),
		Currency:    sub.Currency,
	}
	result, err := prorationSvc.Calculate(ctx, params)
	if err != nil {
		return nil, err
	}
	lines := prorationSvc.BuildLineItems(ctx, params, result)

	sub.PlanID = req.PlanID
	sub.Amount = req.Amount
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return nil, err
	}
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionUpdated, sub)

	// A positive net adjustment is invoiced and collected right away;
	// a negative one is left as a credit draft for the next period.
	if result.NetAmount.IsPositive() {
		invoiceSvc := NewInvoiceService(s.ServiceParams)
		subID := sub.ID
		inv, err := s.createProrationInvoice(ctx, sub, &subID, lines)
		if err != nil {
			return nil, err
		}
		inv, err = invoiceSvc.Finalize(ctx, inv.ID, "")
		if err != nil {
			return nil, err
		}
		if inv.InvoiceStatus == types.InvoiceStatusOpen {
			dunningSvc := NewDunningService(s.ServiceParams)
			if _, err := dunningSvc.ProcessCollection(ctx, inv.ID); err != nil {
				return nil, err
			}
		}
	}

	s.Logger.Infow("changed subscription plan",
		"subscription_id", sub.ID,
		"plan_id", req.PlanID,
		"net_adjustment", result.NetAmount.String())
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) RecordPaymentRecovered(ctx context.Context, id string) error {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	switch sub.SubscriptionStatus {
	case types.SubscriptionStatusPastDue, types.SubscriptionStatusIncomplete:
		return s.activate(ctx, sub)
	default:
		return nil
	}
}

func (s *subscriptionService) MarkPaymentExhausted(ctx context.Context, id string) error {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	s.publishSubscriptionEvent(ctx, types.WebhookEventSubscriptionPaymentExhausted, sub)
	s.Logger.Warnw("subscription payment retries exhausted",
		"subscription_id", sub.ID,
		"status", sub.SubscriptionStatus)
	return nil
}

func (s *subscriptionService) ProcessRenewals(ctx context.Context, now time.Time) error {
	due, err := s.SubRepo.ListDueForRenewal(ctx, now)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	workers := s.Config.Workers.CollectionPoolSize
	if workers <= 0 {
		workers = 1
	}

	p := pool.New().WithMaxGoroutines(workers)
	for _, sub := range due {
		subID := sub.ID
		p.Go(func() {
			err := s.DB.WithTx(ctx, func(txCtx context.Context) error {
				acquired, err := s.DB.TryLockKey(txCtx, "subscription_renewal:"+subID)
				if err != nil {
					return err
				}
				if !acquired {
					return nil
				}
				_, err = s.AdvancePeriod(txCtx, subID)
				return err
			})
			if err != nil {
				s.Logger.Errorw("failed to advance subscription period",
					"subscription_id", subID,
					"error", err)
			}
		})
	}
	p.Wait()

	s.Logger.Infow("processed subscription renewals", "count", len(due))
	return nil
}

// createProrationInvoice assembles a draft invoice carrying the plan change
// adjustment lines. It is not period-keyed: a plan change is its own billing
// event, not a renewal.
func (s *subscriptionService) createProrationInvoice(ctx context.Context, sub *subscription.Subscription, subID *string, lines []*invoice.LineItem) (*invoice.Invoice, error) {
	inv := &invoice.Invoice{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		SubscriptionID: subID,
		CustomerID:     sub.CustomerID,
		InvoiceStatus:  types.InvoiceStatusDraft,
		Currency:       sub.Currency,
		LineItems:      lines,
		EnvironmentID:  sub.EnvironmentID,
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
	inv.RecomputeSubtotal()
	inv.RecomputeTotals()

	if err := s.InvoiceRepo.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *subscriptionService) publishSubscriptionEvent(ctx context.Context, eventType string, sub *subscription.Subscription) {
	internal := &webhookDto.InternalSubscriptionEvent{
		EventType:          eventType,
		TenantID:           types.GetTenantID(ctx),
		EnvironmentID:      sub.EnvironmentID,
		SubscriptionID:     sub.ID,
		CustomerID:         sub.CustomerID,
		PlanID:             sub.PlanID,
		SubscriptionStatus: string(sub.SubscriptionStatus),
		Amount:             sub.Amount,
		Currency:           sub.Currency,
		BillingPeriod:      string(sub.BillingPeriod),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}

	payload, err := jsonMarshal(internal)
	if err != nil {
		s.Logger.Errorw("failed to encode subscription event payload",
			"subscription_id", sub.ID, "error", err)
		return
	}

	event := &types.WebhookEvent{
		EventType: eventType,
		EntityID:  sub.ID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := s.WebhookPublisher.Publish(ctx, event); err != nil {
		s.Logger.Errorw("failed to publish subscription event",
			"subscription_id", sub.ID,
			"event_type", eventType,
			"error", err)
	}
}
