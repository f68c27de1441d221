package service

import (
	"testing"
	"time"

	"github.com/freeflowhq/billing-engine/internal/api/dto"
	"github.com/freeflowhq/billing-engine/internal/domain/subscription"
	"github.com/freeflowhq/billing-engine/internal/testutil"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type SubscriptionServiceSuite struct {
	testutil.BaseServiceTestSuite
	service SubscriptionService
	params  ServiceParams
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.params = ServiceParams{
		Logger:              s.GetLogger(),
		Config:              s.GetConfig(),
		DB:                  s.GetDB(),
		SubRepo:             s.GetStores().SubscriptionRepo,
		InvoiceRepo:         s.GetStores().InvoiceRepo,
		CouponRepo:          s.GetStores().CouponRepo,
		LedgerRepo:          s.GetStores().LedgerRepo,
		WebhookEndpointRepo: s.GetStores().WebhookEndpointRepo,
		WebhookPublisher:    s.GetPublisher(),
		Processor:           s.GetProcessor(),
		Cache:               s.GetCache(),
		Notifier:            s.GetNotifier(),
	}
	s.service = NewSubscriptionService(s.params)
}

func (s *SubscriptionServiceSuite) seedSubscription(status types.SubscriptionStatus, periodStart, periodEnd time.Time) *subscription.Subscription {
	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		CustomerID:         "cust_001",
		PlanID:             "plan_basic",
		SubscriptionStatus: status,
		Amount:             decimal.NewFromInt(99),
		Currency:           "USD",
		BillingPeriod:      types.BillingPeriodMonthly,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		PaymentMethodRef:   "pm_001",
		EnvironmentID:      "env_test",
		Metadata:           types.Metadata{"customer_email": "jane@example.com"},
		BaseModel:          types.GetDefaultBaseModel(s.GetContext()),
	}
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), sub))
	return sub
}

func (s *SubscriptionServiceSuite) TestCreateSubscriptionWithTrial() {
	resp, err := s.service.CreateSubscription(s.GetContext(), &dto.CreateSubscriptionRequest{
		CustomerID:       "cust_001",
		PlanID:           "plan_basic",
		Amount:           decimal.NewFromInt(49),
		Currency:         "USD",
		BillingPeriod:    types.BillingPeriodMonthly,
		PaymentMethodRef: "pm_001",
		TrialDays:        14,
	})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusTrialing, resp.Subscription.SubscriptionStatus)
	s.NotNil(resp.Subscription.TrialEnd)
	s.True(resp.Subscription.CurrentPeriodEnd.After(resp.Subscription.CurrentPeriodStart))

	// nothing is billed during the trial
	s.Zero(s.GetProcessor().ChargeCount())
	s.True(s.GetPublisher().HasEvent(types.WebhookEventSubscriptionCreated))
}

func (s *SubscriptionServiceSuite) TestCreateSubscriptionCollectsFirstPeriod() {
	resp, err := s.service.CreateSubscription(s.GetContext(), &dto.CreateSubscriptionRequest{
		CustomerID:       "cust_001",
		PlanID:           "plan_basic",
		Amount:           decimal.NewFromInt(99),
		Currency:         "USD",
		BillingPeriod:    types.BillingPeriodMonthly,
		PaymentMethodRef: "pm_001",
	})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, resp.Subscription.SubscriptionStatus)

	invoices, err := s.GetStores().InvoiceRepo.List(s.GetContext(), "cust_001")
	s.NoError(err)
	s.Require().Len(invoices, 1)
	s.Equal(types.InvoiceStatusPaid, invoices[0].InvoiceStatus)
	s.True(invoices[0].Total.Equal(decimal.NewFromInt(99)))
	s.True(invoices[0].AmountRemaining.IsZero())

	entries, err := s.GetStores().LedgerRepo.ListByInvoice(s.GetContext(), invoices[0].ID)
	s.NoError(err)
	s.Len(entries, 1)
	s.True(s.GetPublisher().HasEvent(types.WebhookEventInvoicePaid))
}

func (s *SubscriptionServiceSuite) TestCreateSubscriptionFirstChargeDeclined() {
	s.GetProcessor().ScriptDecline(types.DeclineReasonInsufficientFunds)

	resp, err := s.service.CreateSubscription(s.GetContext(), &dto.CreateSubscriptionRequest{
		CustomerID:       "cust_001",
		PlanID:           "plan_basic",
		Amount:           decimal.NewFromInt(99),
		Currency:         "USD",
		BillingPeriod:    types.BillingPeriodMonthly,
		PaymentMethodRef: "pm_001",
	})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusIncomplete, resp.Subscription.SubscriptionStatus)

	invoices, err := s.GetStores().InvoiceRepo.List(s.GetContext(), "cust_001")
	s.NoError(err)
	s.Require().Len(invoices, 1)
	s.Equal(types.InvoiceStatusOpen, invoices[0].InvoiceStatus)
	s.Equal(1, invoices[0].AttemptCount)
	s.NotNil(invoices[0].NextAttemptAt)
}

func (s *SubscriptionServiceSuite) TestMonthlyRenewalCollectsNewPeriod() {
	start := time.Now().UTC().AddDate(0, -1, 0)
	end := time.Now().UTC().Add(-time.Hour)
	sub := s.seedSubscription(types.SubscriptionStatusActive, start, end)

	advanced, err := s.service.AdvancePeriod(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, advanced.SubscriptionStatus)
	s.True(advanced.CurrentPeriodStart.Equal(end))
	s.True(advanced.CurrentPeriodEnd.Equal(types.BillingPeriodMonthly.NextBillingDate(end)))

	invoices, err := s.GetStores().InvoiceRepo.List(s.GetContext(), "cust_001")
	s.NoError(err)
	s.Require().Len(invoices, 1)
	s.Equal(types.InvoiceStatusPaid, invoices[0].InvoiceStatus)
	s.True(invoices[0].Total.Equal(decimal.NewFromInt(99)))
	s.True(invoices[0].AmountPaid.Equal(decimal.NewFromInt(99)))
	s.Require().NotNil(invoices[0].PeriodStart)
	s.True(invoices[0].PeriodStart.Equal(end))
}

func (s *SubscriptionServiceSuite) TestAdvancePeriodIsIdempotent() {
	start := time.Now().UTC().AddDate(0, -1, 0)
	end := time.Now().UTC().Add(-time.Hour)
	sub := s.seedSubscription(types.SubscriptionStatusActive, start, end)

	first, err := s.service.AdvancePeriod(s.GetContext(), sub.ID)
	s.NoError(err)
	second, err := s.service.AdvancePeriod(s.GetContext(), sub.ID)
	s.NoError(err)

	// the second call sees a period that has not ended and does nothing
	s.True(first.CurrentPeriodEnd.Equal(second.CurrentPeriodEnd))
	invoices, err := s.GetStores().InvoiceRepo.List(s.GetContext(), "cust_001")
	s.NoError(err)
	s.Len(invoices, 1)
	s.Equal(1, s.GetProcessor().ChargeCount())
}

func (s *SubscriptionServiceSuite) TestDraftForPeriodSharedAcrossCallers() {
	start := time.Now().UTC().AddDate(0, -1, 0)
	end := time.Now().UTC().Add(-time.Hour)
	sub := s.seedSubscription(types.SubscriptionStatusActive, start, end)

	invoiceSvc := NewInvoiceService(s.params)
	a, err := invoiceSvc.CreateDraftForPeriod(s.GetContext(), sub, start, end)
	s.NoError(err)
	b, err := invoiceSvc.CreateDraftForPeriod(s.GetContext(), sub, start, end)
	s.NoError(err)
	s.Equal(a.ID, b.ID)
}

func (s *SubscriptionServiceSuite) TestRenewalDeclineMarksPastDue() {
	start := time.Now().UTC().AddDate(0, -1, 0)
	end := time.Now().UTC().Add(-time.Hour)
	sub := s.seedSubscription(types.SubscriptionStatusActive, start, end)

	s.GetProcessor().ScriptDecline(types.DeclineReasonOther)

	advanced, err := s.service.AdvancePeriod(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusPastDue, advanced.SubscriptionStatus)

	invoices, err := s.GetStores().InvoiceRepo.List(s.GetContext(), "cust_001")
	s.NoError(err)
	s.Require().Len(invoices, 1)
	inv := invoices[0]
	s.Equal(types.InvoiceStatusOpen, inv.InvoiceStatus)
	s.Equal(1, inv.AttemptCount)
	s.Require().NotNil(inv.NextAttemptAt)
	s.Require().NotNil(inv.OpenedAt)
	s.WithinDuration(inv.OpenedAt.AddDate(0, 0, 1), *inv.NextAttemptAt, time.Minute)
}

func (s *SubscriptionServiceSuite) TestCancelAtPeriodEndDefersToRenewal() {
	start := time.Now().UTC().AddDate(0, -1, 0)
	end := time.Now().UTC().Add(-time.Hour)
	sub := s.seedSubscription(types.SubscriptionStatusActive, start, end)

	resp, err := s.service.CancelSubscription(s.GetContext(), sub.ID, &dto.CancelSubscriptionRequest{AtPeriodEnd: true})
	s.NoError(err)
	s.True(resp.Subscription.CancelAtPeriodEnd)
	s.Equal(types.SubscriptionStatusActive, resp.Subscription.SubscriptionStatus)

	advanced, err := s.service.AdvancePeriod(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, advanced.SubscriptionStatus)
	s.NotNil(advanced.CanceledAt)

	// no renewal invoice for the canceled period
	invoices, err := s.GetStores().InvoiceRepo.List(s.GetContext(), "cust_001")
	s.NoError(err)
	s.Len(invoices, 0)
	s.True(s.GetPublisher().HasEvent(types.WebhookEventSubscriptionCanceled))
}

func (s *SubscriptionServiceSuite) TestCancelNow() {
	start := time.Now().UTC()
	end := start.AddDate(0, 1, 0)
	sub := s.seedSubscription(types.SubscriptionStatusActive, start, end)

	resp, err := s.service.CancelSubscription(s.GetContext(), sub.ID, &dto.CancelSubscriptionRequest{})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, resp.Subscription.SubscriptionStatus)
	s.NotNil(resp.Subscription.CanceledAt)

	// canceling again is rejected by the state machine
	_, err = s.service.CancelSubscription(s.GetContext(), sub.ID, nil)
	s.Error(err)
}

func (s *SubscriptionServiceSuite) TestPauseAndResumePreservesPaidTime() {
	start := time.Now().UTC()
	end := start.AddDate(0, 1, 0)
	sub := s.seedSubscription(types.SubscriptionStatusActive, start, end)

	paused, err := s.service.PauseSubscription(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusPaused, paused.Subscription.SubscriptionStatus)
	s.NotNil(paused.Subscription.PausedAt)

	// a paused subscription never advances
	advanced, err := s.service.AdvancePeriod(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusPaused, advanced.SubscriptionStatus)

	resumed, err := s.service.ResumeSubscription(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, resumed.Subscription.SubscriptionStatus)
	s.Nil(resumed.Subscription.PausedAt)
	s.False(resumed.Subscription.CurrentPeriodEnd.Before(end))
}

func (s *SubscriptionServiceSuite) TestChangePlanChargesProratedDifference() {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -15)
	end := now.AddDate(0, 0, 15)
	sub := s.seedSubscription(types.SubscriptionStatusActive, start, end)

	resp, err := s.service.ChangePlan(s.GetContext(), sub.ID, &dto.ChangePlanRequest{
		PlanID: "plan_pro",
		Amount: decimal.NewFromInt(199),
	})
	s.NoError(err)
	s.Equal("plan_pro", resp.Subscription.PlanID)
	s.True(resp.Subscription.Amount.Equal(decimal.NewFromInt(199)))

	invoices, err := s.GetStores().InvoiceRepo.List(s.GetContext(), "cust_001")
	s.NoError(err)
	s.Require().Len(invoices, 1)
	inv := invoices[0]
	s.Require().Len(inv.LineItems, 2)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)

	// roughly half the period remains, so the net charge is about (199-99)/2
	s.True(inv.Total.IsPositive())
	s.True(inv.Total.LessThan(decimal.NewFromInt(100)))

	var hasCredit bool
	for _, li := range inv.LineItems {
		if li.Amount.IsNegative() {
			hasCredit = true
			s.True(li.Proration)
		}
	}
	s.True(hasCredit)
}

func (s *SubscriptionServiceSuite) TestCouponAppliedToFirstInvoice() {
	couponSvc := NewCouponService(s.params)
	_, err := couponSvc.CreateCoupon(s.GetContext(), &dto.CreateCouponRequest{
		Code:          "WELCOME10",
		Type:          types.CouponTypePercentage,
		PercentageOff: decimalPtr(decimal.NewFromInt(10)),
		Duration:      types.CouponDurationOnce,
	})
	s.Require().NoError(err)

	resp, err := s.service.CreateSubscription(s.GetContext(), &dto.CreateSubscriptionRequest{
		CustomerID:       "cust_001",
		PlanID:           "plan_basic",
		Amount:           decimal.NewFromInt(99),
		Currency:         "USD",
		BillingPeriod:    types.BillingPeriodMonthly,
		PaymentMethodRef: "pm_001",
		CouponCode:       "welcome10",
	})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, resp.Subscription.SubscriptionStatus)
	// a once coupon is consumed by the first period
	s.Nil(resp.Subscription.CouponRef)

	invoices, err := s.GetStores().InvoiceRepo.List(s.GetContext(), "cust_001")
	s.NoError(err)
	s.Require().Len(invoices, 1)
	inv := invoices[0]
	s.True(inv.DiscountAmount.Equal(decimal.RequireFromString("9.90")), "discount was %s", inv.DiscountAmount)
	s.True(inv.Total.Equal(decimal.RequireFromString("89.10")), "total was %s", inv.Total)

	charges := s.GetProcessor().Charges()
	s.Require().Len(charges, 1)
	s.True(charges[0].Amount.Equal(decimal.RequireFromString("89.10")))
}

func (s *SubscriptionServiceSuite) TestRenewalDropsLapsedCoupon() {
	couponSvc := NewCouponService(s.params)
	created, err := couponSvc.CreateCoupon(s.GetContext(), &dto.CreateCouponRequest{
		Code:           "SPRING20",
		Type:           types.CouponTypePercentage,
		PercentageOff:  decimalPtr(decimal.NewFromInt(20)),
		Duration:       types.CouponDurationForever,
		MaxRedemptions: lo.ToPtr(1),
	})
	s.Require().NoError(err)
	// another invoice consumed the last redemption since attachment
	s.Require().NoError(couponSvc.Redeem(s.GetContext(), created.ID))

	start := time.Now().UTC().AddDate(0, -1, 0)
	end := time.Now().UTC().Add(-time.Hour)
	sub := s.seedSubscription(types.SubscriptionStatusActive, start, end)
	sub.CouponRef = lo.ToPtr("SPRING20")
	s.Require().NoError(s.GetStores().SubscriptionRepo.Update(s.GetContext(), sub))

	// the exhausted coupon must not stall the renewal
	advanced, err := s.service.AdvancePeriod(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, advanced.SubscriptionStatus)
	s.True(advanced.CurrentPeriodEnd.After(time.Now().UTC()))
	s.Nil(advanced.CouponRef)

	invoices, err := s.GetStores().InvoiceRepo.List(s.GetContext(), "cust_001")
	s.NoError(err)
	s.Require().Len(invoices, 1)
	s.Equal(types.InvoiceStatusPaid, invoices[0].InvoiceStatus)
	s.True(invoices[0].DiscountAmount.IsZero())
	s.True(invoices[0].Total.Equal(decimal.NewFromInt(99)))
	s.Nil(invoices[0].AppliedCouponID)

	fresh, err := s.GetStores().CouponRepo.Get(s.GetContext(), created.ID)
	s.NoError(err)
	s.Equal(1, fresh.TimesRedeemed)
}

func (s *SubscriptionServiceSuite) TestProcessRenewalsAdvancesDueSubscriptions() {
	start := time.Now().UTC().AddDate(0, -1, 0)
	end := time.Now().UTC().Add(-time.Hour)
	due := s.seedSubscription(types.SubscriptionStatusActive, start, end)
	current := s.seedSubscription(types.SubscriptionStatusActive,
		time.Now().UTC(), time.Now().UTC().AddDate(0, 1, 0))

	s.NoError(s.service.ProcessRenewals(s.GetContext(), time.Now().UTC()))

	advanced, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), due.ID)
	s.NoError(err)
	s.True(advanced.CurrentPeriodEnd.After(time.Now().UTC()))

	untouched, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), current.ID)
	s.NoError(err)
	s.True(untouched.CurrentPeriodEnd.Equal(current.CurrentPeriodEnd))

	// a second sweep finds nothing due and bills nothing new
	s.NoError(s.service.ProcessRenewals(s.GetContext(), time.Now().UTC()))
	invoices, err := s.GetStores().InvoiceRepo.List(s.GetContext(), "cust_001")
	s.NoError(err)
	s.Len(invoices, 1)
	s.Equal(1, s.GetProcessor().ChargeCount())
}

func (s *SubscriptionServiceSuite) TestProcessRenewalsSkipsLockedSubscription() {
	start := time.Now().UTC().AddDate(0, -1, 0)
	end := time.Now().UTC().Add(-time.Hour)
	sub := s.seedSubscription(types.SubscriptionStatusActive, start, end)

	// another engine instance holds the per-subscription advisory lock
	release := s.GetDB().HoldLock("subscription_renewal:" + sub.ID)
	s.NoError(s.service.ProcessRenewals(s.GetContext(), time.Now().UTC()))

	held, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.True(held.CurrentPeriodEnd.Equal(end))
	s.Zero(s.GetProcessor().ChargeCount())

	release()
	s.NoError(s.service.ProcessRenewals(s.GetContext(), time.Now().UTC()))

	advanced, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.True(advanced.CurrentPeriodEnd.After(end))
	s.Equal(1, s.GetProcessor().ChargeCount())
}

func (s *SubscriptionServiceSuite) TestRecordPaymentRecovered() {
	start := time.Now().UTC()
	end := start.AddDate(0, 1, 0)
	sub := s.seedSubscription(types.SubscriptionStatusPastDue, start, end)

	s.NoError(s.service.RecordPaymentRecovered(s.GetContext(), sub.ID))

	fresh, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, fresh.SubscriptionStatus)
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
