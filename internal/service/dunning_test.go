package service

import (
	"testing"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
	"github.com/freeflowhq/billing-engine/internal/domain/ledger"
	"github.com/freeflowhq/billing-engine/internal/domain/subscription"
	"github.com/freeflowhq/billing-engine/internal/testutil"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type DunningServiceSuite struct {
	testutil.BaseServiceTestSuite
	service DunningService
	params  ServiceParams
}

func TestDunningService(t *testing.T) {
	suite.Run(t, new(DunningServiceSuite))
}

func (s *DunningServiceSuite) SetupTest() {
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
	s.service = NewDunningService(s.params)
}

// seedCollectible creates a subscription in the given status with one open
// invoice whose first attempt is due.
func (s *DunningServiceSuite) seedCollectible(status types.SubscriptionStatus) (*subscription.Subscription, *invoice.Invoice) {
	now := time.Now().UTC()
	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		CustomerID:         "cust_001",
		PlanID:             "plan_basic",
		SubscriptionStatus: status,
		Amount:             decimal.NewFromInt(99),
		Currency:           "USD",
		BillingPeriod:      types.BillingPeriodMonthly,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		PaymentMethodRef:   "pm_001",
		EnvironmentID:      "env_test",
		Metadata:           types.Metadata{"customer_email": "jane@example.com"},
		BaseModel:          types.GetDefaultBaseModel(s.GetContext()),
	}
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), sub))

	invoiceSvc := NewInvoiceService(s.params)
	draft, err := invoiceSvc.CreateDraftForPeriod(s.GetContext(), sub, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	s.Require().NoError(err)
	inv, err := invoiceSvc.Finalize(s.GetContext(), draft.ID, "")
	s.Require().NoError(err)
	return sub, inv
}

func (s *DunningServiceSuite) getInvoice(id string) *invoice.Invoice {
	inv, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	return inv
}

func (s *DunningServiceSuite) TestStandardPolicyRetrySchedule() {
	_, inv := s.seedCollectible(types.SubscriptionStatusActive)
	openedAt := *s.getInvoice(inv.ID).OpenedAt

	offsets := []int{1, 3, 7, 14}
	for attempt := 1; attempt <= 4; attempt++ {
		s.GetProcessor().ScriptDecline(types.DeclineReasonOther)
		result, err := s.service.ProcessCollection(s.GetContext(), inv.ID)
		s.Require().NoError(err)
		s.Equal(types.ChargeOutcomeDeclined, result.Outcome)

		fresh := s.getInvoice(inv.ID)
		s.Equal(attempt, fresh.AttemptCount)
		s.Require().NotNil(fresh.NextAttemptAt, "attempt %d should schedule a retry", attempt)
		s.WithinDuration(openedAt.AddDate(0, 0, offsets[attempt-1]), *fresh.NextAttemptAt, time.Minute)
	}

	// the fifth decline exhausts the policy
	s.GetProcessor().ScriptDecline(types.DeclineReasonOther)
	result, err := s.service.ProcessCollection(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.ChargeOutcomeDeclined, result.Outcome)

	fresh := s.getInvoice(inv.ID)
	s.Equal(5, fresh.AttemptCount)
	s.Nil(fresh.NextAttemptAt)
	s.Equal(types.InvoiceStatusOpen, fresh.InvoiceStatus)
	s.True(s.GetPublisher().HasEvent(types.WebhookEventSubscriptionPaymentExhausted))
}

func (s *DunningServiceSuite) TestReplayedSuccessRecoversSubscription() {
	sub, inv := s.seedCollectible(types.SubscriptionStatusPastDue)

	// The charge landed in the ledger but the invoice update was lost, as
	// after a crash between the two writes.
	_, already, err := s.GetStores().LedgerRepo.Record(s.GetContext(), &ledger.Entry{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_LEDGER_ENTRY),
		IdempotencyKey: ledger.ChargeIdempotencyKey(inv.ID, 1),
		EntryType:      types.LedgerEntryTypeCharge,
		InvoiceID:      inv.ID,
		Amount:         inv.AmountRemaining,
		Currency:       inv.Currency,
		PaymentMethod:  "pm_001",
		Outcome:        types.ChargeOutcomeSucceeded,
		TenantID:       types.GetTenantID(s.GetContext()),
	})
	s.Require().NoError(err)
	s.Require().False(already)

	result, err := s.service.ProcessCollection(s.GetContext(), inv.ID)
	s.NoError(err)
	s.True(result.AlreadyRecorded)
	s.Equal(types.ChargeOutcomeSucceeded, result.Outcome)
	s.Zero(s.GetProcessor().ChargeCount())

	s.Equal(types.InvoiceStatusPaid, s.getInvoice(inv.ID).InvoiceStatus)

	fresh, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, fresh.SubscriptionStatus)
}

func (s *DunningServiceSuite) TestRunDueAttemptsCollectsDueInvoices() {
	_, inv := s.seedCollectible(types.SubscriptionStatusActive)

	s.NoError(s.service.RunDueAttempts(s.GetContext(), time.Now().UTC()))

	fresh := s.getInvoice(inv.ID)
	s.Equal(types.InvoiceStatusPaid, fresh.InvoiceStatus)
	s.Equal(1, fresh.AttemptCount)
	s.Equal(1, s.GetProcessor().ChargeCount())

	// the paid invoice is no longer due; a second sweep charges nothing
	s.NoError(s.service.RunDueAttempts(s.GetContext(), time.Now().UTC()))
	s.Equal(1, s.GetProcessor().ChargeCount())
}

func (s *DunningServiceSuite) TestRunDueAttemptsSkipsLockedInvoice() {
	_, inv := s.seedCollectible(types.SubscriptionStatusActive)

	// another engine instance holds the per-invoice advisory lock
	release := s.GetDB().HoldLock("invoice_collection:" + inv.ID)
	s.NoError(s.service.RunDueAttempts(s.GetContext(), time.Now().UTC()))

	held := s.getInvoice(inv.ID)
	s.Equal(types.InvoiceStatusOpen, held.InvoiceStatus)
	s.Equal(0, held.AttemptCount)
	s.Zero(s.GetProcessor().ChargeCount())

	release()
	s.NoError(s.service.RunDueAttempts(s.GetContext(), time.Now().UTC()))

	fresh := s.getInvoice(inv.ID)
	s.Equal(types.InvoiceStatusPaid, fresh.InvoiceStatus)
	s.Equal(1, s.GetProcessor().ChargeCount())
}

func (s *DunningServiceSuite) TestGentlePolicyFirstRetryAfterThreeDays() {
	s.GetConfig().Dunning.Policy = "gentle"

	_, inv := s.seedCollectible(types.SubscriptionStatusActive)
	s.GetProcessor().ScriptDecline(types.DeclineReasonInsufficientFunds)

	result, err := s.service.ProcessCollection(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.ChargeOutcomeDeclined, result.Outcome)
	s.Equal(types.DeclineReasonInsufficientFunds, result.DeclineReason)

	fresh := s.getInvoice(inv.ID)
	s.Equal(1, fresh.AttemptCount)
	s.Require().NotNil(fresh.NextAttemptAt)
	// smart retry is off, so the raw offset applies regardless of reason
	s.WithinDuration(fresh.OpenedAt.AddDate(0, 0, 3), *fresh.NextAttemptAt, time.Minute)
}

func (s *DunningServiceSuite) TestSmartRetryStretchesSpacingByReason() {
	s.GetConfig().Dunning.SmartRetry = true

	_, inv := s.seedCollectible(types.SubscriptionStatusActive)
	s.GetProcessor().ScriptDecline(types.DeclineReasonInsufficientFunds)

	_, err := s.service.ProcessCollection(s.GetContext(), inv.ID)
	s.Require().NoError(err)

	fresh := s.getInvoice(inv.ID)
	s.Require().NotNil(fresh.NextAttemptAt)
	// standard first offset is 1 day, doubled for insufficient funds
	s.WithinDuration(fresh.OpenedAt.AddDate(0, 0, 2), *fresh.NextAttemptAt, time.Minute)

	s.GetProcessor().ScriptDecline(types.DeclineReasonFraudSuspected)
	_, err = s.service.ProcessCollection(s.GetContext(), inv.ID)
	s.Require().NoError(err)

	fresh = s.getInvoice(inv.ID)
	s.Require().NotNil(fresh.NextAttemptAt)
	// second offset is 3 days, tripled for suspected fraud
	s.WithinDuration(fresh.OpenedAt.AddDate(0, 0, 9), *fresh.NextAttemptAt, time.Minute)
}

func (s *DunningServiceSuite) TestSmartRetryExpiredCardPausesRetries() {
	s.GetConfig().Dunning.SmartRetry = true

	_, inv := s.seedCollectible(types.SubscriptionStatusActive)
	s.GetProcessor().ScriptDecline(types.DeclineReasonExpiredCard)

	result, err := s.service.ProcessCollection(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.DeclineReasonExpiredCard, result.DeclineReason)

	fresh := s.getInvoice(inv.ID)
	s.Equal(types.InvoiceStatusOpen, fresh.InvoiceStatus)
	s.Nil(fresh.NextAttemptAt)

	s.Len(s.GetNotifier().CallsOfKind("card_update_required"), 1)
	s.Len(s.GetNotifier().CallsOfKind("payment_failed"), 0)
	s.Equal("jane@example.com", s.GetNotifier().Calls()[0].ToAddress)
}

func (s *DunningServiceSuite) TestDeclineSendsPaymentFailedEmail() {
	_, inv := s.seedCollectible(types.SubscriptionStatusActive)
	s.GetProcessor().ScriptDecline(types.DeclineReasonOther)

	_, err := s.service.ProcessCollection(s.GetContext(), inv.ID)
	s.Require().NoError(err)

	calls := s.GetNotifier().CallsOfKind("payment_failed")
	s.Require().Len(calls, 1)
	s.Equal("jane@example.com", calls[0].ToAddress)
	s.Equal(inv.ID, calls[0].InvoiceID)
}

func (s *DunningServiceSuite) TestIncompleteSubscriptionCanceledAfterCap() {
	sub, inv := s.seedCollectible(types.SubscriptionStatusIncomplete)

	for attempt := 1; attempt <= 3; attempt++ {
		s.GetProcessor().ScriptDecline(types.DeclineReasonOther)
		_, err := s.service.ProcessCollection(s.GetContext(), inv.ID)
		s.Require().NoError(err)
	}

	fresh := s.getInvoice(inv.ID)
	s.Equal(types.InvoiceStatusVoid, fresh.InvoiceStatus)

	freshSub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, freshSub.SubscriptionStatus)
	s.True(s.GetPublisher().HasEvent(types.WebhookEventSubscriptionCanceled))
}

func (s *DunningServiceSuite) TestSuccessfulRetryRecoversSubscription() {
	sub, inv := s.seedCollectible(types.SubscriptionStatusPastDue)

	result, err := s.service.ProcessCollection(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	s.Equal(types.ChargeOutcomeSucceeded, result.Outcome)

	fresh := s.getInvoice(inv.ID)
	s.Equal(types.InvoiceStatusPaid, fresh.InvoiceStatus)

	freshSub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, freshSub.SubscriptionStatus)
}

func (s *DunningServiceSuite) TestExhaustMarksUncollectibleWhenConfigured() {
	s.GetConfig().Dunning.MarkUncollectible = true

	_, inv := s.seedCollectible(types.SubscriptionStatusActive)
	fresh := s.getInvoice(inv.ID)
	fresh.AttemptCount = 5
	s.Require().NoError(s.GetStores().InvoiceRepo.Update(s.GetContext(), fresh))

	s.Require().NoError(s.service.ScheduleNext(s.GetContext(), fresh, types.DeclineReasonOther))

	final := s.getInvoice(inv.ID)
	s.Equal(types.InvoiceStatusUncollectible, final.InvoiceStatus)
	s.Nil(final.NextAttemptAt)
	s.True(s.GetPublisher().HasEvent(types.WebhookEventSubscriptionPaymentExhausted))
}

func (s *DunningServiceSuite) TestScheduleNextRequiresOpenedInvoice() {
	inv := &invoice.Invoice{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		CustomerID:    "cust_001",
		InvoiceStatus: types.InvoiceStatusDraft,
		Currency:      "USD",
		BaseModel:     types.GetDefaultBaseModel(s.GetContext()),
	}
	err := s.service.ScheduleNext(s.GetContext(), inv, types.DeclineReasonOther)
	s.Error(err)
}
