package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/freeflowhq/billing-engine/internal/api/dto"
	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
	"github.com/freeflowhq/billing-engine/internal/domain/ledger"
	"github.com/freeflowhq/billing-engine/internal/domain/payment"
	"github.com/freeflowhq/billing-engine/internal/domain/subscription"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/testutil"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

// conflictingLedgerStore wraps the ledger store and bumps the invoice out of
// band right after the first real Record, so the service's follow-up invoice
// update hits a version conflict.
type conflictingLedgerStore struct {
	ledger.Repository
	invoices  *testutil.InMemoryInvoiceStore
	invoiceID string
	bumped    bool
}

func (l *conflictingLedgerStore) Record(ctx context.Context, entry *ledger.Entry) (*ledger.Entry, bool, error) {
	recorded, already, err := l.Repository.Record(ctx, entry)
	if err == nil && !already && !l.bumped {
		l.bumped = true
		if inv, getErr := l.invoices.Get(ctx, l.invoiceID); getErr == nil {
			_ = l.invoices.Update(ctx, inv)
		}
	}
	return recorded, already, err
}

// failingSequenceStore makes invoice number allocation fail a set number of
// times before delegating to the real store.
type failingSequenceStore struct {
	invoice.Repository
	failures int
}

func (s *failingSequenceStore) NextSequence(ctx context.Context, tenantID, scope string) (int, error) {
	if s.failures > 0 {
		s.failures--
		return 0, ierr.NewError("sequence allocation failed").
			Mark(ierr.ErrDatabase)
	}
	return s.Repository.NextSequence(ctx, tenantID, scope)
}

type InvoiceServiceSuite struct {
	testutil.BaseServiceTestSuite
	service InvoiceService
	params  ServiceParams
}

func TestInvoiceService(t *testing.T) {
	suite.Run(t, new(InvoiceServiceSuite))
}

func (s *InvoiceServiceSuite) SetupTest() {
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
	s.service = NewInvoiceService(s.params)
}

func paymentChargeResult(outcome types.ChargeOutcome, amount decimal.Decimal) payment.ChargeResult {
	return payment.ChargeResult{Outcome: outcome, AmountCharged: amount}
}

func (s *InvoiceServiceSuite) createDraft(amount decimal.Decimal) *dto.InvoiceResponse {
	resp, err := s.service.CreateOneOffInvoice(s.GetContext(), &dto.CreateOneOffInvoiceRequest{
		CustomerID: "cust_001",
		Currency:   "USD",
		LineItems: []dto.AddLineItemRequest{
			{Description: "Setup fee", Quantity: decimal.NewFromInt(1), UnitAmount: amount},
		},
	})
	s.Require().NoError(err)
	return resp
}

// seedOpenSubscriptionInvoice creates a subscription plus one finalized open
// invoice ready for collection.
func (s *InvoiceServiceSuite) seedOpenSubscriptionInvoice(amount decimal.Decimal) (*subscription.Subscription, *invoice.Invoice) {
	now := time.Now().UTC()
	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		CustomerID:         "cust_001",
		PlanID:             "plan_basic",
		SubscriptionStatus: types.SubscriptionStatusActive,
		Amount:             amount,
		Currency:           "USD",
		BillingPeriod:      types.BillingPeriodMonthly,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		PaymentMethodRef:   "pm_001",
		EnvironmentID:      "env_test",
		BaseModel:          types.GetDefaultBaseModel(s.GetContext()),
	}
	s.Require().NoError(s.GetStores().SubscriptionRepo.Create(s.GetContext(), sub))

	draft, err := s.service.CreateDraftForPeriod(s.GetContext(), sub, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	s.Require().NoError(err)
	inv, err := s.service.Finalize(s.GetContext(), draft.ID, "")
	s.Require().NoError(err)
	s.Require().Equal(types.InvoiceStatusOpen, inv.InvoiceStatus)
	return sub, inv
}

func (s *InvoiceServiceSuite) TestFinalizeComputesTotalsWithTax() {
	s.GetConfig().Tax.DefaultRates = map[string]decimal.Decimal{
		"vat":  decimal.NewFromInt(20),
		"levy": decimal.RequireFromString("1.5"),
	}

	draft := s.createDraft(decimal.NewFromInt(100))
	inv, err := s.service.Finalize(s.GetContext(), draft.ID, "")
	s.NoError(err)

	s.Equal(types.InvoiceStatusOpen, inv.InvoiceStatus)
	s.True(inv.Subtotal.Equal(decimal.NewFromInt(100)))
	s.True(inv.TaxAmount.Equal(decimal.RequireFromString("21.50")), "tax was %s", inv.TaxAmount)
	s.True(inv.Total.Equal(inv.Subtotal.Sub(inv.DiscountAmount).Add(inv.TaxAmount)))
	s.True(inv.AmountRemaining.Equal(inv.Total))
	s.NotNil(inv.OpenedAt)
	s.NotNil(inv.DueDate)
	// one-off invoices have no payment method to auto-collect
	s.Nil(inv.NextAttemptAt)
	s.True(s.GetPublisher().HasEvent(types.WebhookEventInvoiceFinalized))
}

func (s *InvoiceServiceSuite) TestFinalizeEmptyDraftFails() {
	inv := &invoice.Invoice{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		CustomerID:    "cust_001",
		InvoiceStatus: types.InvoiceStatusDraft,
		Currency:      "USD",
		EnvironmentID: "env_test",
		BaseModel:     types.GetDefaultBaseModel(s.GetContext()),
	}
	s.Require().NoError(s.GetStores().InvoiceRepo.Create(s.GetContext(), inv))

	_, err := s.service.Finalize(s.GetContext(), inv.ID, "")
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *InvoiceServiceSuite) TestAddLineItemOnlyOnDrafts() {
	draft := s.createDraft(decimal.NewFromInt(50))

	resp, err := s.service.AddLineItem(s.GetContext(), draft.ID, &dto.AddLineItemRequest{
		Description: "Support hours",
		Quantity:    decimal.NewFromInt(2),
		UnitAmount:  decimal.NewFromInt(25),
	})
	s.NoError(err)
	s.Len(resp.LineItems, 2)
	s.True(resp.Subtotal.Equal(decimal.NewFromInt(100)))

	_, err = s.service.Finalize(s.GetContext(), draft.ID, "")
	s.Require().NoError(err)

	_, err = s.service.AddLineItem(s.GetContext(), draft.ID, &dto.AddLineItemRequest{
		Description: "Late addition",
		Quantity:    decimal.NewFromInt(1),
		UnitAmount:  decimal.NewFromInt(10),
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *InvoiceServiceSuite) TestInvoiceNumbersIncrement() {
	year := time.Now().UTC().Format("2006")

	first := s.createDraft(decimal.NewFromInt(10))
	a, err := s.service.Finalize(s.GetContext(), first.ID, "")
	s.NoError(err)
	second := s.createDraft(decimal.NewFromInt(20))
	b, err := s.service.Finalize(s.GetContext(), second.ID, "")
	s.NoError(err)

	s.Equal(fmt.Sprintf("INV-%s-000001", year), a.InvoiceNumber)
	s.Equal(fmt.Sprintf("INV-%s-000002", year), b.InvoiceNumber)
}

func (s *InvoiceServiceSuite) TestFinalizeWithCouponDiscount() {
	couponSvc := NewCouponService(s.params)
	created, err := couponSvc.CreateCoupon(s.GetContext(), &dto.CreateCouponRequest{
		Code:          "WELCOME10",
		Type:          types.CouponTypePercentage,
		PercentageOff: decimalPtr(decimal.NewFromInt(10)),
		Duration:      types.CouponDurationOnce,
	})
	s.Require().NoError(err)

	draft := s.createDraft(decimal.NewFromInt(99))
	inv, err := s.service.Finalize(s.GetContext(), draft.ID, "WELCOME10")
	s.NoError(err)

	s.True(inv.DiscountAmount.Equal(decimal.RequireFromString("9.90")), "discount was %s", inv.DiscountAmount)
	s.True(inv.Total.Equal(decimal.RequireFromString("89.10")), "total was %s", inv.Total)
	s.Require().NotNil(inv.AppliedCouponID)
	s.Equal(created.ID, *inv.AppliedCouponID)

	fresh, err := s.GetStores().CouponRepo.Get(s.GetContext(), created.ID)
	s.NoError(err)
	s.Equal(1, fresh.TimesRedeemed)
}

func (s *InvoiceServiceSuite) TestFullyDiscountedInvoicePaidImmediately() {
	couponSvc := NewCouponService(s.params)
	_, err := couponSvc.CreateCoupon(s.GetContext(), &dto.CreateCouponRequest{
		Code:          "FREEMONTH",
		Type:          types.CouponTypePercentage,
		PercentageOff: decimalPtr(decimal.NewFromInt(100)),
		Duration:      types.CouponDurationOnce,
	})
	s.Require().NoError(err)

	draft := s.createDraft(decimal.NewFromInt(30))
	inv, err := s.service.Finalize(s.GetContext(), draft.ID, "FREEMONTH")
	s.NoError(err)

	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
	s.NotNil(inv.PaidAt)
	s.True(inv.AmountRemaining.IsZero())
	s.Zero(s.GetProcessor().ChargeCount())
	s.True(s.GetPublisher().HasEvent(types.WebhookEventInvoicePaid))
}

func (s *InvoiceServiceSuite) TestAttemptCollectionChargesRemaining() {
	_, inv := s.seedOpenSubscriptionInvoice(decimal.NewFromInt(99))

	result, err := s.service.AttemptCollection(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(types.ChargeOutcomeSucceeded, result.Outcome)
	s.False(result.AlreadyRecorded)
	s.Equal(types.InvoiceStatusPaid, result.Invoice.InvoiceStatus)
	s.True(result.Invoice.AmountPaid.Equal(decimal.NewFromInt(99)))
	s.Nil(result.Invoice.NextAttemptAt)

	entries, err := s.GetStores().LedgerRepo.ListByInvoice(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(types.ChargeOutcomeSucceeded, entries[0].Outcome)
	s.False(entries[0].RequiresReconciliation)
}

func (s *InvoiceServiceSuite) TestAttemptCollectionReplaysLedgerEntry() {
	_, inv := s.seedOpenSubscriptionInvoice(decimal.NewFromInt(99))

	s.GetProcessor().ScriptDecline(types.DeclineReasonInsufficientFunds)
	result, err := s.service.AttemptCollection(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(types.ChargeOutcomeDeclined, result.Outcome)
	s.Equal(1, s.GetProcessor().ChargeCount())

	// Simulate a crash after the ledger write but before the invoice update:
	// the attempt count rolls back while the ledger entry survives.
	fresh, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), inv.ID)
	s.Require().NoError(err)
	fresh.AttemptCount = 0
	s.Require().NoError(s.GetStores().InvoiceRepo.Update(s.GetContext(), fresh))

	replayed, err := s.service.AttemptCollection(s.GetContext(), inv.ID)
	s.NoError(err)
	s.True(replayed.AlreadyRecorded)
	s.Equal(types.ChargeOutcomeDeclined, replayed.Outcome)
	s.Equal(types.DeclineReasonInsufficientFunds, replayed.DeclineReason)
	// no second charge hit the processor
	s.Equal(1, s.GetProcessor().ChargeCount())
}

func (s *InvoiceServiceSuite) TestCollectionSettlesChargeAfterVersionConflict() {
	_, inv := s.seedOpenSubscriptionInvoice(decimal.NewFromInt(99))

	params := s.params
	params.LedgerRepo = &conflictingLedgerStore{
		Repository: s.GetStores().LedgerRepo,
		invoices:   s.GetStores().InvoiceRepo,
		invoiceID:  inv.ID,
	}
	svc := NewInvoiceService(params)

	result, err := svc.AttemptCollection(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(types.ChargeOutcomeSucceeded, result.Outcome)
	s.True(result.AlreadyRecorded)
	s.Equal(1, s.GetProcessor().ChargeCount())

	// the recorded charge must land on the invoice despite the conflict
	fresh, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaid, fresh.InvoiceStatus)
	s.True(fresh.AmountPaid.Equal(decimal.NewFromInt(99)))
	s.Equal(1, fresh.AttemptCount)
	s.Nil(fresh.NextAttemptAt)

	entries, err := s.GetStores().LedgerRepo.ListByInvoice(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Len(entries, 1)
	s.True(s.GetPublisher().HasEvent(types.WebhookEventInvoicePaid))
}

func (s *InvoiceServiceSuite) TestReplaySettlesChargeRecordedBeforeCrash() {
	_, inv := s.seedOpenSubscriptionInvoice(decimal.NewFromInt(99))

	// Record the successful charge in the ledger without touching the
	// invoice, as if the process died between the two writes.
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

	result, err := s.service.AttemptCollection(s.GetContext(), inv.ID)
	s.NoError(err)
	s.True(result.AlreadyRecorded)
	s.Equal(types.ChargeOutcomeSucceeded, result.Outcome)
	s.Equal(types.InvoiceStatusPaid, result.Invoice.InvoiceStatus)
	s.Equal(1, result.Invoice.AttemptCount)
	// the customer is never charged a second time
	s.Zero(s.GetProcessor().ChargeCount())
}

func (s *InvoiceServiceSuite) TestFailedFinalizeReleasesCouponRedemption() {
	couponSvc := NewCouponService(s.params)
	created, err := couponSvc.CreateCoupon(s.GetContext(), &dto.CreateCouponRequest{
		Code:          "LASTSEAT",
		Type:          types.CouponTypePercentage,
		PercentageOff: decimalPtr(decimal.NewFromInt(10)),
		Duration:      types.CouponDurationOnce,
	})
	s.Require().NoError(err)

	draft := s.createDraft(decimal.NewFromInt(100))

	params := s.params
	params.InvoiceRepo = &failingSequenceStore{
		Repository: s.GetStores().InvoiceRepo,
		failures:   1,
	}
	svc := NewInvoiceService(params)

	_, err = svc.Finalize(s.GetContext(), draft.ID, "LASTSEAT")
	s.Error(err)

	// the failed finalization does not burn a redemption
	fresh, err := s.GetStores().CouponRepo.Get(s.GetContext(), created.ID)
	s.NoError(err)
	s.Equal(0, fresh.TimesRedeemed)

	inv, err := svc.Finalize(s.GetContext(), draft.ID, "LASTSEAT")
	s.NoError(err)
	s.True(inv.DiscountAmount.Equal(decimal.NewFromInt(10)))
	fresh, err = s.GetStores().CouponRepo.Get(s.GetContext(), created.ID)
	s.NoError(err)
	s.Equal(1, fresh.TimesRedeemed)
}

func (s *InvoiceServiceSuite) TestVoidInvoiceStopsCollection() {
	_, inv := s.seedOpenSubscriptionInvoice(decimal.NewFromInt(99))

	voided, err := s.service.VoidInvoice(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusVoid, voided.InvoiceStatus)
	s.NotNil(voided.VoidedAt)
	s.Nil(voided.NextAttemptAt)

	_, err = s.service.AttemptCollection(s.GetContext(), inv.ID)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))

	// terminal states reject further transitions
	_, err = s.service.VoidInvoice(s.GetContext(), inv.ID)
	s.Error(err)
}

func (s *InvoiceServiceSuite) TestPartialPaymentKeepsInvoiceOpen() {
	_, inv := s.seedOpenSubscriptionInvoice(decimal.NewFromInt(100))

	s.GetProcessor().Script(paymentChargeResult(types.ChargeOutcomeSucceeded, decimal.NewFromInt(40)))

	result, err := s.service.AttemptCollection(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(types.ChargeOutcomeSucceeded, result.Outcome)
	s.Equal(types.InvoiceStatusOpen, result.Invoice.InvoiceStatus)
	s.True(result.Invoice.AmountPaid.Equal(decimal.NewFromInt(40)))
	s.True(result.Invoice.AmountRemaining.Equal(decimal.NewFromInt(60)))
}

func (s *InvoiceServiceSuite) TestTransientFailureDoesNotConsumeAttempt() {
	_, inv := s.seedOpenSubscriptionInvoice(decimal.NewFromInt(99))

	s.GetProcessor().Script(
		paymentChargeResult(types.ChargeOutcomeTransient, decimal.Zero),
		paymentChargeResult(types.ChargeOutcomeTransient, decimal.Zero),
		paymentChargeResult(types.ChargeOutcomeTransient, decimal.Zero),
	)

	result, err := s.service.AttemptCollection(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(types.ChargeOutcomeTransient, result.Outcome)

	fresh, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Equal(0, fresh.AttemptCount)
	s.Equal(types.InvoiceStatusOpen, fresh.InvoiceStatus)

	entries, err := s.GetStores().LedgerRepo.ListByInvoice(s.GetContext(), inv.ID)
	s.NoError(err)
	s.Len(entries, 0)
}
