package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/freeflowhq/billing-engine/internal/api/dto"
	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
	"github.com/freeflowhq/billing-engine/internal/domain/ledger"
	"github.com/freeflowhq/billing-engine/internal/domain/payment"
	"github.com/freeflowhq/billing-engine/internal/domain/subscription"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	webhookDto "github.com/freeflowhq/billing-engine/internal/webhook/dto"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	invoiceUpdateAttempts    = 3
	chargeTransientRetries   = 2
	chargeTransientBaseDelay = 2 * time.Second
)

// CollectionResult is the outcome of one collection attempt on an invoice
type CollectionResult struct {
	Invoice         *invoice.Invoice
	Outcome         types.ChargeOutcome
	DeclineReason   types.DeclineReason
	AlreadyRecorded bool
}

// InvoiceService owns the invoice lifecycle: draft assembly, finalization
// with discounts and tax, payment collection against the ledger, and the
// terminal transitions.
type InvoiceService interface {
	// CreateDraftForPeriod creates the draft invoice for one subscription
	// period. It is idempotent on (subscription_id, period_start): calling
	// it twice returns the same invoice.
	CreateDraftForPeriod(ctx context.Context, sub *subscription.Subscription, periodStart, periodEnd time.Time) (*invoice.Invoice, error)

	CreateOneOffInvoice(ctx context.Context, req *dto.CreateOneOffInvoiceRequest) (*dto.InvoiceResponse, error)
	AddLineItem(ctx context.Context, invoiceID string, req *dto.AddLineItemRequest) (*dto.InvoiceResponse, error)

	// Finalize computes totals, applies the coupon when given, assigns the
	// invoice number and opens the invoice. An invoice with no line items
	// cannot be finalized.
	Finalize(ctx context.Context, invoiceID string, couponCode string) (*invoice.Invoice, error)

	// AttemptCollection performs at most one charge for the invoice's next
	// attempt. Replays of an attempt already in the ledger return the
	// recorded outcome without touching the processor.
	AttemptCollection(ctx context.Context, invoiceID string) (*CollectionResult, error)

	VoidInvoice(ctx context.Context, invoiceID string) (*dto.InvoiceResponse, error)
	MarkUncollectible(ctx context.Context, invoiceID string) (*invoice.Invoice, error)

	GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error)
	ListInvoices(ctx context.Context, customerID string) (*dto.ListInvoicesResponse, error)
}

type invoiceService struct {
	ServiceParams
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(params ServiceParams) InvoiceService {
	return &invoiceService{
		ServiceParams: params,
	}
}

func (s *invoiceService) CreateDraftForPeriod(ctx context.Context, sub *subscription.Subscription, periodStart, periodEnd time.Time) (*invoice.Invoice, error) {
	if existing, err := s.InvoiceRepo.GetByPeriod(ctx, sub.ID, periodStart); err == nil {
		return existing, nil
	} else if !ierr.IsNotFound(err) {
		return nil, err
	}

	line := invoice.NewLineItem(
		fmt.Sprintf("%s (%s - %s)", sub.PlanID,
			periodStart.Format("Jan 2, 2006"), periodEnd.Format("Jan 2, 2006")),
		decimal.NewFromInt(1), sub.Amount)
	lineStart, lineEnd := periodStart, periodEnd
	line.PeriodStart = &lineStart
	line.PeriodEnd = &lineEnd
	line.EnvironmentID = sub.EnvironmentID
	line.BaseModel = types.GetDefaultBaseModel(ctx)

	subID := sub.ID
	inv := &invoice.Invoice{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		SubscriptionID: &subID,
		CustomerID:     sub.CustomerID,
		InvoiceStatus:  types.InvoiceStatusDraft,
		Currency:       sub.Currency,
		LineItems:      []*invoice.LineItem{line},
		PeriodStart:    &lineStart,
		PeriodEnd:      &lineEnd,
		EnvironmentID:  sub.EnvironmentID,
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
	inv.RecomputeSubtotal()
	inv.RecomputeTotals()

	err := s.InvoiceRepo.Create(ctx, inv)
	if err != nil {
		// A concurrent creator won the period; return its invoice
		if ierr.IsAlreadyExists(err) {
			return s.InvoiceRepo.GetByPeriod(ctx, sub.ID, periodStart)
		}
		return nil, err
	}

	s.Logger.Infow("created draft invoice for period",
		"invoice_id", inv.ID,
		"subscription_id", sub.ID,
		"period_start", periodStart,
		"period_end", periodEnd)
	return inv, nil
}

func (s *invoiceService) CreateOneOffInvoice(ctx context.Context, req *dto.CreateOneOffInvoiceRequest) (*dto.InvoiceResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv := &invoice.Invoice{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		CustomerID:    req.CustomerID,
		InvoiceStatus: types.InvoiceStatusDraft,
		Currency:      req.Currency,
		EnvironmentID: types.GetEnvironmentID(ctx),
		Metadata:      req.Metadata,
		BaseModel:     types.GetDefaultBaseModel(ctx),
	}
	for i := range req.LineItems {
		li := req.LineItems[i]
		line := invoice.NewLineItem(li.Description, li.Quantity, li.UnitAmount)
		line.PeriodStart = li.PeriodStart
		line.PeriodEnd = li.PeriodEnd
		line.EnvironmentID = inv.EnvironmentID
		line.BaseModel = types.GetDefaultBaseModel(ctx)
		if err := line.Validate(); err != nil {
			return nil, err
		}
		inv.LineItems = append(inv.LineItems, line)
	}
	inv.RecomputeSubtotal()
	inv.RecomputeTotals()

	if err := s.InvoiceRepo.Create(ctx, inv); err != nil {
		return nil, err
	}

	s.Logger.Infow("created one-off draft invoice",
		"invoice_id", inv.ID,
		"customer_id", req.CustomerID)
	return dto.NewInvoiceResponse(inv), nil
}

func (s *invoiceService) AddLineItem(ctx context.Context, invoiceID string, req *dto.AddLineItemRequest) (*dto.InvoiceResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.IsMutable() {
		return nil, ierr.NewError("line items can only be added to draft invoices").
			WithHint("This invoice has already been finalized").
			WithReportableDetails(map[string]interface{}{
				"invoice_id": invoiceID,
				"status":     inv.InvoiceStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	line := invoice.NewLineItem(req.Description, req.Quantity, req.UnitAmount)
	line.InvoiceID = inv.ID
	line.PeriodStart = req.PeriodStart
	line.PeriodEnd = req.PeriodEnd
	line.EnvironmentID = inv.EnvironmentID
	line.BaseModel = types.GetDefaultBaseModel(ctx)
	if err := line.Validate(); err != nil {
		return nil, err
	}

	inv.LineItems = append(inv.LineItems, line)
	inv.RecomputeSubtotal()
	inv.RecomputeTotals()

	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}
	return dto.NewInvoiceResponse(inv), nil
}

func (s *invoiceService) Finalize(ctx context.Context, invoiceID string, couponCode string) (*invoice.Invoice, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.InvoiceStatus != types.InvoiceStatusDraft {
		return nil, ierr.NewError("only draft invoices can be finalized").
			WithHint("This invoice has already been finalized").
			WithReportableDetails(map[string]interface{}{
				"invoice_id": invoiceID,
				"status":     inv.InvoiceStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	if len(inv.LineItems) == 0 {
		return nil, ierr.NewError("cannot finalize an invoice with no line items").
			WithHint("Add at least one line item before finalizing").
			WithReportableDetails(map[string]interface{}{"invoice_id": invoiceID}).
			Mark(ierr.ErrInvalidOperation)
	}

	now := time.Now().UTC()
	inv.RecomputeSubtotal()

	var redeemedCouponID string
	if couponCode != "" {
		couponSvc := NewCouponService(s.ServiceParams)
		c, err := couponSvc.Resolve(ctx, couponCode)
		if err != nil {
			return nil, err
		}
		result := c.ApplyDiscount(inv.Subtotal, inv.Currency)
		if err := couponSvc.Redeem(ctx, c.ID); err != nil {
			return nil, err
		}
		redeemedCouponID = c.ID
		inv.DiscountAmount = result.Discount
		couponID := c.ID
		inv.AppliedCouponID = &couponID
	}

	inv.TaxAmount = s.computeTax(inv.Subtotal.Sub(inv.DiscountAmount), inv.Currency)
	inv.RecomputeTotals()

	number, err := s.generateInvoiceNumber(ctx, now)
	if err != nil {
		s.releaseRedemption(ctx, redeemedCouponID)
		return nil, err
	}
	inv.InvoiceNumber = number
	inv.InvoiceStatus = types.InvoiceStatusOpen
	inv.OpenedAt = &now
	dueDate := now.AddDate(0, 0, s.Config.Invoice.NetTermsDays)
	inv.DueDate = &dueDate
	if inv.AmountRemaining.IsPositive() && inv.SubscriptionID != nil {
		nextAttempt := now
		inv.NextAttemptAt = &nextAttempt
	}

	if err := inv.Validate(); err != nil {
		s.releaseRedemption(ctx, redeemedCouponID)
		return nil, err
	}
	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		s.releaseRedemption(ctx, redeemedCouponID)
		return nil, err
	}

	s.publishInvoiceEvent(ctx, types.WebhookEventInvoiceFinalized, inv, "")
	s.Logger.Infow("finalized invoice",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"total", inv.Total.String(),
		"discount", inv.DiscountAmount.String(),
		"tax", inv.TaxAmount.String())

	// A fully discounted invoice has nothing to collect
	if inv.AmountRemaining.IsZero() {
		inv.InvoiceStatus = types.InvoiceStatusPaid
		inv.PaidAt = &now
		inv.NextAttemptAt = nil
		if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
			return nil, err
		}
		s.publishInvoiceEvent(ctx, types.WebhookEventInvoicePaid, inv, "")
	}

	return inv, nil
}

func (s *invoiceService) AttemptCollection(ctx context.Context, invoiceID string) (*CollectionResult, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.InvoiceStatus != types.InvoiceStatusOpen {
		return nil, ierr.NewError("only open invoices can be collected").
			WithHint("The invoice is not awaiting payment").
			WithReportableDetails(map[string]interface{}{
				"invoice_id": invoiceID,
				"status":     inv.InvoiceStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	if !inv.AmountRemaining.IsPositive() {
		return nil, ierr.NewError("invoice has no amount remaining").
			WithReportableDetails(map[string]interface{}{"invoice_id": invoiceID}).
			Mark(ierr.ErrInvalidOperation)
	}

	paymentMethod, err := s.paymentMethodFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	attempt := inv.AttemptCount + 1
	key := ledger.ChargeIdempotencyKey(inv.ID, attempt)

	// Replay guard: if this attempt already hit the ledger, settle from the
	// recorded entry without charging again.
	if existing, err := s.LedgerRepo.Get(ctx, key); err == nil {
		return s.settleRecordedAttempt(ctx, inv, attempt, existing)
	} else if !ierr.IsNotFound(err) {
		return nil, err
	}

	chargeResult, err := s.chargeWithTransientRetry(ctx, payment.ChargeRequest{
		PaymentMethodRef: paymentMethod,
		Amount:           inv.AmountRemaining,
		Currency:         inv.Currency,
		IdempotencyKey:   key,
		Description:      fmt.Sprintf("Invoice %s", inv.InvoiceNumber),
	})
	if err != nil {
		return nil, err
	}

	if chargeResult.Outcome == types.ChargeOutcomeTransient {
		// No money moved and no attempt consumed; the scheduler will come
		// back for this invoice.
		s.Logger.Warnw("collection attempt hit transient processor errors",
			"invoice_id", inv.ID,
			"attempt", attempt)
		return &CollectionResult{Invoice: inv, Outcome: types.ChargeOutcomeTransient}, nil
	}

	return s.applyChargeResult(ctx, inv, attempt, key, paymentMethod, chargeResult)
}

// applyChargeResult records the attempt in the ledger and applies the outcome
// to the invoice under optimistic concurrency.
func (s *invoiceService) applyChargeResult(ctx context.Context, inv *invoice.Invoice, attempt int, key, paymentMethod string, chargeResult *payment.ChargeResult) (*CollectionResult, error) {
	now := time.Now().UTC()

	for try := 0; ; try++ {
		entry := &ledger.Entry{
			ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_LEDGER_ENTRY),
			IdempotencyKey: key,
			EntryType:      types.LedgerEntryTypeCharge,
			InvoiceID:      inv.ID,
			Amount:         chargeResult.AmountCharged,
			Currency:       inv.Currency,
			PaymentMethod:  paymentMethod,
			Outcome:        chargeResult.Outcome,
			TenantID:       types.GetTenantID(ctx),
			CreatedAt:      now,
		}
		if chargeResult.Outcome == types.ChargeOutcomeDeclined {
			reason := chargeResult.DeclineReason
			entry.DeclineReason = &reason
		}

		// The invoice may have been voided while the charge was in flight.
		// Money moved anyway; flag the entry instead of resurrecting the
		// invoice.
		if inv.InvoiceStatus != types.InvoiceStatusOpen {
			if chargeResult.Outcome == types.ChargeOutcomeSucceeded {
				entry.RequiresReconciliation = true
				s.Logger.Errorw("charge succeeded for a non-open invoice, flagging for reconciliation",
					"invoice_id", inv.ID,
					"status", inv.InvoiceStatus,
					"idempotency_key", key)
			}
			if _, _, err := s.LedgerRepo.Record(ctx, entry); err != nil {
				return nil, err
			}
			return &CollectionResult{
				Invoice:       inv,
				Outcome:       chargeResult.Outcome,
				DeclineReason: chargeResult.DeclineReason,
			}, nil
		}

		recorded, already, err := s.LedgerRepo.Record(ctx, entry)
		if err != nil {
			return nil, err
		}
		if already {
			// A version conflict on a previous iteration can leave our own
			// recorded charge unapplied; settle from the ledger instead of
			// dropping it.
			return s.settleRecordedAttempt(ctx, inv, attempt, recorded)
		}

		inv.AttemptCount = attempt
		if chargeResult.Outcome == types.ChargeOutcomeSucceeded {
			inv.AmountPaid = inv.AmountPaid.Add(chargeResult.AmountCharged)
			inv.RecomputeTotals()
			inv.NextAttemptAt = nil
			if inv.AmountRemaining.IsZero() {
				inv.InvoiceStatus = types.InvoiceStatusPaid
				inv.PaidAt = &now
			}
		}

		err = s.InvoiceRepo.Update(ctx, inv)
		if err == nil {
			break
		}
		if !ierr.IsVersionConflict(err) || try >= invoiceUpdateAttempts {
			return nil, err
		}
		inv, err = s.InvoiceRepo.Get(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
	}

	result := &CollectionResult{
		Invoice:       inv,
		Outcome:       chargeResult.Outcome,
		DeclineReason: chargeResult.DeclineReason,
	}

	switch chargeResult.Outcome {
	case types.ChargeOutcomeSucceeded:
		s.Logger.Infow("collected invoice payment",
			"invoice_id", inv.ID,
			"amount", chargeResult.AmountCharged.String(),
			"attempt", attempt)
		if inv.InvoiceStatus == types.InvoiceStatusPaid {
			s.publishInvoiceEvent(ctx, types.WebhookEventInvoicePaid, inv, "")
		}
	case types.ChargeOutcomeDeclined:
		s.Logger.Warnw("collection attempt declined",
			"invoice_id", inv.ID,
			"attempt", attempt,
			"decline_reason", chargeResult.DeclineReason)
		s.publishInvoiceEvent(ctx, types.WebhookEventInvoicePaymentFailed, inv, string(chargeResult.DeclineReason))
	}

	return result, nil
}

// settleRecordedAttempt applies a ledger entry to an invoice that does not
// yet reflect it. A crash or version conflict between the ledger write and
// the invoice update leaves money moved with the invoice unchanged; every
// replay lands here until the invoice catches up with the ledger.
func (s *invoiceService) settleRecordedAttempt(ctx context.Context, inv *invoice.Invoice, attempt int, entry *ledger.Entry) (*CollectionResult, error) {
	result := &CollectionResult{
		Invoice:         inv,
		Outcome:         entry.Outcome,
		AlreadyRecorded: true,
	}
	if entry.DeclineReason != nil {
		result.DeclineReason = *entry.DeclineReason
	}
	if inv.AttemptCount >= attempt {
		return result, nil
	}

	now := time.Now().UTC()
	for try := 0; ; try++ {
		if inv.InvoiceStatus != types.InvoiceStatusOpen {
			if entry.Outcome == types.ChargeOutcomeSucceeded {
				s.Logger.Errorw("recorded charge against a non-open invoice left unapplied",
					"invoice_id", inv.ID,
					"status", inv.InvoiceStatus,
					"idempotency_key", entry.IdempotencyKey)
			}
			result.Invoice = inv
			return result, nil
		}

		inv.AttemptCount = attempt
		if entry.Outcome == types.ChargeOutcomeSucceeded {
			inv.AmountPaid = inv.AmountPaid.Add(entry.Amount)
			inv.RecomputeTotals()
			inv.NextAttemptAt = nil
			if inv.AmountRemaining.IsZero() {
				inv.InvoiceStatus = types.InvoiceStatusPaid
				inv.PaidAt = &now
			}
		}

		err := s.InvoiceRepo.Update(ctx, inv)
		if err == nil {
			break
		}
		if !ierr.IsVersionConflict(err) || try >= invoiceUpdateAttempts {
			return nil, err
		}
		inv, err = s.InvoiceRepo.Get(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		if inv.AttemptCount >= attempt {
			// another worker settled this attempt first
			result.Invoice = inv
			return result, nil
		}
	}

	result.Invoice = inv
	if entry.Outcome == types.ChargeOutcomeSucceeded {
		s.Logger.Infow("settled recorded charge onto invoice",
			"invoice_id", inv.ID,
			"amount", entry.Amount.String(),
			"attempt", attempt)
		if inv.InvoiceStatus == types.InvoiceStatusPaid {
			s.publishInvoiceEvent(ctx, types.WebhookEventInvoicePaid, inv, "")
		}
	}
	return result, nil
}

// releaseRedemption compensates a coupon redemption when finalization fails
// after Redeem already counted it. Best effort: a failed release is logged,
// not surfaced, since the caller is already on an error path.
func (s *invoiceService) releaseRedemption(ctx context.Context, couponID string) {
	if couponID == "" {
		return
	}
	if err := NewCouponService(s.ServiceParams).Release(ctx, couponID); err != nil {
		s.Logger.Errorw("failed to release coupon redemption",
			"coupon_id", couponID,
			"error", err)
	}
}

// chargeWithTransientRetry retries transient processor failures in place.
// Transient retries reuse the same idempotency key and never consume a
// collection attempt.
func (s *invoiceService) chargeWithTransientRetry(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = chargeTransientBaseDelay
	bo.MaxElapsedTime = 0

	var result *payment.ChargeResult
	operation := func() error {
		var err error
		result, err = s.Processor.Charge(ctx, req)
		if err != nil {
			return backoff.Permanent(err)
		}
		if result.Outcome == types.ChargeOutcomeTransient {
			return ierr.NewError("transient processor error").
				Mark(ierr.ErrProcessorTransient)
		}
		return nil
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, chargeTransientRetries), ctx))
	if err != nil {
		if ierr.IsTransient(err) {
			return result, nil
		}
		var perm *backoff.PermanentError
		if errorsAs(err, &perm) {
			return nil, perm.Err
		}
		return nil, err
	}
	return result, nil
}

func (s *invoiceService) VoidInvoice(ctx context.Context, invoiceID string) (*dto.InvoiceResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := inv.InvoiceStatus.ValidateTransition(types.InvoiceStatusVoid); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inv.InvoiceStatus = types.InvoiceStatusVoid
	inv.VoidedAt = &now
	inv.NextAttemptAt = nil

	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}

	s.Logger.Infow("voided invoice", "invoice_id", inv.ID)
	return dto.NewInvoiceResponse(inv), nil
}

func (s *invoiceService) MarkUncollectible(ctx context.Context, invoiceID string) (*invoice.Invoice, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := inv.InvoiceStatus.ValidateTransition(types.InvoiceStatusUncollectible); err != nil {
		return nil, err
	}

	inv.InvoiceStatus = types.InvoiceStatusUncollectible
	inv.NextAttemptAt = nil

	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}

	s.Logger.Warnw("marked invoice uncollectible", "invoice_id", inv.ID)
	return inv, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewInvoiceResponse(inv), nil
}

func (s *invoiceService) ListInvoices(ctx context.Context, customerID string) (*dto.ListInvoicesResponse, error) {
	invoices, err := s.InvoiceRepo.List(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return &dto.ListInvoicesResponse{
		Items: lo.Map(invoices, func(inv *invoice.Invoice, _ int) *dto.InvoiceResponse {
			return dto.NewInvoiceResponse(inv)
		}),
		Total: len(invoices),
	}, nil
}

// computeTax applies the configured additive rates to the post-discount base,
// rounding each component at source. Inclusive mode treats the rates as
// already contained in line amounts and adds nothing.
func (s *invoiceService) computeTax(base decimal.Decimal, currency string) decimal.Decimal {
	if s.Config.Tax.Inclusive || len(s.Config.Tax.DefaultRates) == 0 || !base.IsPositive() {
		return decimal.Zero
	}

	names := lo.Keys(s.Config.Tax.DefaultRates)
	sort.Strings(names)

	tax := decimal.Zero
	for _, name := range names {
		rate := s.Config.Tax.DefaultRates[name]
		component := base.Mul(rate.Div(decimal.NewFromInt(100)))
		tax = tax.Add(types.RoundToCurrencyPrecision(component, currency))
	}
	return tax
}

func (s *invoiceService) generateInvoiceNumber(ctx context.Context, now time.Time) (string, error) {
	cfg := s.Config.Invoice

	var scope string
	switch cfg.Format {
	case types.InvoiceNumberFormatYearSequential:
		scope = now.Format("2006")
	case types.InvoiceNumberFormatDateSequential:
		scope = now.Format("20060102")
	default:
		if cfg.YearlyReset {
			scope = now.Format("2006")
		}
	}

	seq, err := s.InvoiceRepo.NextSequence(ctx, types.GetTenantID(ctx), scope)
	if err != nil {
		return "", err
	}
	if cfg.StartSequence > 1 {
		seq += cfg.StartSequence - 1
	}

	suffix := fmt.Sprintf("%0*d", cfg.SuffixLength, seq)
	if scope != "" && cfg.Format != types.InvoiceNumberFormatSequential {
		return fmt.Sprintf("%s%s%s%s%s", cfg.Prefix, cfg.Separator, scope, cfg.Separator, suffix), nil
	}
	return fmt.Sprintf("%s%s%s", cfg.Prefix, cfg.Separator, suffix), nil
}

func (s *invoiceService) paymentMethodFor(ctx context.Context, inv *invoice.Invoice) (string, error) {
	if inv.SubscriptionID != nil {
		sub, err := s.SubRepo.Get(ctx, *inv.SubscriptionID)
		if err != nil {
			return "", err
		}
		if sub.PaymentMethodRef != "" {
			return sub.PaymentMethodRef, nil
		}
	}
	return "", ierr.NewError("no payment method on file").
		WithHint("The subscription has no payment method to charge").
		WithReportableDetails(map[string]interface{}{"invoice_id": inv.ID}).
		Mark(ierr.ErrInvalidOperation)
}

func (s *invoiceService) publishInvoiceEvent(ctx context.Context, eventType string, inv *invoice.Invoice, declineReason string) {
	internal := &webhookDto.InternalInvoiceEvent{
		EventType:       eventType,
		TenantID:        types.GetTenantID(ctx),
		EnvironmentID:   inv.EnvironmentID,
		InvoiceID:       inv.ID,
		InvoiceNumber:   inv.InvoiceNumber,
		CustomerID:      inv.CustomerID,
		InvoiceStatus:   string(inv.InvoiceStatus),
		Currency:        inv.Currency,
		Subtotal:        inv.Subtotal,
		DiscountTotal:   inv.DiscountAmount,
		TaxTotal:        inv.TaxAmount,
		Total:           inv.Total,
		AmountPaid:      inv.AmountPaid,
		AmountRemaining: inv.AmountRemaining,
		PeriodStart:     inv.PeriodStart,
		PeriodEnd:       inv.PeriodEnd,
		DueDate:         inv.DueDate,
		AttemptCount:    inv.AttemptCount,
		NextAttemptAt:   inv.NextAttemptAt,
		DeclineReason:   declineReason,
	}
	if inv.SubscriptionID != nil {
		internal.SubscriptionID = *inv.SubscriptionID
	}

	payload, err := jsonMarshal(internal)
	if err != nil {
		s.Logger.Errorw("failed to encode invoice event payload",
			"invoice_id", inv.ID, "error", err)
		return
	}

	event := &types.WebhookEvent{
		EventType: eventType,
		EntityID:  inv.ID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := s.WebhookPublisher.Publish(ctx, event); err != nil {
		s.Logger.Errorw("failed to publish invoice event",
			"invoice_id", inv.ID,
			"event_type", eventType,
			"error", err)
	}
}
