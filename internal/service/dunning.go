package service

import (
	"context"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

const customerEmailMetadataKey = "customer_email"

// DunningService drives payment retries for unpaid invoices. It owns the
// retry calendar: when the next attempt happens, when retries stop, and what
// happens to the subscription when they do.
type DunningService interface {
	// ProcessCollection runs one collection attempt for the invoice and
	// applies the outcome: recovery on success, rescheduling or exhaustion
	// on decline.
	ProcessCollection(ctx context.Context, invoiceID string) (*CollectionResult, error)

	// ScheduleNext computes the invoice's next attempt time from the active
	// policy and the decline reason, or exhausts retries when the policy
	// has no attempts left.
	ScheduleNext(ctx context.Context, inv *invoice.Invoice, reason types.DeclineReason) error

	// ExhaustRetries is the terminal dunning outcome: no further attempts,
	// the payment-exhausted event fires, and the invoice optionally becomes
	// uncollectible.
	ExhaustRetries(ctx context.Context, inv *invoice.Invoice) error

	// RunDueAttempts sweeps every invoice whose next attempt is due. Each
	// invoice is processed at most once per sweep and under an advisory
	// lock, so overlapping sweeps never double-charge.
	RunDueAttempts(ctx context.Context, now time.Time) error
}

type dunningService struct {
	ServiceParams
}

// NewDunningService creates a new dunning service
func NewDunningService(params ServiceParams) DunningService {
	return &dunningService{
		ServiceParams: params,
	}
}

func (s *dunningService) ProcessCollection(ctx context.Context, invoiceID string) (*CollectionResult, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	// Sweeps run with the default tenant; everything downstream must carry
	// the invoice's own tenant and environment.
	ctx = types.SetTenantID(ctx, inv.TenantID)
	ctx = types.SetEnvironmentID(ctx, inv.EnvironmentID)

	invoiceSvc := NewInvoiceService(s.ServiceParams)

	result, err := invoiceSvc.AttemptCollection(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if result.AlreadyRecorded {
		// A replayed success may have only now been settled onto the
		// invoice; the subscription must still recover. Replayed declines
		// were already handled when first recorded.
		if result.Outcome == types.ChargeOutcomeSucceeded && result.Invoice.SubscriptionID != nil {
			subSvc := NewSubscriptionService(s.ServiceParams)
			if err := subSvc.RecordPaymentRecovered(ctx, *result.Invoice.SubscriptionID); err != nil {
				return nil, err
			}
		}
		return result, nil
	}

	switch result.Outcome {
	case types.ChargeOutcomeSucceeded:
		if result.Invoice.SubscriptionID != nil {
			subSvc := NewSubscriptionService(s.ServiceParams)
			if err := subSvc.RecordPaymentRecovered(ctx, *result.Invoice.SubscriptionID); err != nil {
				return nil, err
			}
		}
	case types.ChargeOutcomeDeclined:
		if err := s.handleDecline(ctx, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *dunningService) handleDecline(ctx context.Context, result *CollectionResult) error {
	inv := result.Invoice

	// First-period invoices of incomplete subscriptions get a shorter
	// leash: past the cap the subscription never activates and is canceled.
	if canceled, err := s.cancelIfIncompleteExhausted(ctx, inv); err != nil || canceled {
		return err
	}

	if err := s.ScheduleNext(ctx, inv, result.DeclineReason); err != nil {
		return err
	}

	if result.DeclineReason != types.DeclineReasonExpiredCard {
		s.Notifier.PaymentFailed(ctx, s.customerEmailFor(ctx, inv), inv)
	}
	return nil
}

func (s *dunningService) cancelIfIncompleteExhausted(ctx context.Context, inv *invoice.Invoice) (bool, error) {
	if inv.SubscriptionID == nil {
		return false, nil
	}
	sub, err := s.SubRepo.Get(ctx, *inv.SubscriptionID)
	if err != nil {
		return false, err
	}
	if sub.SubscriptionStatus != types.SubscriptionStatusIncomplete {
		return false, nil
	}
	if inv.AttemptCount < s.Config.Invoice.IncompleteMaxAttempts {
		return false, nil
	}

	invoiceSvc := NewInvoiceService(s.ServiceParams)
	if _, err := invoiceSvc.VoidInvoice(ctx, inv.ID); err != nil {
		return false, err
	}
	subSvc := NewSubscriptionService(s.ServiceParams)
	if _, err := subSvc.CancelSubscription(ctx, sub.ID, nil); err != nil {
		return false, err
	}

	s.Logger.Warnw("canceled incomplete subscription after failed first payments",
		"subscription_id", sub.ID,
		"invoice_id", inv.ID,
		"attempts", inv.AttemptCount)
	return true, nil
}

func (s *dunningService) ScheduleNext(ctx context.Context, inv *invoice.Invoice, reason types.DeclineReason) error {
	if inv.OpenedAt == nil {
		return ierr.NewError("cannot schedule retries for an invoice that was never opened").
			WithReportableDetails(map[string]interface{}{"invoice_id": inv.ID}).
			Mark(ierr.ErrInvalidOperation)
	}

	// An expired card cannot succeed on retry. Retries pause until the
	// customer updates their payment method; the attempt budget is kept.
	if s.Config.Dunning.SmartRetry && reason == types.DeclineReasonExpiredCard {
		inv.NextAttemptAt = nil
		if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
			return err
		}
		s.Notifier.CardUpdateRequired(ctx, s.customerEmailFor(ctx, inv), inv)
		s.Logger.Infow("paused retries until card update",
			"invoice_id", inv.ID)
		return nil
	}

	offsets := s.Config.Dunning.ActivePolicy()
	retriesDone := inv.AttemptCount - 1
	maxRetries := lo.Min([]int{len(offsets), s.Config.Dunning.MaxAttempts})

	if retriesDone >= maxRetries {
		return s.ExhaustRetries(ctx, inv)
	}

	offsetDays := offsets[retriesDone]
	if s.Config.Dunning.SmartRetry {
		offsetDays *= smartRetryMultiplier(reason)
	}

	next := inv.OpenedAt.AddDate(0, 0, offsetDays)
	now := time.Now().UTC()
	if next.Before(now) {
		next = now.AddDate(0, 0, 1)
	}
	inv.NextAttemptAt = &next

	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return err
	}

	s.Logger.Infow("scheduled next collection attempt",
		"invoice_id", inv.ID,
		"attempt_count", inv.AttemptCount,
		"next_attempt_at", next,
		"decline_reason", reason)
	return nil
}

// smartRetryMultiplier stretches the retry spacing for decline reasons that
// rarely resolve quickly.
func smartRetryMultiplier(reason types.DeclineReason) int {
	switch reason {
	case types.DeclineReasonInsufficientFunds:
		return 2
	case types.DeclineReasonFraudSuspected:
		return 3
	default:
		return 1
	}
}

func (s *dunningService) ExhaustRetries(ctx context.Context, inv *invoice.Invoice) error {
	inv.NextAttemptAt = nil
	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return err
	}

	if inv.SubscriptionID != nil {
		subSvc := NewSubscriptionService(s.ServiceParams)
		if err := subSvc.MarkPaymentExhausted(ctx, *inv.SubscriptionID); err != nil {
			return err
		}
	}

	if s.Config.Dunning.MarkUncollectible {
		invoiceSvc := NewInvoiceService(s.ServiceParams)
		if _, err := invoiceSvc.MarkUncollectible(ctx, inv.ID); err != nil {
			return err
		}
	}

	s.Logger.Warnw("exhausted collection retries",
		"invoice_id", inv.ID,
		"attempt_count", inv.AttemptCount)
	return nil
}

func (s *dunningService) RunDueAttempts(ctx context.Context, now time.Time) error {
	due, err := s.InvoiceRepo.ListDueForCollection(ctx, now)
	if err != nil {
		return err
	}
	// The sweep query can hand back duplicates when it overlaps a
	// reschedule; one attempt per invoice per sweep.
	due = lo.UniqBy(due, func(inv *invoice.Invoice) string { return inv.ID })
	if len(due) == 0 {
		return nil
	}

	workers := s.Config.Workers.CollectionPoolSize
	if workers <= 0 {
		workers = 1
	}

	p := pool.New().WithMaxGoroutines(workers)
	for _, inv := range due {
		invoiceID := inv.ID
		p.Go(func() {
			err := s.DB.WithTx(ctx, func(txCtx context.Context) error {
				acquired, err := s.DB.TryLockKey(txCtx, "invoice_collection:"+invoiceID)
				if err != nil {
					return err
				}
				if !acquired {
					return nil
				}
				_, err = s.ProcessCollection(txCtx, invoiceID)
				return err
			})
			if err != nil {
				s.Logger.Errorw("collection sweep failed for invoice",
					"invoice_id", invoiceID,
					"error", err)
			}
		})
	}
	p.Wait()

	s.Logger.Infow("processed due collection attempts", "count", len(due))
	return nil
}

func (s *dunningService) customerEmailFor(ctx context.Context, inv *invoice.Invoice) string {
	if email, ok := inv.Metadata[customerEmailMetadataKey]; ok && email != "" {
		return email
	}
	if inv.SubscriptionID != nil {
		if sub, err := s.SubRepo.Get(ctx, *inv.SubscriptionID); err == nil {
			return sub.Metadata[customerEmailMetadataKey]
		}
	}
	return ""
}
