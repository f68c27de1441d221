package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/samber/lo"
)

// InMemoryInvoiceStore implements invoice.Repository
type InMemoryInvoiceStore struct {
	*InMemoryStore[*invoice.Invoice]

	seqMu     sync.Mutex
	sequences map[string]int

	periodMu sync.Mutex
	periods  map[string]string // (subscription_id, period_start) -> invoice id
}

// NewInMemoryInvoiceStore creates a new in-memory invoice store
func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		InMemoryStore: NewInMemoryStore[*invoice.Invoice](),
		sequences:     make(map[string]int),
		periods:       make(map[string]string),
	}
}

func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	if inv == nil {
		return nil
	}

	copied := *inv
	copied.Metadata = lo.Assign(map[string]string{}, inv.Metadata)
	copied.SubscriptionID = copyStringPtr(inv.SubscriptionID)
	copied.AppliedCouponID = copyStringPtr(inv.AppliedCouponID)
	copied.PeriodStart = copyTimePtr(inv.PeriodStart)
	copied.PeriodEnd = copyTimePtr(inv.PeriodEnd)
	copied.DueDate = copyTimePtr(inv.DueDate)
	copied.NextAttemptAt = copyTimePtr(inv.NextAttemptAt)
	copied.OpenedAt = copyTimePtr(inv.OpenedAt)
	copied.PaidAt = copyTimePtr(inv.PaidAt)
	copied.VoidedAt = copyTimePtr(inv.VoidedAt)
	copied.LineItems = lo.Map(inv.LineItems, func(li *invoice.LineItem, _ int) *invoice.LineItem {
		c := *li
		c.Metadata = lo.Assign(map[string]string{}, li.Metadata)
		c.PeriodStart = copyTimePtr(li.PeriodStart)
		c.PeriodEnd = copyTimePtr(li.PeriodEnd)
		return &c
	})
	return &copied
}

func periodKey(subscriptionID string, periodStart time.Time) string {
	return fmt.Sprintf("%s:%d", subscriptionID, periodStart.UTC().UnixNano())
}

func (s *InMemoryInvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) error {
	if inv == nil {
		return ierr.NewError("invoice cannot be nil").
			WithHint("Invoice cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if inv.EnvironmentID == "" {
		inv.EnvironmentID = types.GetEnvironmentID(ctx)
	}

	// Enforce the (subscription_id, period_start) uniqueness the database
	// schema provides, so idempotent period billing holds in tests too.
	if inv.SubscriptionID != nil && inv.PeriodStart != nil {
		key := periodKey(*inv.SubscriptionID, *inv.PeriodStart)
		s.periodMu.Lock()
		if _, exists := s.periods[key]; exists {
			s.periodMu.Unlock()
			return ierr.NewError("invoice already exists for this period").
				WithHint("An invoice was already created for this subscription period").
				WithReportableDetails(map[string]interface{}{
					"subscription_id": *inv.SubscriptionID,
					"period_start":    *inv.PeriodStart,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		s.periods[key] = inv.ID
		s.periodMu.Unlock()
	}

	return s.InMemoryStore.Create(ctx, inv.ID, copyInvoice(inv))
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	inv, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("invoice not found").
			WithHint("Invoice not found").
			WithReportableDetails(map[string]interface{}{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copyInvoice(inv), nil
}

// Update performs a versioned write; a stale version fails with ErrVersionConflict.
func (s *InMemoryInvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) error {
	if inv == nil {
		return ierr.NewError("invoice cannot be nil").
			WithHint("Invoice cannot be nil").
			Mark(ierr.ErrValidation)
	}

	err := s.InMemoryStore.UpdateFn(ctx, inv.ID, func(current *invoice.Invoice) (*invoice.Invoice, error) {
		if current.Version != inv.Version {
			return nil, ierr.NewError("invoice was modified concurrently").
				WithHint("Re-read the invoice and retry the update").
				WithReportableDetails(map[string]interface{}{"id": inv.ID, "version": inv.Version}).
				Mark(ierr.ErrVersionConflict)
		}
		updated := copyInvoice(inv)
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		return updated, nil
	})
	if err != nil {
		return err
	}
	inv.Version++
	return nil
}

func (s *InMemoryInvoiceStore) List(ctx context.Context, customerID string) ([]*invoice.Invoice, error) {
	invoices, err := s.InMemoryStore.List(ctx, customerID, invoiceFilterFn, invoiceSortFn)
	if err != nil {
		return nil, err
	}
	return lo.Map(invoices, func(inv *invoice.Invoice, _ int) *invoice.Invoice {
		return copyInvoice(inv)
	}), nil
}

func (s *InMemoryInvoiceStore) GetByPeriod(ctx context.Context, subscriptionID string, periodStart time.Time) (*invoice.Invoice, error) {
	invoices, err := s.InMemoryStore.List(ctx, nil, func(_ context.Context, inv *invoice.Invoice, _ interface{}) bool {
		return inv.Status != types.StatusDeleted &&
			inv.SubscriptionID != nil && *inv.SubscriptionID == subscriptionID &&
			inv.PeriodStart != nil && inv.PeriodStart.Equal(periodStart)
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, ierr.NewError("invoice not found for period").
			WithHint("No invoice exists for this subscription period").
			WithReportableDetails(map[string]interface{}{
				"subscription_id": subscriptionID,
				"period_start":    periodStart,
			}).
			Mark(ierr.ErrNotFound)
	}
	return copyInvoice(invoices[0]), nil
}

func (s *InMemoryInvoiceStore) ListDueForCollection(ctx context.Context, now time.Time) ([]*invoice.Invoice, error) {
	invoices, err := s.InMemoryStore.List(ctx, nil, func(_ context.Context, inv *invoice.Invoice, _ interface{}) bool {
		return inv.Status != types.StatusDeleted &&
			inv.InvoiceStatus == types.InvoiceStatusOpen &&
			inv.AmountRemaining.IsPositive() &&
			inv.NextAttemptAt != nil && !inv.NextAttemptAt.After(now)
	}, func(i, j *invoice.Invoice) bool {
		return i.NextAttemptAt.Before(*j.NextAttemptAt)
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(invoices, func(inv *invoice.Invoice, _ int) *invoice.Invoice {
		return copyInvoice(inv)
	}), nil
}

func (s *InMemoryInvoiceStore) NextSequence(_ context.Context, tenantID, scope string) (int, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	key := tenantID + ":" + scope
	s.sequences[key]++
	return s.sequences[key], nil
}

func invoiceFilterFn(ctx context.Context, inv *invoice.Invoice, filter interface{}) bool {
	if inv == nil || inv.Status == types.StatusDeleted {
		return false
	}
	if tenantID := types.GetTenantID(ctx); tenantID != "" && inv.TenantID != tenantID {
		return false
	}
	if customerID, ok := filter.(string); ok && customerID != "" {
		return inv.CustomerID == customerID
	}
	return true
}

func invoiceSortFn(i, j *invoice.Invoice) bool {
	if i == nil || j == nil {
		return false
	}
	return i.CreatedAt.After(j.CreatedAt)
}

// Clear resets invoices, period keys and claimed sequences
func (s *InMemoryInvoiceStore) Clear() {
	s.InMemoryStore.Clear()
	s.seqMu.Lock()
	s.sequences = make(map[string]int)
	s.seqMu.Unlock()
	s.periodMu.Lock()
	s.periods = make(map[string]string)
	s.periodMu.Unlock()
}
