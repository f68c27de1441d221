package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/ledger"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
)

// InMemoryLedgerStore implements ledger.Repository. Entries are keyed by
// idempotency key; Record mirrors the database's insert-or-return-existing
// behavior so replay guards behave the same in tests.
type InMemoryLedgerStore struct {
	mu      sync.Mutex
	entries map[string]*ledger.Entry
	order   []string
}

// NewInMemoryLedgerStore creates a new in-memory ledger store
func NewInMemoryLedgerStore() *InMemoryLedgerStore {
	return &InMemoryLedgerStore{
		entries: make(map[string]*ledger.Entry),
	}
}

func copyLedgerEntry(e *ledger.Entry) *ledger.Entry {
	if e == nil {
		return nil
	}
	copied := *e
	if e.DeclineReason != nil {
		reason := *e.DeclineReason
		copied.DeclineReason = &reason
	}
	return &copied
}

func (s *InMemoryLedgerStore) Record(_ context.Context, entry *ledger.Entry) (*ledger.Entry, bool, error) {
	if entry == nil {
		return nil, false, ierr.NewError("ledger entry cannot be nil").
			WithHint("Ledger entry cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if entry.IdempotencyKey == "" {
		return nil, false, ierr.NewError("idempotency key is required").
			WithHint("Every ledger entry needs an idempotency key").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[entry.IdempotencyKey]; ok {
		return copyLedgerEntry(existing), true, nil
	}

	stored := copyLedgerEntry(entry)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.entries[entry.IdempotencyKey] = stored
	s.order = append(s.order, entry.IdempotencyKey)
	return copyLedgerEntry(stored), false, nil
}

func (s *InMemoryLedgerStore) Get(_ context.Context, idempotencyKey string) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[idempotencyKey]
	if !ok {
		return nil, ierr.NewError("ledger entry not found").
			WithHint("No ledger entry exists for this idempotency key").
			WithReportableDetails(map[string]interface{}{"idempotency_key": idempotencyKey}).
			Mark(ierr.ErrNotFound)
	}
	return copyLedgerEntry(entry), nil
}

func (s *InMemoryLedgerStore) ListByInvoice(_ context.Context, invoiceID string) ([]*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*ledger.Entry
	for _, key := range s.order {
		if entry := s.entries[key]; entry.InvoiceID == invoiceID {
			result = append(result, copyLedgerEntry(entry))
		}
	}
	return result, nil
}

func (s *InMemoryLedgerStore) ListRequiringReconciliation(_ context.Context) ([]*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*ledger.Entry
	for _, key := range s.order {
		if entry := s.entries[key]; entry.RequiresReconciliation {
			result = append(result, copyLedgerEntry(entry))
		}
	}
	return result, nil
}

// Clear removes all ledger entries
func (s *InMemoryLedgerStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*ledger.Entry)
	s.order = nil
}
