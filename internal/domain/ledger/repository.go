package ledger

import "context"

// Repository is the append-only ledger store.
type Repository interface {
	// Record appends the entry unless one with the same idempotency key
	// already exists; in that case it returns the existing entry and
	// alreadyRecorded=true and writes nothing.
	Record(ctx context.Context, entry *Entry) (recorded *Entry, alreadyRecorded bool, err error)

	Get(ctx context.Context, idempotencyKey string) (*Entry, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*Entry, error)

	// ListRequiringReconciliation returns entries flagged for manual
	// reconciliation, e.g. charges that landed after their invoice was voided.
	ListRequiringReconciliation(ctx context.Context) ([]*Entry, error)
}
