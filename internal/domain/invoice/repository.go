package invoice

import (
	"context"
	"time"
)

// Repository provides access to invoice storage. Update is a versioned write
// failing with ErrVersionConflict on a stale version.
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, customerID string) ([]*Invoice, error)

	// GetByPeriod looks up the invoice created for a subscription period.
	// (subscription_id, period_start) is the natural idempotency key that
	// makes AdvancePeriod safe under at-least-once scheduling.
	GetByPeriod(ctx context.Context, subscriptionID string, periodStart time.Time) (*Invoice, error)

	// ListDueForCollection returns open invoices with amount remaining whose
	// next_attempt_at is at or before now.
	ListDueForCollection(ctx context.Context, now time.Time) ([]*Invoice, error)

	// NextSequence atomically claims the next invoice number sequence value
	// for the (tenant, scope) pair; scope is the year or date bucket when
	// numbering resets periodically, or empty for a global sequence.
	NextSequence(ctx context.Context, tenantID, scope string) (int, error)
}
