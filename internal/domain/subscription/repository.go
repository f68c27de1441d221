package subscription

import (
	"context"
	"time"
)

// Repository provides access to subscription storage. Update is a versioned
// write: it fails with ErrVersionConflict when the stored version no longer
// matches the one on the model, and increments the version on success.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	List(ctx context.Context, customerID string) ([]*Subscription, error)

	// ListDueForRenewal returns non-terminal subscriptions whose
	// current_period_end is at or before now.
	ListDueForRenewal(ctx context.Context, now time.Time) ([]*Subscription, error)
}
