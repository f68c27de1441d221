package testutil

import (
	"context"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/subscription"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/samber/lo"
)

// InMemorySubscriptionStore implements subscription.Repository
type InMemorySubscriptionStore struct {
	*InMemoryStore[*subscription.Subscription]
}

// NewInMemorySubscriptionStore creates a new in-memory subscription store
func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStore[*subscription.Subscription](),
	}
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	if sub == nil {
		return nil
	}

	copied := *sub
	copied.Metadata = lo.Assign(map[string]string{}, sub.Metadata)
	copied.TrialEnd = copyTimePtr(sub.TrialEnd)
	copied.CanceledAt = copyTimePtr(sub.CanceledAt)
	copied.PausedAt = copyTimePtr(sub.PausedAt)
	copied.CouponRef = copyStringPtr(sub.CouponRef)
	copied.CouponRemainingPeriods = copyIntPtr(sub.CouponRemainingPeriods)
	return &copied
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return ierr.NewError("subscription cannot be nil").
			WithHint("Subscription cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if sub.EnvironmentID == "" {
		sub.EnvironmentID = types.GetEnvironmentID(ctx)
	}
	return s.InMemoryStore.Create(ctx, sub.ID, copySubscription(sub))
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("subscription not found").
			WithHint("Subscription not found").
			WithReportableDetails(map[string]interface{}{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copySubscription(sub), nil
}

// Update performs a versioned write; a stale version fails with ErrVersionConflict.
func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return ierr.NewError("subscription cannot be nil").
			WithHint("Subscription cannot be nil").
			Mark(ierr.ErrValidation)
	}

	err := s.InMemoryStore.UpdateFn(ctx, sub.ID, func(current *subscription.Subscription) (*subscription.Subscription, error) {
		if current.Version != sub.Version {
			return nil, ierr.NewError("subscription was modified concurrently").
				WithHint("Re-read the subscription and retry the update").
				WithReportableDetails(map[string]interface{}{"id": sub.ID, "version": sub.Version}).
				Mark(ierr.ErrVersionConflict)
		}
		updated := copySubscription(sub)
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		return updated, nil
	})
	if err != nil {
		return err
	}
	sub.Version++
	return nil
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, customerID string) ([]*subscription.Subscription, error) {
	subs, err := s.InMemoryStore.List(ctx, customerID, subscriptionFilterFn, subscriptionSortFn)
	if err != nil {
		return nil, err
	}
	return lo.Map(subs, func(sub *subscription.Subscription, _ int) *subscription.Subscription {
		return copySubscription(sub)
	}), nil
}

func (s *InMemorySubscriptionStore) ListDueForRenewal(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	subs, err := s.InMemoryStore.List(ctx, nil, func(_ context.Context, sub *subscription.Subscription, _ interface{}) bool {
		if sub.Status == types.StatusDeleted {
			return false
		}
		switch sub.SubscriptionStatus {
		case types.SubscriptionStatusActive, types.SubscriptionStatusTrialing:
			return !sub.CurrentPeriodEnd.After(now)
		}
		return false
	}, func(i, j *subscription.Subscription) bool {
		return i.CurrentPeriodEnd.Before(j.CurrentPeriodEnd)
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(subs, func(sub *subscription.Subscription, _ int) *subscription.Subscription {
		return copySubscription(sub)
	}), nil
}

func subscriptionFilterFn(ctx context.Context, sub *subscription.Subscription, filter interface{}) bool {
	if sub == nil || sub.Status == types.StatusDeleted {
		return false
	}
	if tenantID := types.GetTenantID(ctx); tenantID != "" && sub.TenantID != tenantID {
		return false
	}
	if customerID, ok := filter.(string); ok && customerID != "" {
		return sub.CustomerID == customerID
	}
	return true
}

func subscriptionSortFn(i, j *subscription.Subscription) bool {
	if i == nil || j == nil {
		return false
	}
	return i.CreatedAt.After(j.CreatedAt)
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func copyIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
