package testutil

import (
	"context"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/coupon"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// InMemoryCouponStore implements coupon.Repository
type InMemoryCouponStore struct {
	*InMemoryStore[*coupon.Coupon]
}

// NewInMemoryCouponStore creates a new in-memory coupon store
func NewInMemoryCouponStore() *InMemoryCouponStore {
	return &InMemoryCouponStore{
		InMemoryStore: NewInMemoryStore[*coupon.Coupon](),
	}
}

func copyCoupon(c *coupon.Coupon) *coupon.Coupon {
	if c == nil {
		return nil
	}

	copied := *c
	copied.Metadata = lo.Assign(map[string]string{}, c.Metadata)
	copied.ExpiresAt = copyTimePtr(c.ExpiresAt)
	copied.DurationInMonths = copyIntPtr(c.DurationInMonths)
	copied.MaxRedemptions = copyIntPtr(c.MaxRedemptions)
	copied.PercentageOff = copyDecimalPtr(c.PercentageOff)
	copied.AmountOff = copyDecimalPtr(c.AmountOff)
	return &copied
}

func (s *InMemoryCouponStore) Create(ctx context.Context, c *coupon.Coupon) error {
	if c == nil {
		return ierr.NewError("coupon cannot be nil").
			WithHint("Coupon cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if c.EnvironmentID == "" {
		c.EnvironmentID = types.GetEnvironmentID(ctx)
	}

	existing, _ := s.GetByCode(ctx, c.Code)
	if existing != nil {
		return ierr.NewError("coupon code already exists").
			WithHint("A coupon with this code already exists").
			WithReportableDetails(map[string]interface{}{"code": c.Code}).
			Mark(ierr.ErrAlreadyExists)
	}

	return s.InMemoryStore.Create(ctx, c.ID, copyCoupon(c))
}

func (s *InMemoryCouponStore) Get(ctx context.Context, id string) (*coupon.Coupon, error) {
	c, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("coupon not found").
			WithHint("Coupon not found").
			WithReportableDetails(map[string]interface{}{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copyCoupon(c), nil
}

func (s *InMemoryCouponStore) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)
	coupons, err := s.InMemoryStore.List(ctx, nil, func(ctx context.Context, c *coupon.Coupon, _ interface{}) bool {
		return couponFilterFn(ctx, c, nil) && c.Code == code
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(coupons) == 0 {
		return nil, ierr.NewError("coupon not found").
			WithHint("No coupon exists with this code").
			WithReportableDetails(map[string]interface{}{"code": code}).
			Mark(ierr.ErrNotFound)
	}
	return copyCoupon(coupons[0]), nil
}

// UpdateWithVersion performs a compare-and-swap on the coupon's version; a
// stale version fails with ErrVersionConflict so concurrent redemptions
// never lose an increment.
func (s *InMemoryCouponStore) UpdateWithVersion(ctx context.Context, c *coupon.Coupon) error {
	if c == nil {
		return ierr.NewError("coupon cannot be nil").
			WithHint("Coupon cannot be nil").
			Mark(ierr.ErrValidation)
	}

	err := s.InMemoryStore.UpdateFn(ctx, c.ID, func(current *coupon.Coupon) (*coupon.Coupon, error) {
		if current.Version != c.Version {
			return nil, ierr.NewError("coupon was modified concurrently").
				WithHint("Re-read the coupon and retry the update").
				WithReportableDetails(map[string]interface{}{"id": c.ID, "version": c.Version}).
				Mark(ierr.ErrVersionConflict)
		}
		updated := copyCoupon(c)
		updated.Version++
		updated.UpdatedAt = time.Now().UTC()
		return updated, nil
	})
	if err != nil {
		return err
	}
	c.Version++
	return nil
}

func (s *InMemoryCouponStore) List(ctx context.Context) ([]*coupon.Coupon, error) {
	coupons, err := s.InMemoryStore.List(ctx, nil, couponFilterFn, couponSortFn)
	if err != nil {
		return nil, err
	}
	return lo.Map(coupons, func(c *coupon.Coupon, _ int) *coupon.Coupon {
		return copyCoupon(c)
	}), nil
}

func couponFilterFn(ctx context.Context, c *coupon.Coupon, _ interface{}) bool {
	if c == nil || c.Status == types.StatusDeleted {
		return false
	}
	if tenantID := types.GetTenantID(ctx); tenantID != "" && c.TenantID != tenantID {
		return false
	}
	return true
}

func couponSortFn(i, j *coupon.Coupon) bool {
	if i == nil || j == nil {
		return false
	}
	return i.CreatedAt.After(j.CreatedAt)
}

func copyDecimalPtr(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
