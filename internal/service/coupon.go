package service

import (
	"context"
	"fmt"
	"time"

	"github.com/freeflowhq/billing-engine/internal/api/dto"
	"github.com/freeflowhq/billing-engine/internal/domain/coupon"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/samber/lo"
)

const (
	couponCacheTTL       = 5 * time.Minute
	couponRedeemAttempts = 10
)

// CouponService manages coupon definitions, validation and redemption
// accounting. Redeem is the only way times_redeemed moves; it is safe under
// concurrent finalizations.
type CouponService interface {
	CreateCoupon(ctx context.Context, req *dto.CreateCouponRequest) (*dto.CouponResponse, error)
	GetCoupon(ctx context.Context, id string) (*dto.CouponResponse, error)
	ListCoupons(ctx context.Context) (*dto.ListCouponsResponse, error)

	// Resolve looks up a coupon by code and checks validity, returning a
	// typed error for unknown, expired and exhausted codes.
	Resolve(ctx context.Context, code string) (*coupon.Coupon, error)

	// Redeem increments times_redeemed with compare-and-swap semantics.
	// With max_redemptions = N and k concurrent redeemers, exactly
	// min(N, k) succeed; the rest get ErrCouponExhausted.
	Redeem(ctx context.Context, couponID string) error

	// Release undoes one redemption, compensating a finalization that
	// failed after Redeem already counted it.
	Release(ctx context.Context, couponID string) error
}

type couponService struct {
	ServiceParams
}

// NewCouponService creates a new coupon service
func NewCouponService(params ServiceParams) CouponService {
	return &couponService{
		ServiceParams: params,
	}
}

func (s *couponService) CreateCoupon(ctx context.Context, req *dto.CreateCouponRequest) (*dto.CouponResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c := req.ToCoupon(ctx)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if err := s.CouponRepo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.Cache.Delete(ctx, s.codeCacheKey(ctx, c.Code))
	s.Logger.Infow("created coupon",
		"coupon_id", c.ID,
		"code", c.Code,
		"type", c.Type)
	return dto.NewCouponResponse(c), nil
}

func (s *couponService) GetCoupon(ctx context.Context, id string) (*dto.CouponResponse, error) {
	c, err := s.CouponRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewCouponResponse(c), nil
}

func (s *couponService) ListCoupons(ctx context.Context) (*dto.ListCouponsResponse, error) {
	coupons, err := s.CouponRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	return &dto.ListCouponsResponse{
		Items: lo.Map(coupons, func(c *coupon.Coupon, _ int) *dto.CouponResponse {
			return dto.NewCouponResponse(c)
		}),
		Total: len(coupons),
	}, nil
}

// Resolve validates a code for application to an invoice. The code lookup is
// cached; validity is always evaluated fresh so a coupon expiring between
// cache fills is still rejected.
func (s *couponService) Resolve(ctx context.Context, code string) (*coupon.Coupon, error) {
	normalized := coupon.NormalizeCode(code)
	if normalized == "" {
		return nil, ierr.NewError("coupon code is required").
			WithHint("Provide a non-empty coupon code").
			Mark(ierr.ErrValidation)
	}

	c, err := s.lookupByCode(ctx, normalized)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if c.IsExpired(now) {
		return nil, ierr.NewError("coupon has expired").
			WithHint("This coupon is past its expiry date").
			WithReportableDetails(map[string]interface{}{"code": normalized}).
			Mark(ierr.ErrCouponExpired)
	}
	if c.IsExhausted() {
		return nil, ierr.NewError("coupon redemption limit reached").
			WithHint("This coupon has been fully redeemed").
			WithReportableDetails(map[string]interface{}{"code": normalized}).
			Mark(ierr.ErrCouponExhausted)
	}

	return c, nil
}

func (s *couponService) Redeem(ctx context.Context, couponID string) error {
	for attempt := 0; attempt < couponRedeemAttempts; attempt++ {
		c, err := s.CouponRepo.Get(ctx, couponID)
		if err != nil {
			return err
		}

		if c.IsExhausted() {
			return ierr.NewError("coupon redemption limit reached").
				WithHint("This coupon has been fully redeemed").
				WithReportableDetails(map[string]interface{}{"coupon_id": couponID}).
				Mark(ierr.ErrCouponExhausted)
		}

		c.TimesRedeemed++
		err = s.CouponRepo.UpdateWithVersion(ctx, c)
		if err == nil {
			s.Cache.Delete(ctx, s.codeCacheKey(ctx, c.Code))
			s.Logger.Debugw("redeemed coupon",
				"coupon_id", couponID,
				"times_redeemed", c.TimesRedeemed)
			return nil
		}
		if !ierr.IsVersionConflict(err) {
			return err
		}
		// Lost the race; re-read and try again
	}

	return ierr.NewError("could not redeem coupon").
		WithHint("Too many concurrent redemptions, try again").
		WithReportableDetails(map[string]interface{}{"coupon_id": couponID}).
		Mark(ierr.ErrVersionConflict)
}

func (s *couponService) Release(ctx context.Context, couponID string) error {
	for attempt := 0; attempt < couponRedeemAttempts; attempt++ {
		c, err := s.CouponRepo.Get(ctx, couponID)
		if err != nil {
			return err
		}
		if c.TimesRedeemed == 0 {
			return nil
		}

		c.TimesRedeemed--
		err = s.CouponRepo.UpdateWithVersion(ctx, c)
		if err == nil {
			s.Cache.Delete(ctx, s.codeCacheKey(ctx, c.Code))
			s.Logger.Debugw("released coupon redemption",
				"coupon_id", couponID,
				"times_redeemed", c.TimesRedeemed)
			return nil
		}
		if !ierr.IsVersionConflict(err) {
			return err
		}
	}

	return ierr.NewError("could not release coupon redemption").
		WithHint("Too many concurrent updates, try again").
		WithReportableDetails(map[string]interface{}{"coupon_id": couponID}).
		Mark(ierr.ErrVersionConflict)
}

func (s *couponService) lookupByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	key := s.codeCacheKey(ctx, code)
	if cached, ok := s.Cache.Get(ctx, key); ok {
		if c, ok := cached.(*coupon.Coupon); ok {
			return c, nil
		}
	}

	c, err := s.CouponRepo.GetByCode(ctx, code)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.NewError("coupon not found").
				WithHint("No coupon exists with this code").
				WithReportableDetails(map[string]interface{}{"code": code}).
				Mark(ierr.ErrCouponNotFound)
		}
		return nil, err
	}

	s.Cache.Set(ctx, key, c, couponCacheTTL)
	return c, nil
}

func (s *couponService) codeCacheKey(ctx context.Context, code string) string {
	return fmt.Sprintf("coupon:code:%s:%s", types.GetTenantID(ctx), code)
}
