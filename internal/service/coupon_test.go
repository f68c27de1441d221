package service

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/freeflowhq/billing-engine/internal/api/dto"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/testutil"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type CouponServiceSuite struct {
	testutil.BaseServiceTestSuite
	service CouponService
}

func TestCouponService(t *testing.T) {
	suite.Run(t, new(CouponServiceSuite))
}

func (s *CouponServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewCouponService(ServiceParams{
		Logger:              s.GetLogger(),
		Config:              s.GetConfig(),
		DB:                  s.GetDB(),
		SubRepo:             s.GetStores().SubscriptionRepo,
		InvoiceRepo:         s.GetStores().InvoiceRepo,
		CouponRepo:          s.GetStores().CouponRepo,
		LedgerRepo:          s.GetStores().LedgerRepo,
		WebhookEndpointRepo: s.GetStores().WebhookEndpointRepo,
		WebhookPublisher:    s.GetPublisher(),
		Processor:           s.GetProcessor(),
		Cache:               s.GetCache(),
		Notifier:            s.GetNotifier(),
	})
}

func (s *CouponServiceSuite) createCoupon(req *dto.CreateCouponRequest) *dto.CouponResponse {
	resp, err := s.service.CreateCoupon(s.GetContext(), req)
	s.Require().NoError(err)
	return resp
}

func (s *CouponServiceSuite) TestCreateCouponNormalizesCode() {
	resp := s.createCoupon(&dto.CreateCouponRequest{
		Code:          "  spring20 ",
		Name:          "Spring promo",
		Type:          types.CouponTypePercentage,
		PercentageOff: decimalPtr(decimal.NewFromInt(20)),
		Duration:      types.CouponDurationOnce,
	})
	s.Equal("SPRING20", resp.Code)
	s.True(resp.Valid)
}

func (s *CouponServiceSuite) TestCreateCouponRejectsBadPercentage() {
	_, err := s.service.CreateCoupon(s.GetContext(), &dto.CreateCouponRequest{
		Code:          "TOOBIG",
		Type:          types.CouponTypePercentage,
		PercentageOff: decimalPtr(decimal.NewFromInt(150)),
		Duration:      types.CouponDurationOnce,
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *CouponServiceSuite) TestCreateCouponRejectsDuplicateCode() {
	s.createCoupon(&dto.CreateCouponRequest{
		Code:          "TWICE",
		Type:          types.CouponTypePercentage,
		PercentageOff: decimalPtr(decimal.NewFromInt(10)),
		Duration:      types.CouponDurationOnce,
	})
	_, err := s.service.CreateCoupon(s.GetContext(), &dto.CreateCouponRequest{
		Code:          "twice",
		Type:          types.CouponTypePercentage,
		PercentageOff: decimalPtr(decimal.NewFromInt(10)),
		Duration:      types.CouponDurationOnce,
	})
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))
}

func (s *CouponServiceSuite) TestResolveUnknownCode() {
	_, err := s.service.Resolve(s.GetContext(), "NOSUCH")
	s.Error(err)
	s.True(errors.Is(err, ierr.ErrCouponNotFound))
}

func (s *CouponServiceSuite) TestResolveExpiredCoupon() {
	past := time.Now().UTC().Add(-time.Hour)
	s.createCoupon(&dto.CreateCouponRequest{
		Code:          "LASTYEAR",
		Type:          types.CouponTypePercentage,
		PercentageOff: decimalPtr(decimal.NewFromInt(10)),
		Duration:      types.CouponDurationOnce,
		ExpiresAt:     &past,
	})

	_, err := s.service.Resolve(s.GetContext(), "lastyear")
	s.Error(err)
	s.True(errors.Is(err, ierr.ErrCouponExpired))
}

func (s *CouponServiceSuite) TestResolveExhaustedCoupon() {
	resp := s.createCoupon(&dto.CreateCouponRequest{
		Code:           "SCARCE",
		Type:           types.CouponTypeFixedAmount,
		AmountOff:      decimalPtr(decimal.NewFromInt(5)),
		Currency:       "USD",
		Duration:       types.CouponDurationOnce,
		MaxRedemptions: lo.ToPtr(1),
	})
	s.Require().NoError(s.service.Redeem(s.GetContext(), resp.ID))

	_, err := s.service.Resolve(s.GetContext(), "SCARCE")
	s.Error(err)
	s.True(errors.Is(err, ierr.ErrCouponExhausted))
}

func (s *CouponServiceSuite) TestResolveChecksValidityPastCachedLookup() {
	soon := time.Now().UTC().Add(50 * time.Millisecond)
	s.createCoupon(&dto.CreateCouponRequest{
		Code:          "FLEETING",
		Type:          types.CouponTypePercentage,
		PercentageOff: decimalPtr(decimal.NewFromInt(10)),
		Duration:      types.CouponDurationOnce,
		ExpiresAt:     &soon,
	})

	// first resolve primes the cache while the coupon is still valid
	_, err := s.service.Resolve(s.GetContext(), "FLEETING")
	s.Require().NoError(err)

	time.Sleep(100 * time.Millisecond)

	_, err = s.service.Resolve(s.GetContext(), "FLEETING")
	s.Error(err)
	s.True(errors.Is(err, ierr.ErrCouponExpired))
}

func (s *CouponServiceSuite) TestRedeemIncrementsCount() {
	resp := s.createCoupon(&dto.CreateCouponRequest{
		Code:          "COUNTME",
		Type:          types.CouponTypePercentage,
		PercentageOff: decimalPtr(decimal.NewFromInt(10)),
		Duration:      types.CouponDurationOnce,
	})

	s.Require().NoError(s.service.Redeem(s.GetContext(), resp.ID))
	s.Require().NoError(s.service.Redeem(s.GetContext(), resp.ID))

	c, err := s.GetStores().CouponRepo.Get(s.GetContext(), resp.ID)
	s.NoError(err)
	s.Equal(2, c.TimesRedeemed)
}

func (s *CouponServiceSuite) TestReleaseUndoesRedemption() {
	resp := s.createCoupon(&dto.CreateCouponRequest{
		Code:           "ONESEAT",
		Type:           types.CouponTypePercentage,
		PercentageOff:  decimalPtr(decimal.NewFromInt(10)),
		Duration:       types.CouponDurationOnce,
		MaxRedemptions: lo.ToPtr(1),
	})

	s.Require().NoError(s.service.Redeem(s.GetContext(), resp.ID))
	s.Require().NoError(s.service.Release(s.GetContext(), resp.ID))

	c, err := s.GetStores().CouponRepo.Get(s.GetContext(), resp.ID)
	s.NoError(err)
	s.Equal(0, c.TimesRedeemed)

	// the freed seat can be redeemed again
	s.NoError(s.service.Redeem(s.GetContext(), resp.ID))

	// releasing an unredeemed coupon never goes negative
	s.NoError(s.service.Release(s.GetContext(), resp.ID))
	s.NoError(s.service.Release(s.GetContext(), resp.ID))
	c, err = s.GetStores().CouponRepo.Get(s.GetContext(), resp.ID)
	s.NoError(err)
	s.Equal(0, c.TimesRedeemed)
}

func (s *CouponServiceSuite) TestConcurrentRedeemRespectsCap() {
	resp := s.createCoupon(&dto.CreateCouponRequest{
		Code:           "LIMITED3",
		Type:           types.CouponTypePercentage,
		PercentageOff:  decimalPtr(decimal.NewFromInt(25)),
		Duration:       types.CouponDurationOnce,
		MaxRedemptions: lo.ToPtr(3),
	})

	const redeemers = 10
	results := make([]error, redeemers)

	var wg sync.WaitGroup
	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = s.service.Redeem(s.GetContext(), resp.ID)
		}(i)
	}
	wg.Wait()

	succeeded := lo.CountBy(results, func(err error) bool { return err == nil })
	s.Equal(3, succeeded)
	for _, err := range results {
		if err != nil {
			s.True(errors.Is(err, ierr.ErrCouponExhausted) || ierr.IsVersionConflict(err))
		}
	}

	c, err := s.GetStores().CouponRepo.Get(s.GetContext(), resp.ID)
	s.NoError(err)
	s.Equal(3, c.TimesRedeemed)
}
