package dto

import (
	"context"
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/coupon"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/freeflowhq/billing-engine/internal/validator"
	"github.com/shopspring/decimal"
)

type CreateCouponRequest struct {
	Code             string               `json:"code" validate:"required"`
	Name             string               `json:"name"`
	Type             types.CouponType     `json:"type" validate:"required"`
	PercentageOff    *decimal.Decimal     `json:"percentage_off,omitempty"`
	AmountOff        *decimal.Decimal     `json:"amount_off,omitempty"`
	Currency         string               `json:"currency,omitempty"`
	Duration         types.CouponDuration `json:"duration" validate:"required"`
	DurationInMonths *int                 `json:"duration_in_months,omitempty"`
	MaxRedemptions   *int                 `json:"max_redemptions,omitempty"`
	ExpiresAt        *time.Time           `json:"expires_at,omitempty"`
	Metadata         types.Metadata       `json:"metadata,omitempty"`
}

func (r *CreateCouponRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	// Full semantic validation happens on the domain model
	return nil
}

func (r *CreateCouponRequest) ToCoupon(ctx context.Context) *coupon.Coupon {
	return &coupon.Coupon{
		ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_COUPON),
		Code:             coupon.NormalizeCode(r.Code),
		Name:             r.Name,
		Type:             r.Type,
		PercentageOff:    r.PercentageOff,
		AmountOff:        r.AmountOff,
		Currency:         r.Currency,
		Duration:         r.Duration,
		DurationInMonths: r.DurationInMonths,
		MaxRedemptions:   r.MaxRedemptions,
		ExpiresAt:        r.ExpiresAt,
		EnvironmentID:    types.GetEnvironmentID(ctx),
		Metadata:         r.Metadata,
		BaseModel:        types.GetDefaultBaseModel(ctx),
	}
}

type CouponResponse struct {
	*coupon.Coupon
	// Valid is derived at read time from expiry and redemption cap
	Valid bool `json:"valid"`
}

func NewCouponResponse(c *coupon.Coupon) *CouponResponse {
	return &CouponResponse{
		Coupon: c,
		Valid:  c.Valid(time.Now().UTC()),
	}
}

type ListCouponsResponse struct {
	Items []*CouponResponse `json:"items"`
	Total int               `json:"total"`
}
