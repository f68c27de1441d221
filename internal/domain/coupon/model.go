package coupon

import (
	"strings"
	"time"

	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/shopspring/decimal"
)

// Coupon grants a percent or fixed-amount discount. times_redeemed is
// incremented with a compare-and-increment against the stored version so
// concurrent finalizations never produce a lost update.
type Coupon struct {
	ID               string               `json:"id"`
	Code             string               `json:"code"`
	Name             string               `json:"name"`
	Type             types.CouponType     `json:"type"`
	PercentageOff    *decimal.Decimal     `json:"percentage_off,omitempty"`
	AmountOff        *decimal.Decimal     `json:"amount_off,omitempty"`
	Currency         string               `json:"currency,omitempty"`
	Duration         types.CouponDuration `json:"duration"`
	DurationInMonths *int                 `json:"duration_in_months,omitempty"`
	MaxRedemptions   *int                 `json:"max_redemptions,omitempty"`
	TimesRedeemed    int                  `json:"times_redeemed"`
	ExpiresAt        *time.Time           `json:"expires_at,omitempty"`

	EnvironmentID string         `json:"environment_id"`
	Metadata      types.Metadata `json:"metadata,omitempty"`
	Version       int            `json:"version"`
	types.BaseModel
}

// DiscountResult is the outcome of applying a coupon to an amount
type DiscountResult struct {
	Discount   decimal.Decimal
	FinalPrice decimal.Decimal
}

// ApplyDiscount computes the discount for the given amount, rounding to the
// currency's minor unit at source. Percent discounts apply to the amount;
// fixed discounts are clamped at the amount so the result never goes negative.
func (c *Coupon) ApplyDiscount(amount decimal.Decimal, currency string) DiscountResult {
	discount := decimal.Zero

	switch c.Type {
	case types.CouponTypePercentage:
		if c.PercentageOff != nil {
			discount = amount.Mul(c.PercentageOff.Div(decimal.NewFromInt(100)))
			discount = types.RoundToCurrencyPrecision(discount, currency)
		}
	case types.CouponTypeFixedAmount:
		if c.AmountOff != nil {
			discount = types.RoundToCurrencyPrecision(*c.AmountOff, currency)
		}
	}

	if discount.GreaterThan(amount) {
		discount = amount
	}

	return DiscountResult{
		Discount:   discount,
		FinalPrice: amount.Sub(discount),
	}
}

// IsExpired reports whether the coupon's expiry has passed
func (c *Coupon) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// IsExhausted reports whether the redemption cap has been reached
func (c *Coupon) IsExhausted() bool {
	return c.MaxRedemptions != nil && c.TimesRedeemed >= *c.MaxRedemptions
}

// Valid is the derived validity: not expired and not exhausted
func (c *Coupon) Valid(now time.Time) bool {
	return !c.IsExpired(now) && !c.IsExhausted()
}

// NormalizeCode returns the canonical (case-insensitive) form of a coupon code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the coupon definition
func (c *Coupon) Validate() error {
	if c.Code == "" {
		return ierr.NewError("coupon code is required").
			WithHint("Coupon code cannot be empty").
			Mark(ierr.ErrValidation)
	}
	if err := c.Type.Validate(); err != nil {
		return err
	}
	if err := c.Duration.Validate(); err != nil {
		return err
	}

	switch c.Type {
	case types.CouponTypePercentage:
		if c.PercentageOff == nil || c.PercentageOff.LessThanOrEqual(decimal.Zero) ||
			c.PercentageOff.GreaterThan(decimal.NewFromInt(100)) {
			return ierr.NewError("percentage_off must be between 0 and 100").
				WithHint("Percent coupons need a percentage between 0 and 100").
				Mark(ierr.ErrValidation)
		}
	case types.CouponTypeFixedAmount:
		if c.AmountOff == nil || c.AmountOff.LessThanOrEqual(decimal.Zero) {
			return ierr.NewError("amount_off must be positive").
				WithHint("Fixed-amount coupons need a positive amount").
				Mark(ierr.ErrValidation)
		}
	}

	if c.Duration == types.CouponDurationRepeating {
		if c.DurationInMonths == nil || *c.DurationInMonths <= 0 {
			return ierr.NewError("duration_in_months is required for repeating coupons").
				WithHint("Repeating coupons need a positive month count").
				Mark(ierr.ErrValidation)
		}
	}

	if c.MaxRedemptions != nil && *c.MaxRedemptions <= 0 {
		return ierr.NewError("max_redemptions must be positive when set").
			WithHint("Leave max_redemptions unset for unlimited redemptions").
			Mark(ierr.ErrValidation)
	}

	return nil
}
