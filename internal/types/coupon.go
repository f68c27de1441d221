package types

import (
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
)

// CouponType is the kind of discount a coupon grants
type CouponType string

const (
	CouponTypePercentage  CouponType = "percent_off"
	CouponTypeFixedAmount CouponType = "amount_off"
)

func (t CouponType) Validate() error {
	switch t {
	case CouponTypePercentage, CouponTypeFixedAmount:
		return nil
	}
	return ierr.NewErrorf("invalid coupon type: %s", t).
		WithHint("Coupon type must be percent_off or amount_off").
		Mark(ierr.ErrValidation)
}

// CouponDuration governs how long a coupon attached to a subscription keeps
// applying to period invoices
type CouponDuration string

const (
	CouponDurationOnce      CouponDuration = "once"
	CouponDurationRepeating CouponDuration = "repeating"
	CouponDurationForever   CouponDuration = "forever"
)

func (d CouponDuration) Validate() error {
	switch d {
	case CouponDurationOnce, CouponDurationRepeating, CouponDurationForever:
		return nil
	}
	return ierr.NewErrorf("invalid coupon duration: %s", d).
		WithHint("Coupon duration must be once, repeating or forever").
		Mark(ierr.ErrValidation)
}
