package coupon

import (
	"testing"

	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// Discounts round at source, before aggregation into invoice totals.
func TestPercentDiscountRounding(t *testing.T) {
	tests := []struct {
		name          string
		amount        string
		percentageOff string
		currency      string
		wantDiscount  string
		wantFinal     string
	}{
		{
			name:          "whole_percent_usd",
			amount:        "100.00",
			percentageOff: "15",
			currency:      "USD",
			wantDiscount:  "15",
			wantFinal:     "85",
		},
		{
			name:          "fractional_percent_exact",
			amount:        "10.00",
			percentageOff: "15.5",
			currency:      "USD",
			wantDiscount:  "1.55",
			wantFinal:     "8.45",
		},
		{
			name:          "repeating_decimal_rounds_half_up",
			amount:        "10.00",
			percentageOff: "33.333",
			currency:      "USD",
			wantDiscount:  "3.33",
			wantFinal:     "6.67",
		},
		{
			name:          "zero_decimal_currency",
			amount:        "1000",
			percentageOff: "33.333",
			currency:      "JPY",
			wantDiscount:  "333",
			wantFinal:     "667",
		},
		{
			name:          "three_decimal_currency",
			amount:        "10.000",
			percentageOff: "33.3333",
			currency:      "BHD",
			wantDiscount:  "3.333",
			wantFinal:     "6.667",
		},
		{
			name:          "full_discount",
			amount:        "49.99",
			percentageOff: "100",
			currency:      "USD",
			wantDiscount:  "49.99",
			wantFinal:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct := decimal.RequireFromString(tt.percentageOff)
			c := &Coupon{
				Type:          types.CouponTypePercentage,
				PercentageOff: &pct,
			}

			result := c.ApplyDiscount(decimal.RequireFromString(tt.amount), tt.currency)
			assert.True(t, result.Discount.Equal(decimal.RequireFromString(tt.wantDiscount)),
				"discount = %s, want %s", result.Discount, tt.wantDiscount)
			assert.True(t, result.FinalPrice.Equal(decimal.RequireFromString(tt.wantFinal)),
				"final = %s, want %s", result.FinalPrice, tt.wantFinal)
		})
	}
}

func TestFixedAmountDiscountClampsAtAmount(t *testing.T) {
	off := decimal.NewFromInt(50)
	c := &Coupon{
		Type:      types.CouponTypeFixedAmount,
		AmountOff: &off,
		Currency:  "USD",
	}

	result := c.ApplyDiscount(decimal.NewFromInt(30), "USD")
	assert.True(t, result.Discount.Equal(decimal.NewFromInt(30)))
	assert.True(t, result.FinalPrice.IsZero(), "discount never drives the price negative")

	result = c.ApplyDiscount(decimal.NewFromInt(80), "USD")
	assert.True(t, result.Discount.Equal(decimal.NewFromInt(50)))
	assert.True(t, result.FinalPrice.Equal(decimal.NewFromInt(30)))
}

func TestFixedAmountDiscountRoundsToMinorUnit(t *testing.T) {
	off := decimal.RequireFromString("5.555")
	c := &Coupon{
		Type:      types.CouponTypeFixedAmount,
		AmountOff: &off,
		Currency:  "USD",
	}

	result := c.ApplyDiscount(decimal.NewFromInt(100), "USD")
	assert.True(t, result.Discount.Equal(decimal.RequireFromString("5.56")),
		"discount = %s, want 5.56", result.Discount)
}
