// Package proration provides the types for mid-period subscription change
// calculations.
package proration

import (
	"time"

	"github.com/shopspring/decimal"
)

// Params describes a mid-period plan change to prorate.
type Params struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	ChangeAt    time.Time
	OldAmount   decimal.Decimal
	NewAmount   decimal.Decimal
	OldPlanName string
	NewPlanName string
	Currency    string
}

// Result carries the two proration lines: a negative credit for the unused
// portion of the old plan and a positive charge for the prorated new plan.
// Two lines are kept instead of a single net figure to preserve auditability.
type Result struct {
	// Coefficient is remaining_seconds / total_seconds at the change instant.
	Coefficient decimal.Decimal
	// CreditAmount is negative (unused old plan).
	CreditAmount decimal.Decimal
	// ChargeAmount is positive (prorated new plan).
	ChargeAmount decimal.Decimal
	// NetAmount = CreditAmount + ChargeAmount.
	NetAmount decimal.Decimal
}
