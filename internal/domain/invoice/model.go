package invoice

import (
	"time"

	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/shopspring/decimal"
)

// Invoice is a billing statement for one subscription period or a one-off
// charge. Totals are always computed from line items, never backfilled.
type Invoice struct {
	ID             string              `json:"id"`
	InvoiceNumber  string              `json:"invoice_number"`
	SubscriptionID *string             `json:"subscription_id,omitempty"`
	CustomerID     string              `json:"customer_id"`
	InvoiceStatus  types.InvoiceStatus `json:"invoice_status"`
	Currency       string              `json:"currency"`

	LineItems       []*LineItem     `json:"line_items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	Total           decimal.Decimal `json:"total"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	AmountRemaining decimal.Decimal `json:"amount_remaining"`

	// PeriodStart is the subscription period this invoice covers; together
	// with SubscriptionID it is the natural idempotency key for creation.
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`

	DueDate       *time.Time `json:"due_date,omitempty"`
	AttemptCount  int        `json:"attempt_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	VoidedAt      *time.Time `json:"voided_at,omitempty"`

	AppliedCouponID *string `json:"applied_coupon_id,omitempty"`

	EnvironmentID string         `json:"environment_id"`
	Metadata      types.Metadata `json:"metadata,omitempty"`
	Version       int            `json:"version"`
	types.BaseModel
}

// RecomputeSubtotal recalculates the subtotal from line items
func (i *Invoice) RecomputeSubtotal() {
	subtotal := decimal.Zero
	for _, li := range i.LineItems {
		subtotal = subtotal.Add(li.Amount)
	}
	i.Subtotal = subtotal
}

// RecomputeTotals derives total and amount_remaining from the computed parts.
// amount_remaining is clamped at zero so overpayments never show negative.
func (i *Invoice) RecomputeTotals() {
	i.Total = i.Subtotal.Sub(i.DiscountAmount).Add(i.TaxAmount)
	remaining := i.Total.Sub(i.AmountPaid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	i.AmountRemaining = remaining
}

// Validate checks the invoice's totals invariants
func (i *Invoice) Validate() error {
	if err := i.InvoiceStatus.Validate(); err != nil {
		return err
	}

	expectedTotal := i.Subtotal.Sub(i.DiscountAmount).Add(i.TaxAmount)
	if !i.Total.Equal(expectedTotal) {
		return ierr.NewError("invoice total does not match computed parts").
			WithHint("total must equal subtotal - discount_amount + tax_amount").
			WithReportableDetails(map[string]interface{}{
				"total":    i.Total,
				"expected": expectedTotal,
			}).
			Mark(ierr.ErrValidation)
	}

	if i.AmountRemaining.IsNegative() {
		return ierr.NewError("amount_remaining cannot be negative").
			WithHint("amount_remaining must equal total - amount_paid, floored at zero").
			Mark(ierr.ErrValidation)
	}

	for _, li := range i.LineItems {
		if err := li.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// IsMutable reports whether line items may still be added
func (i *Invoice) IsMutable() bool {
	return i.InvoiceStatus == types.InvoiceStatusDraft
}

// IsTerminal reports whether the invoice reached a terminal status
func (i *Invoice) IsTerminal() bool {
	return i.InvoiceStatus.IsTerminal()
}
