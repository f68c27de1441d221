package invoice

import (
	"time"

	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/shopspring/decimal"
)

// LineItem is a single line on an invoice. It is owned by exactly one invoice
// and never shared. Amount defaults to quantity x unit_amount but may be
// overridden for proration lines (including negative credits).
type LineItem struct {
	ID          string          `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitAmount  decimal.Decimal `json:"unit_amount"`
	Amount      decimal.Decimal `json:"amount"`
	PeriodStart *time.Time      `json:"period_start,omitempty"`
	PeriodEnd   *time.Time      `json:"period_end,omitempty"`
	Proration   bool            `json:"proration"`

	EnvironmentID string         `json:"environment_id"`
	Metadata      types.Metadata `json:"metadata,omitempty"`
	types.BaseModel
}

// NewLineItem builds a line item with amount derived from quantity and unit amount
func NewLineItem(description string, quantity, unitAmount decimal.Decimal) *LineItem {
	return &LineItem{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_LINE_ITEM),
		Description: description,
		Quantity:    quantity,
		UnitAmount:  unitAmount,
		Amount:      quantity.Mul(unitAmount),
	}
}

// Validate checks line item consistency. Proration credit lines are the only
// lines allowed to carry a negative amount.
func (li *LineItem) Validate() error {
	if li.Description == "" {
		return ierr.NewError("line item description is required").
			WithHint("Every line item needs a description").
			Mark(ierr.ErrValidation)
	}
	if li.Quantity.IsNegative() {
		return ierr.NewError("line item quantity cannot be negative").
			WithHint("Quantity must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	if li.Amount.IsNegative() && !li.Proration {
		return ierr.NewError("line item amount cannot be negative").
			WithHint("Only proration credits may be negative").
			Mark(ierr.ErrValidation)
	}
	return nil
}
