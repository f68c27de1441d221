package dto

import (
	"time"

	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/freeflowhq/billing-engine/internal/validator"
	"github.com/shopspring/decimal"
)

type AddLineItemRequest struct {
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	UnitAmount  decimal.Decimal `json:"unit_amount" validate:"required"`
	PeriodStart *time.Time      `json:"period_start,omitempty"`
	PeriodEnd   *time.Time      `json:"period_end,omitempty"`
}

func (r *AddLineItemRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.Quantity.IsNegative() {
		return ierr.NewError("quantity cannot be negative").
			WithHint("Line item quantity must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	return nil
}

type FinalizeInvoiceRequest struct {
	CouponCode string `json:"coupon_code,omitempty"`
}

type CreateOneOffInvoiceRequest struct {
	CustomerID string               `json:"customer_id" validate:"required"`
	Currency   string               `json:"currency" validate:"required,len=3"`
	LineItems  []AddLineItemRequest `json:"line_items" validate:"required,min=1,dive"`
	Metadata   types.Metadata       `json:"metadata,omitempty"`
}

func (r *CreateOneOffInvoiceRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	for i := range r.LineItems {
		if err := r.LineItems[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

type InvoiceResponse struct {
	*invoice.Invoice
}

func NewInvoiceResponse(inv *invoice.Invoice) *InvoiceResponse {
	return &InvoiceResponse{Invoice: inv}
}

type ListInvoicesResponse struct {
	Items []*InvoiceResponse `json:"items"`
	Total int                `json:"total"`
}
