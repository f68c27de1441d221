package types

import (
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
)

// InvoiceStatus is the lifecycle state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:         {InvoiceStatusOpen, InvoiceStatusVoid},
	InvoiceStatusOpen:          {InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible},
	InvoiceStatusPaid:          {},
	InvoiceStatusVoid:          {},
	InvoiceStatusUncollectible: {},
}

func (s InvoiceStatus) Validate() error {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusOpen, InvoiceStatusPaid,
		InvoiceStatusVoid, InvoiceStatusUncollectible:
		return nil
	}
	return ierr.NewErrorf("invalid invoice status: %s", s).
		WithHint("Unknown invoice status").
		Mark(ierr.ErrValidation)
}

// IsTerminal reports whether the status has no outgoing transitions
func (s InvoiceStatus) IsTerminal() bool {
	return len(invoiceTransitions[s]) == 0
}

// CanTransition reports whether the transition s -> to is listed in the table
func (s InvoiceStatus) CanTransition(to InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a typed error when s -> to is not allowed
func (s InvoiceStatus) ValidateTransition(to InvoiceStatus) error {
	if s.CanTransition(to) {
		return nil
	}
	return ierr.NewErrorf("invalid invoice status transition: %s -> %s", s, to).
		WithHint("The invoice is not in a state that allows this operation").
		WithReportableDetails(map[string]interface{}{
			"from": s,
			"to":   to,
		}).
		Mark(ierr.ErrInvalidOperation)
}

// InvoiceNumberFormat controls how invoice numbers are assembled
type InvoiceNumberFormat string

const (
	// InvoiceNumberFormatSequential is prefix + sequence, e.g. INV-000042
	InvoiceNumberFormatSequential InvoiceNumberFormat = "sequential"
	// InvoiceNumberFormatYearSequential is prefix + year + sequence, e.g. INV-2026-000042
	InvoiceNumberFormatYearSequential InvoiceNumberFormat = "year-sequential"
	// InvoiceNumberFormatDateSequential is prefix + yyyymmdd + sequence, e.g. INV-20260831-000042
	InvoiceNumberFormatDateSequential InvoiceNumberFormat = "date-sequential"
)

func (f InvoiceNumberFormat) Validate() error {
	switch f {
	case InvoiceNumberFormatSequential, InvoiceNumberFormatYearSequential, InvoiceNumberFormatDateSequential:
		return nil
	}
	return ierr.NewErrorf("invalid invoice number format: %s", f).
		WithHint("Format must be one of sequential, year-sequential, date-sequential").
		Mark(ierr.ErrValidation)
}
