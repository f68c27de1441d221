package webhookDto

import (
	"time"

	"github.com/shopspring/decimal"
)

// InternalInvoiceEvent is the snapshot carried inside invoice webhook events.
type InternalInvoiceEvent struct {
	EventType       string          `json:"event_type"`
	TenantID        string          `json:"tenant_id"`
	EnvironmentID   string          `json:"environment_id"`
	InvoiceID       string          `json:"invoice_id"`
	InvoiceNumber   string          `json:"invoice_number"`
	SubscriptionID  string          `json:"subscription_id,omitempty"`
	CustomerID      string          `json:"customer_id"`
	InvoiceStatus   string          `json:"invoice_status"`
	Currency        string          `json:"currency"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountTotal   decimal.Decimal `json:"discount_total"`
	TaxTotal        decimal.Decimal `json:"tax_total"`
	Total           decimal.Decimal `json:"total"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	AmountRemaining decimal.Decimal `json:"amount_remaining"`
	PeriodStart     *time.Time      `json:"period_start,omitempty"`
	PeriodEnd       *time.Time      `json:"period_end,omitempty"`
	DueDate         *time.Time      `json:"due_date,omitempty"`
	AttemptCount    int             `json:"attempt_count"`
	NextAttemptAt   *time.Time      `json:"next_attempt_at,omitempty"`
	DeclineReason   string          `json:"decline_reason,omitempty"`
}

// InvoiceWebhookPayload is the public payload POSTed to endpoints for
// invoice.* events
type InvoiceWebhookPayload struct {
	Invoice *InternalInvoiceEvent `json:"invoice"`
}

func NewInvoiceWebhookPayload(event *InternalInvoiceEvent) *InvoiceWebhookPayload {
	return &InvoiceWebhookPayload{Invoice: event}
}
