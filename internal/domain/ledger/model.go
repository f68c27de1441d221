package ledger

import (
	"fmt"
	"time"

	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/shopspring/decimal"
)

// Entry is one append-only money movement. Entries are keyed by idempotency
// key and are the source of truth for "did this charge already happen".
type Entry struct {
	ID             string                `json:"id"`
	IdempotencyKey string                `json:"idempotency_key"`
	EntryType      types.LedgerEntryType `json:"entry_type"`
	InvoiceID      string                `json:"invoice_id"`
	Amount         decimal.Decimal       `json:"amount"`
	Currency       string                `json:"currency"`
	PaymentMethod  string                `json:"payment_method"`
	Outcome        types.ChargeOutcome   `json:"outcome"`
	DeclineReason  *types.DeclineReason  `json:"decline_reason,omitempty"`

	// RequiresReconciliation marks entries whose charge result could not be
	// applied to the invoice (e.g. the invoice was voided while the charge
	// was in flight). Money moved; the invoice did not change.
	RequiresReconciliation bool `json:"requires_reconciliation"`

	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ChargeIdempotencyKey builds the idempotency key for one collection attempt.
// Keying on attempt_count makes retries of the same attempt replay-safe while
// letting a genuinely new attempt charge again.
func ChargeIdempotencyKey(invoiceID string, attemptCount int) string {
	return fmt.Sprintf("%s:attempt_%d", invoiceID, attemptCount)
}
