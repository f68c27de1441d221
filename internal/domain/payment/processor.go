package payment

import (
	"context"

	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/shopspring/decimal"
)

// ChargeRequest asks the processor to charge a payment method. Card data is
// never handled here; PaymentMethodRef is an opaque token.
type ChargeRequest struct {
	PaymentMethodRef string
	Amount           decimal.Decimal
	Currency         string
	IdempotencyKey   string
	Description      string
}

// ChargeResult is the processor's answer to a single charge attempt
type ChargeResult struct {
	Outcome       types.ChargeOutcome
	AmountCharged decimal.Decimal
	DeclineReason types.DeclineReason
	ProviderRef   string
}

// Processor is the charge-processor capability consumed by the invoice
// engine. Implementations must honor the idempotency key: charging twice
// with the same key must move money at most once.
type Processor interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}
