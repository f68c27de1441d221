package types

// ChargeOutcome is the terminal classification of a single charge attempt
type ChargeOutcome string

const (
	ChargeOutcomeSucceeded ChargeOutcome = "succeeded"
	ChargeOutcomeDeclined  ChargeOutcome = "declined"
	ChargeOutcomeTransient ChargeOutcome = "transient_error"
)

// DeclineReason is the processor's decline taxonomy; it drives the dunning
// scheduler's smart-retry spacing.
type DeclineReason string

const (
	DeclineReasonInsufficientFunds DeclineReason = "insufficient_funds"
	DeclineReasonExpiredCard       DeclineReason = "expired_card"
	DeclineReasonFraudSuspected    DeclineReason = "fraud_suspected"
	DeclineReasonOther             DeclineReason = "other"
)

// LedgerEntryType is the kind of money movement a ledger entry records
type LedgerEntryType string

const (
	LedgerEntryTypeCharge LedgerEntryType = "charge"
	LedgerEntryTypeRefund LedgerEntryType = "refund"
)
