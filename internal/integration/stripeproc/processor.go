package stripeproc

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/freeflowhq/billing-engine/internal/config"
	"github.com/freeflowhq/billing-engine/internal/domain/payment"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Processor charges payment methods through Stripe payment intents. The
// caller's idempotency key is forwarded to Stripe so a repeated attempt with
// the same key can never move money twice.
type Processor struct {
	api    *client.API
	logger *logger.Logger
}

// NewProcessor creates a Stripe-backed charge processor
func NewProcessor(cfg *config.Configuration, log *logger.Logger) *Processor {
	api := &client.API{}
	api.Init(cfg.Stripe.APIKey, nil)

	return &Processor{
		api:    api,
		logger: log,
	}
}

// Charge attempts an off-session charge against the stored payment method.
// Declines come back as a result, not an error; errors are reserved for
// failures where the charge state is unknown or the request never left.
func (p *Processor) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	if req.PaymentMethodRef == "" {
		return nil, ierr.NewError("payment_method_ref is required").
			Mark(ierr.ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return nil, ierr.NewError("charge amount must be positive").
			WithReportableDetails(map[string]interface{}{
				"amount": req.Amount.String(),
			}).
			Mark(ierr.ErrValidation)
	}

	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Amount:        stripe.Int64(toMinorUnits(req.Amount, req.Currency)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Description:   stripe.String(req.Description),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return p.resultFromError(req, err)
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &payment.ChargeResult{
			Outcome:       types.ChargeOutcomeSucceeded,
			AmountCharged: req.Amount,
			ProviderRef:   intent.ID,
		}, nil
	case stripe.PaymentIntentStatusProcessing:
		// Still settling on Stripe's side; treat as transient so the
		// caller retries with the same idempotency key.
		return &payment.ChargeResult{
			Outcome:     types.ChargeOutcomeTransient,
			ProviderRef: intent.ID,
		}, nil
	default:
		p.logger.Warnw("payment intent ended in unexpected status",
			"intent_id", intent.ID,
			"status", intent.Status)
		return &payment.ChargeResult{
			Outcome:       types.ChargeOutcomeDeclined,
			DeclineReason: types.DeclineReasonOther,
			ProviderRef:   intent.ID,
		}, nil
	}
}

func (p *Processor) resultFromError(req payment.ChargeRequest, err error) (*payment.ChargeResult, error) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		// Transport-level failure; charge state unknown
		return &payment.ChargeResult{
			Outcome: types.ChargeOutcomeTransient,
		}, nil
	}

	if isTransientStripeError(stripeErr) {
		return &payment.ChargeResult{
			Outcome: types.ChargeOutcomeTransient,
		}, nil
	}

	if stripeErr.Code == stripe.ErrorCodeCardDeclined || stripeErr.Code == stripe.ErrorCodeExpiredCard {
		reason := declineReason(stripeErr)
		p.logger.Infow("charge declined",
			"decline_code", stripeErr.DeclineCode,
			"reason", reason,
			"idempotency_key", req.IdempotencyKey)
		return &payment.ChargeResult{
			Outcome:       types.ChargeOutcomeDeclined,
			DeclineReason: reason,
		}, nil
	}

	return nil, ierr.WithError(err).
		WithHint("Stripe rejected the charge request").
		WithReportableDetails(map[string]interface{}{
			"code": string(stripeErr.Code),
		}).
		Mark(ierr.ErrInvalidOperation)
}

func isTransientStripeError(stripeErr *stripe.Error) bool {
	if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
		return true
	}
	switch stripeErr.Type {
	case stripe.ErrorTypeAPI:
		return true
	}
	return stripeErr.Code == stripe.ErrorCodeRateLimit || stripeErr.Code == stripe.ErrorCodeLockTimeout
}

func declineReason(stripeErr *stripe.Error) types.DeclineReason {
	if stripeErr.Code == stripe.ErrorCodeExpiredCard {
		return types.DeclineReasonExpiredCard
	}
	switch stripeErr.DeclineCode {
	case stripe.DeclineCodeInsufficientFunds:
		return types.DeclineReasonInsufficientFunds
	case stripe.DeclineCodeExpiredCard:
		return types.DeclineReasonExpiredCard
	case stripe.DeclineCodeFraudulent, stripe.DeclineCodeMerchantBlacklist, stripe.DeclineCodeStolenCard, stripe.DeclineCodeLostCard:
		return types.DeclineReasonFraudSuspected
	default:
		return types.DeclineReasonOther
	}
}

// toMinorUnits converts a decimal major-unit amount to the smallest currency
// unit Stripe expects, honoring zero and three decimal currencies.
func toMinorUnits(amount decimal.Decimal, currency string) int64 {
	precision := types.GetCurrencyPrecision(currency)
	return amount.Shift(precision).Round(0).IntPart()
}
