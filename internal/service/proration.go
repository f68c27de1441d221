package service

import (
	"context"
	"fmt"

	"github.com/freeflowhq/billing-engine/internal/domain/invoice"
	"github.com/freeflowhq/billing-engine/internal/domain/proration"
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/shopspring/decimal"
)

// ProrationService computes mid-period plan change adjustments
type ProrationService interface {
	Calculate(ctx context.Context, params proration.Params) (*proration.Result, error)
	BuildLineItems(ctx context.Context, params proration.Params, result *proration.Result) []*invoice.LineItem
}

type prorationService struct {
	ServiceParams
}

// NewProrationService creates a new proration service
func NewProrationService(params ServiceParams) ProrationService {
	return &prorationService{
		ServiceParams: params,
	}
}

// Calculate derives the proration coefficient from the time remaining in the
// current period and prices both sides of the change with it. Credit and
// charge are rounded half-to-even independently so neither side
// systematically gains across many changes.
func (s *prorationService) Calculate(ctx context.Context, params proration.Params) (*proration.Result, error) {
	if !params.PeriodEnd.After(params.PeriodStart) {
		return nil, ierr.NewError("period end must be after period start").
			WithReportableDetails(map[string]interface{}{
				"period_start": params.PeriodStart,
				"period_end":   params.PeriodEnd,
			}).
			Mark(ierr.ErrValidation)
	}
	if params.ChangeAt.Before(params.PeriodStart) || params.ChangeAt.After(params.PeriodEnd) {
		return nil, ierr.NewError("change time must fall within the current period").
			WithReportableDetails(map[string]interface{}{
				"change_at":    params.ChangeAt,
				"period_start": params.PeriodStart,
				"period_end":   params.PeriodEnd,
			}).
			Mark(ierr.ErrValidation)
	}

	totalSeconds := decimal.NewFromFloat(params.PeriodEnd.Sub(params.PeriodStart).Seconds())
	remainingSeconds := decimal.NewFromFloat(params.PeriodEnd.Sub(params.ChangeAt).Seconds())
	coefficient := remainingSeconds.Div(totalSeconds)

	credit := types.RoundBankersToCurrencyPrecision(
		params.OldAmount.Mul(coefficient).Neg(), params.Currency)
	charge := types.RoundBankersToCurrencyPrecision(
		params.NewAmount.Mul(coefficient), params.Currency)

	result := &proration.Result{
		Coefficient:  coefficient,
		CreditAmount: credit,
		ChargeAmount: charge,
		NetAmount:    credit.Add(charge),
	}

	s.Logger.Debugw("calculated proration",
		"coefficient", coefficient.String(),
		"credit", credit.String(),
		"charge", charge.String(),
		"net", result.NetAmount.String())
	return result, nil
}

// BuildLineItems renders the proration as two invoice lines, keeping the
// credit and charge separate for auditability.
func (s *prorationService) BuildLineItems(ctx context.Context, params proration.Params, result *proration.Result) []*invoice.LineItem {
	creditLine := invoice.NewLineItem(
		fmt.Sprintf("Unused time on %s", params.OldPlanName),
		decimal.NewFromInt(1), result.CreditAmount)
	chargeLine := invoice.NewLineItem(
		fmt.Sprintf("Remaining time on %s", params.NewPlanName),
		decimal.NewFromInt(1), result.ChargeAmount)

	for _, line := range []*invoice.LineItem{creditLine, chargeLine} {
		start := params.ChangeAt
		end := params.PeriodEnd
		line.PeriodStart = &start
		line.PeriodEnd = &end
		line.Proration = true
		line.BaseModel = types.GetDefaultBaseModel(ctx)
		line.EnvironmentID = types.GetEnvironmentID(ctx)
	}

	return []*invoice.LineItem{creditLine, chargeLine}
}
