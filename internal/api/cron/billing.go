package cron

import (
	"net/http"
	"time"

	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/service"
	"github.com/gin-gonic/gin"
)

// BillingCronHandler exposes the renewal and dunning sweeps as HTTP
// endpoints so an external scheduler can drive them in addition to the
// in-process cron.
type BillingCronHandler struct {
	subscriptionService service.SubscriptionService
	dunningService      service.DunningService
	logger              *logger.Logger
}

// NewBillingCronHandler creates a new billing cron handler
func NewBillingCronHandler(
	subscriptionService service.SubscriptionService,
	dunningService service.DunningService,
	logger *logger.Logger,
) *BillingCronHandler {
	return &BillingCronHandler{
		subscriptionService: subscriptionService,
		dunningService:      dunningService,
		logger:              logger,
	}
}

// AdvanceSubscriptions renews every subscription whose period has ended
func (h *BillingCronHandler) AdvanceSubscriptions(c *gin.Context) {
	now := time.Now().UTC()
	h.logger.Infow("starting subscription renewal cron job", "time", now.Format(time.RFC3339))

	if err := h.subscriptionService.ProcessRenewals(c.Request.Context(), now); err != nil {
		h.logger.Errorw("failed to process renewals", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("completed subscription renewal cron job")
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// RunDunning executes every due collection attempt
func (h *BillingCronHandler) RunDunning(c *gin.Context) {
	now := time.Now().UTC()
	h.logger.Infow("starting dunning cron job", "time", now.Format(time.RFC3339))

	if err := h.dunningService.RunDueAttempts(c.Request.Context(), now); err != nil {
		h.logger.Errorw("failed to run dunning sweep", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("completed dunning cron job")
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
