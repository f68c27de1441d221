package api

import (
	"net/http"

	cronapi "github.com/freeflowhq/billing-engine/internal/api/cron"
	v1 "github.com/freeflowhq/billing-engine/internal/api/v1"
	"github.com/freeflowhq/billing-engine/internal/config"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/freeflowhq/billing-engine/internal/rest/middleware"
	"github.com/gin-gonic/gin"
)

// Handlers bundles every HTTP handler the router mounts
type Handlers struct {
	Subscription    *v1.SubscriptionHandler
	Invoice         *v1.InvoiceHandler
	Coupon          *v1.CouponHandler
	WebhookEndpoint *v1.WebhookEndpointHandler
	BillingCron     *cronapi.BillingCronHandler
}

// NewRouter assembles the gin engine with the standard middleware chain
func NewRouter(handlers Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	if cfg.Deployment.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.SentryMiddleware(cfg),
		middleware.ContextMiddleware,
		middleware.SentryTenantContextMiddleware,
		middleware.LoggingMiddleware(log),
		middleware.ErrorHandler(log),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := router.Group("/v1")
	{
		subscriptions := apiV1.Group("/subscriptions")
		{
			subscriptions.POST("", handlers.Subscription.CreateSubscription)
			subscriptions.GET("", handlers.Subscription.ListSubscriptions)
			subscriptions.GET("/:id", handlers.Subscription.GetSubscription)
			subscriptions.POST("/:id/cancel", handlers.Subscription.CancelSubscription)
			subscriptions.POST("/:id/pause", handlers.Subscription.PauseSubscription)
			subscriptions.POST("/:id/resume", handlers.Subscription.ResumeSubscription)
			subscriptions.POST("/:id/change_plan", handlers.Subscription.ChangePlan)
		}

		invoices := apiV1.Group("/invoices")
		{
			invoices.POST("", handlers.Invoice.CreateOneOffInvoice)
			invoices.GET("", handlers.Invoice.ListInvoices)
			invoices.GET("/:id", handlers.Invoice.GetInvoice)
			invoices.POST("/:id/lines", handlers.Invoice.AddLineItem)
			invoices.POST("/:id/finalize", handlers.Invoice.FinalizeInvoice)
			invoices.POST("/:id/void", handlers.Invoice.VoidInvoice)
			invoices.POST("/:id/retry_payment", handlers.Invoice.RetryPayment)
		}

		coupons := apiV1.Group("/coupons")
		{
			coupons.POST("", handlers.Coupon.CreateCoupon)
			coupons.GET("", handlers.Coupon.ListCoupons)
			coupons.GET("/:id", handlers.Coupon.GetCoupon)
			coupons.GET("/validate/:code", handlers.Coupon.ValidateCoupon)
		}

		endpoints := apiV1.Group("/webhook_endpoints")
		{
			endpoints.POST("", handlers.WebhookEndpoint.CreateEndpoint)
			endpoints.GET("", handlers.WebhookEndpoint.ListEndpoints)
			endpoints.GET("/:id", handlers.WebhookEndpoint.GetEndpoint)
			endpoints.PUT("/:id", handlers.WebhookEndpoint.UpdateEndpoint)
			endpoints.DELETE("/:id", handlers.WebhookEndpoint.DeleteEndpoint)
		}
	}

	cronGroup := router.Group("/cron/billing")
	{
		cronGroup.POST("/advance", handlers.BillingCron.AdvanceSubscriptions)
		cronGroup.POST("/dunning", handlers.BillingCron.RunDunning)
	}

	return router
}
