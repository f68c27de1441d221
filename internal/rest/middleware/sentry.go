package middleware

import (
	"time"

	"github.com/freeflowhq/billing-engine/internal/config"
	"github.com/freeflowhq/billing-engine/internal/types"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
)

// SentryMiddleware captures panics and errors from the API handlers. A no-op
// handler is returned when Sentry is disabled so the chain stays uniform.
func SentryMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	if !cfg.Sentry.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// SentryTenantContextMiddleware tags the Sentry scope with the tenant and
// environment resolved by ContextMiddleware, so a captured billing failure
// can be attributed without digging through logs. Register it after
// ContextMiddleware.
func SentryTenantContextMiddleware(c *gin.Context) {
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil {
		c.Next()
		return
	}

	ctx := c.Request.Context()
	if tenantID := types.GetTenantID(ctx); tenantID != "" {
		hub.Scope().SetTag("tenant_id", tenantID)
	}
	if environmentID := types.GetEnvironmentID(ctx); environmentID != "" {
		hub.Scope().SetTag("environment_id", environmentID)
	}
	c.Next()
}
