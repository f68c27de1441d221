package middleware

import (
	"github.com/freeflowhq/billing-engine/internal/types"
	"github.com/gin-gonic/gin"
)

// Request headers that scope a call to a tenant and environment
const (
	HeaderTenantID      = "X-Tenant-Id"
	HeaderEnvironmentID = "X-Environment-Id"
	HeaderRequestID     = "X-Request-Id"
)

// ContextMiddleware seeds the request context with tenant, environment and
// request id so repositories and services downstream are tenant-scoped.
func ContextMiddleware(c *gin.Context) {
	ctx := c.Request.Context()

	tenantID := c.GetHeader(HeaderTenantID)
	if tenantID == "" {
		tenantID = types.DefaultTenantID
	}
	ctx = types.SetTenantID(ctx, tenantID)
	c.Set("tenant_id", tenantID)

	if envID := c.GetHeader(HeaderEnvironmentID); envID != "" {
		ctx = types.SetEnvironmentID(ctx, envID)
		c.Set("environment_id", envID)
	}

	requestID := c.GetHeader(HeaderRequestID)
	if requestID == "" {
		requestID = types.GenerateUUID()
	}
	ctx = types.SetRequestID(ctx, requestID)
	c.Writer.Header().Set(HeaderRequestID, requestID)

	c.Request = c.Request.WithContext(ctx)
	c.Next()
}
