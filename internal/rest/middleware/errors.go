package middleware

import (
	ierr "github.com/freeflowhq/billing-engine/internal/errors"
	"github.com/freeflowhq/billing-engine/internal/logger"
	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the first handler error as the standard error
// envelope. Handlers push errors with c.Error and return; nothing else
// writes error bodies.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors[0].Err
		status := ierr.HTTPStatusFromErr(err)
		if status >= 500 {
			log.Errorw("request failed",
				"path", c.Request.URL.Path,
				"status", status,
				"error", err)
		}
		c.JSON(status, ierr.NewErrorResponse(err))
	}
}
