package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestTimeout bounds each request with a context deadline. Handlers
// must honor ctx.Done(); the operation endpoint passes that context on to
// the GraphQL link, so a slow backend is cancelled with the request.
// A request that timed out without writing gets 504.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if c.Writer.Written() || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{
			"error":   "request timeout",
			"timeout": d.String(),
		})
	}
}
