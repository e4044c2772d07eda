package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bassista/go_learn/internal/logger"
)

// PendingNavigation is a navigation requested outside any HTTP request, such
// as the login redirect after the backend rejected the credential.
type PendingNavigation interface {
	Take() (string, bool)
}

// RedirectPending performs a pending navigation on the next page load.
// The navigation is consumed, so it happens exactly once.
func RedirectPending(nav PendingNavigation) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		path, ok := nav.Take()
		if !ok || path == c.Request.URL.Path {
			c.Next()
			return
		}
		logger.WithComponent("session").Debugf("redirecting %s to %s", c.Request.URL.Path, path)
		c.Redirect(http.StatusSeeOther, path)
		c.Abort()
	}
}
