package route

import (
	"net/http"

	"github.com/bassista/go_learn/internal/api/middleware"
	"github.com/bassista/go_learn/internal/app"
	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, appCtx *app.App) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "UP",
		})
	})

	// The landing page performs the redirect the session invalidator asked for.
	r.GET("/", middleware.RedirectPending(appCtx.Navigator), func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/session")
	})

	r.GET("/metrics", gin.WrapH(appCtx.Metrics.Handler()))

	publicRouter := r.Group("")
	timeout := appCtx.Config.Server.RequestTimeout

	NewConfigurationRouter(timeout, publicRouter, appCtx.Config)
	NewAuthRouter(timeout, publicRouter, appCtx)
	NewSessionRouter(timeout, publicRouter, appCtx)
	NewGraphQLRouter(timeout, publicRouter, appCtx)
}
