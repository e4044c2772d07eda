package route

import (
	"time"

	"github.com/bassista/go_learn/internal/api/controller"
	"github.com/bassista/go_learn/internal/api/middleware"
	"github.com/bassista/go_learn/internal/app"
	"github.com/gin-gonic/gin"
)

// NewAuthRouter mounts the login entry point at the configured login path.
func NewAuthRouter(timeout time.Duration, group *gin.RouterGroup, appCtx *app.App) {
	loginPath := appCtx.Session.LoginPath()
	ac := controller.NewAuthController(appCtx, appCtx.Tokens, loginPath)
	timeoutMiddleware := middleware.RequestTimeout(timeout)

	group.GET(loginPath, timeoutMiddleware, ac.LoginPage)
	group.POST(loginPath, timeoutMiddleware, ac.Login)
	group.POST("auth/logout", timeoutMiddleware, ac.Logout)
}
