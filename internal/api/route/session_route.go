package route

import (
	"time"

	"github.com/bassista/go_learn/internal/api/controller"
	"github.com/bassista/go_learn/internal/api/middleware"
	"github.com/bassista/go_learn/internal/app"
	"github.com/gin-gonic/gin"
)

// NewSessionRouter sets up session and cache inspection routes.
func NewSessionRouter(timeout time.Duration, group *gin.RouterGroup, appCtx *app.App) {
	sc := controller.NewSessionController(appCtx.Tokens, appCtx.Navigator, appCtx.Session)
	cc := controller.NewCacheController(appCtx.Cache)
	timeoutMiddleware := middleware.RequestTimeout(timeout)

	group.GET("session", timeoutMiddleware, sc.GetSession)
	group.GET("debug/cache", timeoutMiddleware, cc.GetCache)
}
