package route

import (
	"time"

	"github.com/bassista/go_learn/internal/api/controller"
	"github.com/bassista/go_learn/internal/api/middleware"
	"github.com/bassista/go_learn/internal/app"
	"github.com/gin-gonic/gin"
)

// NewGraphQLRouter exposes one-shot operations through the facade.
func NewGraphQLRouter(timeout time.Duration, group *gin.RouterGroup, appCtx *app.App) {
	gc := controller.NewGraphQLController(appCtx.Client)
	group.POST("graphql/query", middleware.RequestTimeout(timeout), gc.Execute)
}
