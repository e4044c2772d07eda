package controller

import (
	"net/http"

	"github.com/bassista/go_learn/internal/cache"
	"github.com/gin-gonic/gin"
)

// CacheController exposes the normalized cache for debugging.
type CacheController struct {
	store cache.ReadOnlyStore
}

func NewCacheController(store cache.ReadOnlyStore) *CacheController {
	return &CacheController{store: store}
}

// GetCache handles GET /debug/cache - returns every record keyed by identity.
func (cc *CacheController) GetCache(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"size":    cc.store.Size(),
		"records": cc.store.Snapshot(),
	})
}
