package admin

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/thread-service/internal/model"
	registrystore "github.com/chirino/thread-service/internal/registry/store"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts admin API routes.
func MountRoutes(r *gin.Engine, store registrystore.PostStore) {
	g := r.Group("/v1/admin")

	g.POST("/reindex", func(c *gin.Context) {
		reindex(c, store)
	})
	g.GET("/stats", func(c *gin.Context) {
		stats(c, store)
	})
}

func reindex(c *gin.Context, store registrystore.PostStore) {
	n, err := store.Reindex(c.Request.Context())
	if err != nil {
		log.Warn("Reindex failed", "visited", n, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": err.Error(), "reindexed": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reindexed": n})
}

// stats takes roots from the store's own roots listing: an exported
// inReplyTo of null does not mean the post never replied to anything.
func stats(c *gin.Context, store registrystore.PostStore) {
	ctx := c.Request.Context()
	all, err := store.ListPosts(ctx, model.ListModeAll)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": err.Error()})
		return
	}
	roots, err := store.ListPosts(ctx, model.ListModeRoots)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": err.Error()})
		return
	}
	replies := 0
	for _, p := range all {
		replies += p.ReplyCount
	}
	c.JSON(http.StatusOK, gin.H{
		"posts":   len(all),
		"roots":   len(roots),
		"replies": replies,
	})
}
