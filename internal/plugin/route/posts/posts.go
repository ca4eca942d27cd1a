package posts

import (
	"errors"
	"net/http"

	"github.com/chirino/thread-service/internal/externalize"
	"github.com/chirino/thread-service/internal/model"
	registrystore "github.com/chirino/thread-service/internal/registry/store"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts post routes. Called after store initialization so the
// store is available.
func MountRoutes(r *gin.Engine, store registrystore.PostStore) {
	g := r.Group("/v1")

	g.GET("/posts", func(c *gin.Context) {
		listPosts(c, store)
	})
	g.POST("/posts", func(c *gin.Context) {
		createPost(c, store)
	})
	g.GET("/posts/:id", func(c *gin.Context) {
		getPost(c, store)
	})
	g.PATCH("/posts/:id", func(c *gin.Context) {
		updatePost(c, store)
	})
	g.DELETE("/posts/:id", func(c *gin.Context) {
		deletePost(c, store)
	})
	g.GET("/posts/:id/replies", func(c *gin.Context) {
		listReplies(c, store)
	})
	g.GET("/posts/:id/referents", func(c *gin.Context) {
		listReferents(c, store)
	})
	g.GET("/posts/:id/most-recent-reply", func(c *gin.Context) {
		mostRecentReply(c, store)
	})
}

func listPosts(c *gin.Context, store registrystore.PostStore) {
	mode := model.PostListMode(c.DefaultQuery("mode", string(model.ListModeAll)))
	posts, err := store.ListPosts(c.Request.Context(), mode)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": posts})
}

func createPost(c *gin.Context, store registrystore.PostStore) {
	var req registrystore.CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	post, err := store.CreatePost(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func getPost(c *gin.Context, store registrystore.PostStore) {
	post, err := store.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func updatePost(c *gin.Context, store registrystore.PostStore) {
	var req registrystore.UpdatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	post, err := store.UpdatePost(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func deletePost(c *gin.Context, store registrystore.PostStore) {
	if err := store.DeletePost(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func listReplies(c *gin.Context, store registrystore.PostStore) {
	posts, err := store.ListReplies(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": posts})
}

func listReferents(c *gin.Context, store registrystore.PostStore) {
	posts, err := store.ListReferents(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": posts})
}

func mostRecentReply(c *gin.Context, store registrystore.PostStore) {
	post, err := store.MostRecentReply(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func bindError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"code": "too_large", "error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var resolution *externalize.ResolutionError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &resolution):
		c.JSON(http.StatusInternalServerError, gin.H{"code": "resolution_error", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "internal server error"})
	}
}
