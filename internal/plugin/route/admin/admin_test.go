package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	setsmemory "github.com/chirino/thread-service/internal/plugin/idset/memory"
	intidsmemory "github.com/chirino/thread-service/internal/plugin/intids/memory"
	storememory "github.com/chirino/thread-service/internal/plugin/store/memory"
	registrystore "github.com/chirino/thread-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReindexAndStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store, err := storememory.New(intidsmemory.New(setsmemory.NewFactory()), storememory.Options{})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	root, err := store.CreatePost(ctx, registrystore.CreatePostRequest{Body: "root"})
	require.NoError(t, err)
	_, err = store.CreatePost(ctx, registrystore.CreatePostRequest{Body: "reply", InReplyTo: &root.ID})
	require.NoError(t, err)

	r := gin.New()
	MountRoutes(r, store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/admin/reindex", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 2, out["reindexed"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	out = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, map[string]int{"posts": 2, "roots": 1, "replies": 1}, out)
}

func TestStatsCountsOrphanedReplyAsReply(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store, err := storememory.New(intidsmemory.New(setsmemory.NewFactory()), storememory.Options{WriteMissingReferences: false})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	root, err := store.CreatePost(ctx, registrystore.CreatePostRequest{Body: "root"})
	require.NoError(t, err)
	reply, err := store.CreatePost(ctx, registrystore.CreatePostRequest{Body: "reply", InReplyTo: &root.ID})
	require.NoError(t, err)
	require.NoError(t, store.DeletePost(ctx, root.ID))

	got, err := store.GetPost(ctx, reply.ID)
	require.NoError(t, err)
	require.Nil(t, got.InReplyTo)

	r := gin.New()
	MountRoutes(r, store)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, map[string]int{"posts": 1, "roots": 0, "replies": 0}, out)
}
