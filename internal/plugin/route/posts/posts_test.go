package posts

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	setsmemory "github.com/chirino/thread-service/internal/plugin/idset/memory"
	intidsmemory "github.com/chirino/thread-service/internal/plugin/intids/memory"
	storememory "github.com/chirino/thread-service/internal/plugin/store/memory"
	"github.com/chirino/thread-service/internal/oid"
	registrystore "github.com/chirino/thread-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := storememory.New(intidsmemory.New(setsmemory.NewFactory()), storememory.Options{WriteMissingReferences: true})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	r := gin.New()
	MountRoutes(r, store)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postPath(id string, suffix string) string {
	return "/v1/posts/" + url.PathEscape(id) + suffix
}

func decodePost(t *testing.T, w *httptest.ResponseRecorder) registrystore.PostDetail {
	t.Helper()
	var d registrystore.PostDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	return d
}

func TestCreateAndNavigate(t *testing.T) {
	r := newRouter(t)

	w := do(t, r, http.MethodPost, "/v1/posts", gin.H{"author": "a", "body": "root"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	root := decodePost(t, w)
	assert.Nil(t, root.InReplyTo)

	w = do(t, r, http.MethodPost, "/v1/posts", gin.H{"author": "b", "body": "reply", "inReplyTo": root.ID, "references": []string{root.ID}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	reply := decodePost(t, w)
	require.NotNil(t, reply.InReplyTo)
	assert.Equal(t, root.ID, *reply.InReplyTo)

	w = do(t, r, http.MethodGet, postPath(root.ID, "/replies"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []registrystore.PostDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, reply.ID, list.Data[0].ID)

	w = do(t, r, http.MethodGet, postPath(root.ID, "/most-recent-reply"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reply.ID, decodePost(t, w).ID)

	w = do(t, r, http.MethodGet, "/v1/posts?mode=roots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, root.ID, list.Data[0].ID)
}

func TestDeleteShowsPlaceholder(t *testing.T) {
	r := newRouter(t)
	root := decodePost(t, do(t, r, http.MethodPost, "/v1/posts", gin.H{"body": "root"}))
	reply := decodePost(t, do(t, r, http.MethodPost, "/v1/posts", gin.H{"body": "reply", "inReplyTo": root.ID}))

	w := do(t, r, http.MethodDelete, postPath(root.ID, ""), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodGet, postPath(reply.ID, ""), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodePost(t, w)
	require.NotNil(t, got.InReplyTo)
	assert.True(t, oid.IsMissing(*got.InReplyTo))

	w = do(t, r, http.MethodGet, postPath(root.ID, ""), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPatchIgnoresThreadFields(t *testing.T) {
	r := newRouter(t)
	a := decodePost(t, do(t, r, http.MethodPost, "/v1/posts", gin.H{"body": "a"}))
	b := decodePost(t, do(t, r, http.MethodPost, "/v1/posts", gin.H{"body": "b"}))

	w := do(t, r, http.MethodPatch, postPath(b.ID, ""), gin.H{"body": "b2", "inReplyTo": a.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodePost(t, w)
	assert.Equal(t, "b2", got.Body)
	assert.Nil(t, got.InReplyTo)
}

func TestErrors(t *testing.T) {
	r := newRouter(t)

	w := do(t, r, http.MethodPost, "/v1/posts", gin.H{"body": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")

	w = do(t, r, http.MethodPost, "/v1/posts", gin.H{"body": "x", "inReplyTo": oid.Format(12345)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/posts", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	w = do(t, r, http.MethodGet, postPath("garbage", ""), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}
