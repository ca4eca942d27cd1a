package system

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	registryroute "github.com/chirino/thread-service/internal/registry/route"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	for _, loader := range registryroute.ManagementRouteLoaders() {
		require.NoError(t, loader(r))
	}
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthAndReadiness(t *testing.T) {
	r := newRouter(t)
	t.Cleanup(MarkNotReady)

	require.Equal(t, http.StatusOK, get(r, "/health").Code)

	MarkNotReady()
	w := get(r, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.JSONEq(t, `{"status":"starting"}`, w.Body.String())

	MarkReady()
	w = get(r, "/ready")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ready"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	w := get(newRouter(t), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}
