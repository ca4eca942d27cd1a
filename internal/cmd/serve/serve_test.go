package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/thread-service/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware_Enforces(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/v1/posts", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/posts", strings.NewReader("0123456789"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMaxBodySizeMiddleware_ZeroDisablesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(0))
	router.POST("/v1/posts", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/posts", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", rec.Body.String())
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}

func TestApplyLogLevel(t *testing.T) {
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	require.NoError(t, applyLogLevel(" DEBUG "))
	require.Equal(t, log.DebugLevel, log.GetLevel())
	require.Error(t, applyLogLevel("chatty"))
}

type client struct {
	t    *testing.T
	base string
}

func (c client) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if len(raw) > 0 {
		require.NoError(c.t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestStartServer_ThreadsOverHTTP(t *testing.T) {
	for _, kind := range []string{"memory", "badger", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.SetType = kind
			cfg.Listener.Port = 0
			cfg.Listener.EnableTLS = false

			srv, err := StartServer(context.Background(), &cfg)
			require.NoError(t, err)
			t.Cleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				require.NoError(t, srv.Shutdown(ctx))
			})

			c := client{t: t, base: fmt.Sprintf("http://127.0.0.1:%d", srv.Running.Port)}

			code, _ := c.do(http.MethodGet, "/ready", nil)
			require.Equal(t, http.StatusOK, code)

			code, root := c.do(http.MethodPost, "/v1/posts", map[string]any{"author": "ann", "body": "root"})
			require.Equal(t, http.StatusCreated, code)
			rootID := root["id"].(string)

			code, reply := c.do(http.MethodPost, "/v1/posts", map[string]any{
				"author": "bob", "body": "reply", "inReplyTo": rootID,
			})
			require.Equal(t, http.StatusCreated, code)
			require.Equal(t, rootID, reply["inReplyTo"])

			code, replies := c.do(http.MethodGet, "/v1/posts/"+rootID+"/replies", nil)
			require.Equal(t, http.StatusOK, code)
			require.Len(t, replies["data"], 1)

			code, _ = c.do(http.MethodDelete, "/v1/posts/"+reply["id"].(string), nil)
			require.Equal(t, http.StatusNoContent, code)

			code, replies = c.do(http.MethodGet, "/v1/posts/"+rootID+"/replies", nil)
			require.Equal(t, http.StatusOK, code)
			require.Empty(t, replies["data"])
		})
	}
}
