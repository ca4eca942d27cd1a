package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registryroute "github.com/chirino/thread-service/internal/registry/route"
)

var ready atomic.Bool

// MarkReady signals that the set backend, identity registry and post store
// are up and traffic may be served.
func MarkReady() {
	ready.Store(true)
}

// MarkNotReady flips /ready back to 503 while the server drains.
func MarkNotReady() {
	ready.Store(false)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine) error {
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})
			r.GET("/ready", func(c *gin.Context) {
				if !ready.Load() {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
					return
				}
				c.JSON(http.StatusOK, gin.H{"status": "ready"})
			})
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
			return nil
		},
	})
}
