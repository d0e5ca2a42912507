package router

import (
	"os"

	"chatroom/backend/internal/api"

	"github.com/gin-gonic/gin"
)

// setupHealthRoutes registers the health endpoints and the Prometheus
// scrape endpoint.
func (r *Router) setupHealthRoutes() {
	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = r.Config.Server.Env
	}
	api.NewHealthHandler(r.Container.Health, r.Container.Hub, version).RegisterHealthRoutes(r.Engine)

	r.Engine.GET("/metrics", gin.WrapH(r.Container.MetricsHandler))
}
