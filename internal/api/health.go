package api

import (
	"net/http"
	"runtime"
	"time"

	"chatroom/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// ConnectionCounter reports live websocket connections per namespace.
type ConnectionCounter interface {
	Count(namespace string) int
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checker *health.Checker
	conns   ConnectionCounter
	version string
	started time.Time
}

func NewHealthHandler(checker *health.Checker, conns ConnectionCounter, version string) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		conns:   conns,
		version: version,
		started: time.Now(),
	}
}

// Health reports component status, live connections and memory use.
func (h *HealthHandler) Health(c *gin.Context) {
	status := http.StatusOK
	overall := "ok"
	if !h.checker.IsSystemHealthy() {
		status = http.StatusServiceUnavailable
		overall = "unavailable"
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	c.JSON(status, gin.H{
		"status":     overall,
		"version":    h.version,
		"timestamp":  time.Now().Format(time.RFC3339),
		"uptime":     time.Since(h.started).Round(time.Second).String(),
		"components": h.checker.GetStatus(),
		"websocket": gin.H{
			"main":  h.conns.Count("main"),
			"admin": h.conns.Count("admin"),
		},
		"memory": gin.H{
			"alloc_mb":  memStats.Alloc / 1024 / 1024,
			"sys_mb":    memStats.Sys / 1024 / 1024,
			"gc_cycles": memStats.NumGC,
		},
	})
}

// RegisterHealthRoutes registers both health paths.
func (h *HealthHandler) RegisterHealthRoutes(router gin.IRoutes) {
	router.GET("/health", h.Health)
	router.GET("/api/health", h.Health)
}
