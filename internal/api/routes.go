package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moonerfun/flywheel/internal/server"
)

// RouteOptions configures RegisterRoutes.
type RouteOptions struct {
	// JWTSecret guards the trigger endpoint. Empty leaves it open.
	JWTSecret string
	Metrics   http.Handler
}

// RegisterRoutes mounts the API on router.
func RegisterRoutes(router *gin.Engine, h *Handler, opts RouteOptions) {
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/scheduler/status", h.SchedulerStatus)
	v1.GET("/retry-queue/stats", h.RetryQueueStats)

	protected := server.ProtectedGroup(router, "/api/v1/scheduler/tasks", opts.JWTSecret)
	protected.POST("/:name/trigger", h.TriggerTask)
}
