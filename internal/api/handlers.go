// Package api implements the HTTP API for the flywheel service.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moonerfun/flywheel/internal/domain"
	"github.com/moonerfun/flywheel/internal/logger"
	"github.com/moonerfun/flywheel/internal/scheduler"
)

// Scheduler is the scheduler surface exposed over HTTP.
type Scheduler interface {
	Status() []scheduler.TaskStatus
	TriggerTask(ctx context.Context, name string) error
}

// QueueStats reports retry-queue counts.
type QueueStats interface {
	Stats(ctx context.Context) (*domain.RetryQueueStats, error)
}

// Handler serves the scheduler and retry-queue endpoints.
type Handler struct {
	scheduler Scheduler
	queue     QueueStats
	log       logger.Logger
}

// NewHandler creates a handler.
func NewHandler(sched Scheduler, queue QueueStats, log logger.Logger) *Handler {
	return &Handler{
		scheduler: sched,
		queue:     queue,
		log:       log.With(logger.Component("api")),
	}
}

// SchedulerStatus lists every scheduled task.
// GET /api/v1/scheduler/status
func (h *Handler) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tasks": h.scheduler.Status(),
	})
}

// TriggerTask runs a task immediately and waits for it to finish.
// POST /api/v1/scheduler/tasks/:name/trigger
func (h *Handler) TriggerTask(c *gin.Context) {
	name := c.Param("name")

	err := h.scheduler.TriggerTask(c.Request.Context(), name)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"task": name, "status": "completed"})
	case errors.Is(err, scheduler.ErrUnknownTask):
		respondError(c, http.StatusNotFound, "task not found")
	case errors.Is(err, scheduler.ErrTaskAlreadyRunning):
		respondError(c, http.StatusConflict, "task already running")
	default:
		logger.FromContext(c.Request.Context()).Error("manual trigger failed",
			logger.String("task", name),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"task":   name,
			"status": "failed",
			"error":  err.Error(),
		})
	}
}

// RetryQueueStats returns item counts per status.
// GET /api/v1/retry-queue/stats
func (h *Handler) RetryQueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		h.log.Error("failed to get retry queue stats", logger.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to get stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
