package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/autoenrol/internal/dto"
	"github.com/noah-isme/autoenrol/internal/service"
	"github.com/noah-isme/autoenrol/pkg/response"
)

type batchTrigger interface {
	TriggerSync(courseID string) error
	TriggerSweep(courseID string) error
}

// BatchHandler queues bulk syncs and sweeps for the background worker.
type BatchHandler struct {
	scheduler batchTrigger
}

// NewBatchHandler builds a new handler.
func NewBatchHandler(scheduler batchTrigger) *BatchHandler {
	return &BatchHandler{scheduler: scheduler}
}

// Sync godoc
// @Summary Queue a bulk sync
// @Tags Batch
// @Produce json
// @Param courseId query string false "Limit to one course"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sync [post]
func (h *BatchHandler) Sync(c *gin.Context) {
	h.trigger(c, service.JobSync, h.scheduler.TriggerSync)
}

// Sweep godoc
// @Summary Queue an expiration sweep
// @Tags Batch
// @Produce json
// @Param courseId query string false "Limit to one course"
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sweep [post]
func (h *BatchHandler) Sweep(c *gin.Context) {
	h.trigger(c, service.JobSweep, h.scheduler.TriggerSweep)
}

func (h *BatchHandler) trigger(c *gin.Context, job string, enqueue func(string) error) {
	courseID := c.Query("courseId")
	if err := enqueue(courseID); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.BatchTriggerResponse{Job: job, CourseID: courseID, Queued: true})
}
