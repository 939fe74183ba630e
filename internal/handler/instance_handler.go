package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/autoenrol/internal/dto"
	"github.com/noah-isme/autoenrol/internal/models"
	appErrors "github.com/noah-isme/autoenrol/pkg/errors"
	"github.com/noah-isme/autoenrol/pkg/response"
)

type instanceSyncer interface {
	SyncInstanceUser(ctx context.Context, instanceID, userID string, trigger models.Trigger) (models.SyncResult, error)
}

type instanceAdmin interface {
	AddDefaultInstance(ctx context.Context, courseID string) (*models.EnrolmentInstance, error)
	DeleteInstance(ctx context.Context, id string) error
	SelfUnenrol(ctx context.Context, instanceID, userID string) error
}

// InstanceHandler exposes the enrol page actions and instance administration.
type InstanceHandler struct {
	sync      instanceSyncer
	instances instanceAdmin
	logger    *zap.Logger
}

// NewInstanceHandler builds a new handler.
func NewInstanceHandler(sync instanceSyncer, instances instanceAdmin, logger *zap.Logger) *InstanceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstanceHandler{sync: sync, instances: instances, logger: logger}
}

// Access godoc
// @Summary Try to auto-enrol a user entering a course
// @Tags Instances
// @Accept json
// @Produce json
// @Param id path string true "Instance ID"
// @Param payload body dto.UserActionRequest true "User entering the course"
// @Success 200 {object} response.Envelope
// @Router /instances/{id}/access [post]
func (h *InstanceHandler) Access(c *gin.Context) {
	h.syncUser(c, models.TriggerCourseAccess)
}

// Confirm godoc
// @Summary Enrol a user who confirmed on the enrol page
// @Tags Instances
// @Accept json
// @Produce json
// @Param id path string true "Instance ID"
// @Param payload body dto.UserActionRequest true "Confirming user"
// @Success 200 {object} response.Envelope
// @Router /instances/{id}/confirm [post]
func (h *InstanceHandler) Confirm(c *gin.Context) {
	h.syncUser(c, models.TriggerConfirmation)
}

func (h *InstanceHandler) syncUser(c *gin.Context, trigger models.Trigger) {
	var req dto.UserActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid user payload"))
		return
	}
	result, err := h.sync.SyncInstanceUser(c.Request.Context(), c.Param("id"), req.UserID, trigger)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// SelfUnenrol godoc
// @Summary Let a user leave an auto enrolment
// @Tags Instances
// @Accept json
// @Produce json
// @Param id path string true "Instance ID"
// @Param payload body dto.UserActionRequest true "Leaving user"
// @Success 204
// @Router /instances/{id}/unenrolself [post]
func (h *InstanceHandler) SelfUnenrol(c *gin.Context) {
	var req dto.UserActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid user payload"))
		return
	}
	if err := h.instances.SelfUnenrol(c.Request.Context(), c.Param("id"), req.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete an instance with its enrolments, roles and owned groups
// @Tags Instances
// @Param id path string true "Instance ID"
// @Success 204
// @Router /instances/{id} [delete]
func (h *InstanceHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.instances.DeleteInstance(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("enrol instance deleted", append(callerFields(c), zap.String("instance_id", id))...)
	response.NoContent(c)
}

// AddDefault godoc
// @Summary Add an instance with the plugin defaults to a course
// @Tags Instances
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 201 {object} response.Envelope
// @Router /courses/{courseId}/instances [post]
func (h *InstanceHandler) AddDefault(c *gin.Context) {
	instance, err := h.instances.AddDefaultInstance(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("enrol instance added", append(callerFields(c), zap.String("instance_id", instance.ID), zap.String("course_id", instance.CourseID))...)
	response.Created(c, instance)
}
