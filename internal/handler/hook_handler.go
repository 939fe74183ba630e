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

type loginSyncer interface {
	SyncLogin(ctx context.Context, userID string) ([]models.SyncResult, error)
}

// HookHandler receives host platform events.
type HookHandler struct {
	sync   loginSyncer
	logger *zap.Logger
}

// NewHookHandler builds a new handler.
func NewHookHandler(sync loginSyncer, logger *zap.Logger) *HookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HookHandler{sync: sync, logger: logger}
}

// Login godoc
// @Summary Reconcile a user against every enabled instance after login
// @Tags Hooks
// @Accept json
// @Produce json
// @Param payload body dto.UserActionRequest true "Logged in user"
// @Success 200 {object} response.Envelope
// @Router /hooks/login [post]
func (h *HookHandler) Login(c *gin.Context) {
	var req dto.UserActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login hook payload"))
		return
	}

	results, err := h.sync.SyncLogin(c.Request.Context(), req.UserID)
	if err != nil {
		if len(results) == 0 {
			response.Error(c, err)
			return
		}
		h.logger.Warn("login sync partially failed", append(callerFields(c), zap.String("user_id", req.UserID), zap.Error(err))...)
	}
	if results == nil {
		results = []models.SyncResult{}
	}
	response.JSON(c, http.StatusOK, dto.LoginHookResponse{Results: results, Partial: err != nil})
}
