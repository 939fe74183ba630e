package dto

import "github.com/noah-isme/autoenrol/internal/models"

// UserActionRequest names the user a hook or enrol page action applies to.
type UserActionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// LoginHookResponse reports the per-instance outcome of a login sync.
// Partial is set when at least one instance failed and was skipped.
type LoginHookResponse struct {
	Results []models.SyncResult `json:"results"`
	Partial bool                `json:"partial"`
}

// BatchTriggerResponse acknowledges a queued batch run.
type BatchTriggerResponse struct {
	Job      string `json:"job"`
	CourseID string `json:"course_id,omitempty"`
	Queued   bool   `json:"queued"`
}
