package models

// Trigger names what invoked a user sync.
type Trigger string

const (
	TriggerLogin        Trigger = "login"
	TriggerCourseAccess Trigger = "course-access"
	TriggerBulk         Trigger = "bulk"
	TriggerConfirmation Trigger = "confirmation"
)

// Effect is the observable outcome of one user sync.
type Effect string

const (
	EffectNone       Effect = "none"
	EffectEnrolled   Effect = "enrolled"
	EffectUnenrolled Effect = "unenrolled"
	EffectSuspended  Effect = "suspended"
)

// SyncResult reports the effect of syncing one user against one instance.
type SyncResult struct {
	InstanceID string `json:"instance_id"`
	CourseID   string `json:"course_id"`
	UserID     string `json:"user_id"`
	Effect     Effect `json:"effect"`
	Reason     string `json:"reason,omitempty"`
}

// RunStatus is the terminal state of a batch run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunDisabled  RunStatus = "disabled"
	RunBudget    RunStatus = "budget_exceeded"
)

// BulkSyncResult summarises a bulk sync or its dry run.
type BulkSyncResult struct {
	Status    RunStatus      `json:"status"`
	Check     bool           `json:"check"`
	Users     int            `json:"users"`
	Instances int            `json:"instances"`
	Effects   map[Effect]int `json:"effects"`
	Planned   []SyncResult   `json:"planned,omitempty"`
}

// SweepResult summarises an expiration sweep.
type SweepResult struct {
	Status     RunStatus `json:"status"`
	Unenrolled int       `json:"unenrolled"`
	Suspended  int       `json:"suspended"`
	Expired    int       `json:"expired"`
	Notified   int       `json:"notified"`
}
