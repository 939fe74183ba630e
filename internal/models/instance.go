package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// InstanceStatus toggles whether an enrol instance is in use.
type InstanceStatus string

const (
	InstanceStatusEnabled  InstanceStatus = "ENABLED"
	InstanceStatusDisabled InstanceStatus = "DISABLED"
)

// EnrolMethod selects which trigger may create enrolments for an instance.
type EnrolMethod string

const (
	EnrolOnCourseAccess EnrolMethod = "COURSE_ACCESS"
	EnrolOnLogin        EnrolMethod = "LOGIN"
	EnrolOnConfirmation EnrolMethod = "CONFIRMATION"
)

// RuleKind tags the representation stored in RuleDefinition.
type RuleKind string

const (
	RuleKindNone   RuleKind = ""
	RuleKindLegacy RuleKind = "LEGACY"
	RuleKindTree   RuleKind = "TREE"
)

// WelcomeMessageMode chooses whether a welcome message is sent and from whom.
type WelcomeMessageMode string

const (
	WelcomeOff           WelcomeMessageMode = "OFF"
	WelcomeCourseContact WelcomeMessageMode = "COURSE_CONTACT"
	WelcomeNoReply       WelcomeMessageMode = "NOREPLY"
)

// ExpiryNotifyMode chooses who hears about an enrolment that is about to end.
type ExpiryNotifyMode string

const (
	ExpiryNotifyOff      ExpiryNotifyMode = "OFF"
	ExpiryNotifyEnroller ExpiryNotifyMode = "ENROLLER"
	ExpiryNotifyAll      ExpiryNotifyMode = "ALL"
)

// NoGroupField disables grouping on an instance.
const NoGroupField = "-"

// PluginName is the enrol type stored on every instance this engine owns.
const PluginName = "autoenrol"

// EnrolmentInstance is one auto enrol rule attached to a course.
type EnrolmentInstance struct {
	ID                     string             `db:"id" json:"id"`
	CourseID               string             `db:"course_id" json:"course_id"`
	Plugin                 string             `db:"enrol" json:"enrol"`
	Name                   string             `db:"name" json:"name"`
	Status                 InstanceStatus     `db:"status" json:"status"`
	RoleID                 string             `db:"role_id" json:"role_id" validate:"required"`
	EnrolMethod            EnrolMethod        `db:"enrol_method" json:"enrol_method" validate:"oneof=COURSE_ACCESS LOGIN CONFIRMATION"`
	EnrolPeriod            int64              `db:"enrol_period" json:"enrol_period" validate:"gte=0"`
	EnrolStartDate         *time.Time         `db:"enrol_start_date" json:"enrol_start_date,omitempty"`
	EnrolEndDate           *time.Time         `db:"enrol_end_date" json:"enrol_end_date,omitempty"`
	NewEnrolsAllowed       bool               `db:"new_enrols_allowed" json:"new_enrols_allowed"`
	AlwaysEnrol            bool               `db:"always_enrol" json:"always_enrol"`
	SelfUnenrolAllowed     bool               `db:"self_unenrol_allowed" json:"self_unenrol_allowed"`
	MaxEnrolled            int                `db:"max_enrolled" json:"max_enrolled" validate:"gte=0"`
	LongtimeNoSeeThreshold int64              `db:"longtime_nosee_threshold" json:"longtime_nosee_threshold" validate:"gte=0"`
	GroupByField           string             `db:"group_by_field" json:"group_by_field"`
	GroupName              string             `db:"group_name" json:"group_name"`
	RuleKind               RuleKind           `db:"rule_kind" json:"rule_kind" validate:"omitempty,oneof=LEGACY TREE"`
	RuleDefinition         types.NullJSONText `db:"rule_definition" json:"rule_definition"`
	WelcomeMessageMode     WelcomeMessageMode `db:"welcome_message_mode" json:"welcome_message_mode" validate:"oneof=OFF COURSE_CONTACT NOREPLY"`
	WelcomeMessageText     string             `db:"welcome_message_text" json:"welcome_message_text"`
	ExpiryNotifyMode       ExpiryNotifyMode   `db:"expiry_notify_mode" json:"expiry_notify_mode" validate:"oneof=OFF ENROLLER ALL"`
	ExpiryThreshold        int64              `db:"expiry_threshold" json:"expiry_threshold" validate:"gte=0"`
	CreatedAt              time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time          `db:"updated_at" json:"updated_at"`
}

// Enabled reports whether the instance is switched on.
func (i *EnrolmentInstance) Enabled() bool {
	return i != nil && i.Status == InstanceStatusEnabled
}

// Period returns the enrolment duration, zero meaning unlimited.
func (i *EnrolmentInstance) Period() time.Duration {
	return time.Duration(i.EnrolPeriod) * time.Second
}

// NoSeeThreshold returns the inactivity threshold, zero meaning never.
func (i *EnrolmentInstance) NoSeeThreshold() time.Duration {
	return time.Duration(i.LongtimeNoSeeThreshold) * time.Second
}

// ExpiryWindow returns how long before time end expiry notices go out.
func (i *EnrolmentInstance) ExpiryWindow() time.Duration {
	return time.Duration(i.ExpiryThreshold) * time.Second
}

// WithinWindow reports whether now falls inside the enrolment window.
// A nil bound is open on that side.
func (i *EnrolmentInstance) WithinWindow(now time.Time) bool {
	if i.EnrolStartDate != nil && !i.EnrolStartDate.IsZero() && now.Before(*i.EnrolStartDate) {
		return false
	}
	if i.EnrolEndDate != nil && !i.EnrolEndDate.IsZero() && now.After(*i.EnrolEndDate) {
		return false
	}
	return true
}

// Grouped reports whether a grouping field is configured.
func (i *EnrolmentInstance) Grouped() bool {
	return i.GroupByField != "" && i.GroupByField != NoGroupField
}

// RuleJSON wraps a stored rule definition.
func RuleJSON(raw string) types.NullJSONText {
	if raw == "" {
		return types.NullJSONText{}
	}
	return types.NullJSONText{JSONText: types.JSONText(raw), Valid: true}
}

// InstanceFilter narrows instance listings.
type InstanceFilter struct {
	CourseID         string
	Status           InstanceStatus
	NewEnrolsAllowed *bool
	WithNoSeeOnly    bool
	WithExpiryNotify bool
}
