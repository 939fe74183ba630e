package models

import "time"

// UserEnrolmentStatus is the state of one user's enrolment through an instance.
type UserEnrolmentStatus string

const (
	UserEnrolmentActive    UserEnrolmentStatus = "ACTIVE"
	UserEnrolmentSuspended UserEnrolmentStatus = "SUSPENDED"
)

// UserEnrolment joins a user to an enrol instance. At most one exists per pair.
type UserEnrolment struct {
	ID               string              `db:"id" json:"id"`
	InstanceID       string              `db:"instance_id" json:"instance_id"`
	UserID           string              `db:"user_id" json:"user_id"`
	Status           UserEnrolmentStatus `db:"status" json:"status"`
	TimeStart        time.Time           `db:"time_start" json:"time_start"`
	TimeEnd          *time.Time          `db:"time_end" json:"time_end,omitempty"`
	ExpiryNotifiedAt *time.Time          `db:"expiry_notified_at" json:"expiry_notified_at,omitempty"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the enrolment has a time end in the past.
func (e *UserEnrolment) Expired(now time.Time) bool {
	return e.TimeEnd != nil && !e.TimeEnd.IsZero() && e.TimeEnd.Before(now)
}

// IsActive reports whether the enrolment currently grants access.
func (e *UserEnrolment) IsActive(now time.Time) bool {
	if e == nil || e.Status != UserEnrolmentActive {
		return false
	}
	if now.Before(e.TimeStart) {
		return false
	}
	return !e.Expired(now)
}

// EnrolmentActivity is one row of an inactivity or expiry scan.
type EnrolmentActivity struct {
	UserEnrolment
	CourseID   string     `db:"course_id"`
	LastLogin  *time.Time `db:"last_login"`
	LastAccess *time.Time `db:"last_access"`
}
