package models

import "time"

// Group is a course group. Auto managed groups carry an owning tag in IDNumber.
type Group struct {
	ID          string    `db:"id" json:"id"`
	CourseID    string    `db:"course_id" json:"course_id"`
	Name        string    `db:"name" json:"name"`
	IDNumber    string    `db:"idnumber" json:"idnumber"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
