package models

// Component names the owner of plugin created role assignments.
const Component = "enrol_autoenrol"

// Role is a host role definition.
type Role struct {
	ID        string `db:"id" json:"id"`
	ShortName string `db:"short_name" json:"short_name"`
	Name      string `db:"name" json:"name"`
}

// RoleAssignment grants a role in a course context, optionally owned by a component item.
type RoleAssignment struct {
	ID        string `db:"id" json:"id"`
	RoleID    string `db:"role_id" json:"role_id"`
	UserID    string `db:"user_id" json:"user_id"`
	CourseID  string `db:"course_id" json:"course_id"`
	Component string `db:"component" json:"component"`
	ItemID    string `db:"item_id" json:"item_id"`
}
