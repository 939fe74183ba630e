package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/autoenrol/internal/models"
)

// RoleRepository manages course role assignments.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository constructs the repository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// IsAssignable reports whether the role may be assigned in course contexts.
func (r *RoleRepository) IsAssignable(ctx context.Context, roleID string) (bool, error) {
	const query = `SELECT 1 FROM roles WHERE id = $1 AND course_assignable = TRUE`
	var ok int
	if err := r.db.GetContext(ctx, &ok, query, roleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check role assignable: %w", err)
	}
	return true, nil
}

// Assign grants the role unless the identical assignment exists.
func (r *RoleRepository) Assign(ctx context.Context, assignment models.RoleAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	const query = `INSERT INTO role_assignments (id, role_id, user_id, course_id, component, item_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (role_id, user_id, course_id, component, item_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, assignment.ID, assignment.RoleID, assignment.UserID, assignment.CourseID,
		assignment.Component, assignment.ItemID, time.Now().UTC()); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// UnassignAll removes every assignment the component item gave the user in the course.
func (r *RoleRepository) UnassignAll(ctx context.Context, userID, courseID, component, itemID string) error {
	const query = `DELETE FROM role_assignments WHERE user_id = $1 AND course_id = $2 AND component = $3 AND item_id = $4`
	if _, err := r.db.ExecContext(ctx, query, userID, courseID, component, itemID); err != nil {
		return fmt.Errorf("unassign roles: %w", err)
	}
	return nil
}

// UnassignItem removes every assignment created by the component item.
func (r *RoleRepository) UnassignItem(ctx context.Context, component, itemID string) error {
	const query = `DELETE FROM role_assignments WHERE component = $1 AND item_id = $2`
	if _, err := r.db.ExecContext(ctx, query, component, itemID); err != nil {
		return fmt.Errorf("unassign item roles: %w", err)
	}
	return nil
}

// FirstContact returns the first user holding one of the contact roles in
// the course, trying roles in the given order. It returns nil when none does.
func (r *RoleRepository) FirstContact(ctx context.Context, courseID string, roleShortNames []string) (*models.Contact, error) {
	if len(roleShortNames) == 0 {
		return nil, nil
	}
	const query = `SELECT u.id AS user_id, TRIM(u.first_name || ' ' || u.last_name) AS name, u.email
        FROM role_assignments ra
        JOIN roles ro ON ro.id = ra.role_id
        JOIN users u ON u.id = ra.user_id
        WHERE ra.course_id = $1 AND ro.short_name = ANY($2) AND u.deleted = FALSE AND u.suspended = FALSE
        ORDER BY array_position($2, ro.short_name), u.last_name, u.first_name, u.id
        LIMIT 1`
	var contact models.Contact
	if err := r.db.GetContext(ctx, &contact, query, courseID, pq.Array(roleShortNames)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find course contact: %w", err)
	}
	return &contact, nil
}
