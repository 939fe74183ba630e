package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/autoenrol/internal/models"
)

// GroupRepository manages course groups and their memberships.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs the repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// FindByIDNumber returns the course group carrying idnumber, or nil.
func (r *GroupRepository) FindByIDNumber(ctx context.Context, courseID, idnumber string) (*models.Group, error) {
	const query = `SELECT id, course_id, name, idnumber, description, created_at FROM groups WHERE course_id = $1 AND idnumber = $2`
	return r.getOne(ctx, "find group by idnumber", query, courseID, idnumber)
}

// FindByName returns the oldest course group named name, or nil.
func (r *GroupRepository) FindByName(ctx context.Context, courseID, name string) (*models.Group, error) {
	const query = `SELECT id, course_id, name, idnumber, description, created_at FROM groups WHERE course_id = $1 AND name = $2
        ORDER BY created_at LIMIT 1`
	return r.getOne(ctx, "find group by name", query, courseID, name)
}

// Create inserts the group unless its idnumber is already taken in the
// course, and returns whichever row now holds that idnumber.
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) (*models.Group, error) {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO groups (id, course_id, name, idnumber, description, created_at)
        VALUES (:id, :course_id, :name, :idnumber, :description, :created_at)
        ON CONFLICT (course_id, idnumber) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, group); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	stored, err := r.FindByIDNumber(ctx, group.CourseID, group.IDNumber)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("create group: %s vanished after insert", group.IDNumber)
	}
	return stored, nil
}

// ListByIDNumberPrefix returns course groups whose idnumber starts with prefix.
func (r *GroupRepository) ListByIDNumberPrefix(ctx context.Context, courseID, prefix string) ([]models.Group, error) {
	const query = `SELECT id, course_id, name, idnumber, description, created_at FROM groups
        WHERE course_id = $1 AND idnumber LIKE $2 ESCAPE '\' ORDER BY created_at`
	var groups []models.Group
	if err := r.db.SelectContext(ctx, &groups, query, courseID, likePrefix(prefix)); err != nil {
		return nil, fmt.Errorf("list groups by prefix: %w", err)
	}
	return groups, nil
}

// ListUserGroupsByPrefix returns the user's course groups whose idnumber starts with prefix.
func (r *GroupRepository) ListUserGroupsByPrefix(ctx context.Context, courseID, userID, prefix string) ([]models.Group, error) {
	const query = `SELECT g.id, g.course_id, g.name, g.idnumber, g.description, g.created_at FROM groups g
        JOIN group_members gm ON gm.group_id = g.id
        WHERE g.course_id = $1 AND gm.user_id = $2 AND g.idnumber LIKE $3 ESCAPE '\' ORDER BY g.created_at`
	var groups []models.Group
	if err := r.db.SelectContext(ctx, &groups, query, courseID, userID, likePrefix(prefix)); err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	return groups, nil
}

// AddMember adds the user to the group; existing membership is left as is.
func (r *GroupRepository) AddMember(ctx context.Context, groupID, userID, component, itemID string) error {
	const query = `INSERT INTO group_members (group_id, user_id, component, item_id, added_at)
        VALUES ($1, $2, $3, $4, $5) ON CONFLICT (group_id, user_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, groupID, userID, component, itemID, time.Now().UTC()); err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// RemoveMember removes the user from the group.
func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	const query = `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`
	if _, err := r.db.ExecContext(ctx, query, groupID, userID); err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	return nil
}

// Delete removes the group and its memberships in one transaction.
func (r *GroupRepository) Delete(ctx context.Context, groupID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete group: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("delete group members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, groupID); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete group: %w", err)
	}
	return nil
}

func (r *GroupRepository) getOne(ctx context.Context, label, query string, args ...interface{}) (*models.Group, error) {
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	return &group, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
