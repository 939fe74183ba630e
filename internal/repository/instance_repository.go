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

const instanceColumns = `id, course_id, enrol, name, status, role_id, enrol_method, enrol_period, enrol_start_date, enrol_end_date,
        new_enrols_allowed, always_enrol, self_unenrol_allowed, max_enrolled, longtime_nosee_threshold, group_by_field, group_name,
        rule_kind, rule_definition, welcome_message_mode, welcome_message_text, expiry_notify_mode, expiry_threshold, created_at, updated_at`

// InstanceRepository persists enrol instances in the host enrol table.
type InstanceRepository struct {
	db *sqlx.DB
}

// NewInstanceRepository constructs the repository.
func NewInstanceRepository(db *sqlx.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// FindByID returns the instance regardless of its enrol type so callers can
// reject foreign instances.
func (r *InstanceRepository) FindByID(ctx context.Context, id string) (*models.EnrolmentInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM enrol_instances WHERE id = $1`
	var instance models.EnrolmentInstance
	if err := r.db.GetContext(ctx, &instance, query, id); err != nil {
		return nil, err
	}
	return &instance, nil
}

// List returns autoenrol instances matching the filter ordered by course.
func (r *InstanceRepository) List(ctx context.Context, filter models.InstanceFilter) ([]models.EnrolmentInstance, error) {
	conditions := []string{"enrol = $1"}
	args := []interface{}{models.PluginName}

	if filter.CourseID != "" {
		args = append(args, filter.CourseID)
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.NewEnrolsAllowed != nil {
		args = append(args, *filter.NewEnrolsAllowed)
		conditions = append(conditions, fmt.Sprintf("new_enrols_allowed = $%d", len(args)))
	}
	if filter.WithNoSeeOnly {
		conditions = append(conditions, "longtime_nosee_threshold > 0")
	}
	if filter.WithExpiryNotify {
		conditions = append(conditions, "expiry_notify_mode <> 'OFF' AND expiry_threshold > 0")
	}

	query := `SELECT ` + instanceColumns + ` FROM enrol_instances WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY course_id, id`
	var instances []models.EnrolmentInstance
	if err := r.db.SelectContext(ctx, &instances, query, args...); err != nil {
		return nil, fmt.Errorf("list enrol instances: %w", err)
	}
	return instances, nil
}

// Create inserts a new instance.
func (r *InstanceRepository) Create(ctx context.Context, instance *models.EnrolmentInstance) error {
	if instance.ID == "" {
		instance.ID = uuid.NewString()
	}
	if instance.Plugin == "" {
		instance.Plugin = models.PluginName
	}
	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}
	instance.UpdatedAt = now

	const query = `INSERT INTO enrol_instances (id, course_id, enrol, name, status, role_id, enrol_method, enrol_period, enrol_start_date,
        enrol_end_date, new_enrols_allowed, always_enrol, self_unenrol_allowed, max_enrolled, longtime_nosee_threshold, group_by_field,
        group_name, rule_kind, rule_definition, welcome_message_mode, welcome_message_text, expiry_notify_mode, expiry_threshold,
        created_at, updated_at)
        VALUES (:id, :course_id, :enrol, :name, :status, :role_id, :enrol_method, :enrol_period, :enrol_start_date,
        :enrol_end_date, :new_enrols_allowed, :always_enrol, :self_unenrol_allowed, :max_enrolled, :longtime_nosee_threshold, :group_by_field,
        :group_name, :rule_kind, :rule_definition, :welcome_message_mode, :welcome_message_text, :expiry_notify_mode, :expiry_threshold,
        :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, instance); err != nil {
		return fmt.Errorf("create enrol instance: %w", err)
	}
	return nil
}

// SetNewEnrolsAllowed flips the new enrolments switch.
func (r *InstanceRepository) SetNewEnrolsAllowed(ctx context.Context, id string, allowed bool) error {
	const query = `UPDATE enrol_instances SET new_enrols_allowed = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, "update new enrolments", query, id, allowed, time.Now().UTC())
}

// UpdateRole sets the role granted to new enrolments.
func (r *InstanceRepository) UpdateRole(ctx context.Context, id, roleID string) error {
	const query = `UPDATE enrol_instances SET role_id = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, "update instance role", query, id, roleID, time.Now().UTC())
}

// Delete removes the instance row.
func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM enrol_instances WHERE id = $1`
	return r.execOne(ctx, "delete enrol instance", query, id)
}

func (r *InstanceRepository) execOne(ctx context.Context, label, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", label, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsNotFound reports whether err signals a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
