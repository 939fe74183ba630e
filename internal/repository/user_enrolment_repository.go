package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/autoenrol/internal/models"
)

const userEnrolmentColumns = `ue.id, ue.instance_id, ue.user_id, ue.status, ue.time_start, ue.time_end, ue.expiry_notified_at, ue.created_at, ue.updated_at`

// UserEnrolmentRepository persists user enrolments. The (instance_id, user_id)
// pair is unique at the storage level.
type UserEnrolmentRepository struct {
	db *sqlx.DB
}

// NewUserEnrolmentRepository constructs the repository.
func NewUserEnrolmentRepository(db *sqlx.DB) *UserEnrolmentRepository {
	return &UserEnrolmentRepository{db: db}
}

// Find returns the enrolment for the pair, or nil when none exists.
func (r *UserEnrolmentRepository) Find(ctx context.Context, instanceID, userID string) (*models.UserEnrolment, error) {
	query := `SELECT ` + userEnrolmentColumns + ` FROM user_enrolments ue WHERE ue.instance_id = $1 AND ue.user_id = $2`
	var enrolment models.UserEnrolment
	if err := r.db.GetContext(ctx, &enrolment, query, instanceID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user enrolment: %w", err)
	}
	return &enrolment, nil
}

// CountByInstance counts every enrolment of the instance, suspended included.
func (r *UserEnrolmentRepository) CountByInstance(ctx context.Context, instanceID string) (int, error) {
	const query = `SELECT COUNT(*) FROM user_enrolments WHERE instance_id = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, instanceID); err != nil {
		return 0, fmt.Errorf("count user enrolments: %w", err)
	}
	return total, nil
}

// HasOtherActive reports whether the user holds a current enrolment in the
// course through any enabled instance other than excludeInstanceID. A non-empty
// roleID limits the check to instances granting that role.
func (r *UserEnrolmentRepository) HasOtherActive(ctx context.Context, courseID, userID, excludeInstanceID, roleID string, now time.Time) (bool, error) {
	const query = `SELECT 1 FROM user_enrolments ue
        JOIN enrol_instances e ON e.id = ue.instance_id
        WHERE e.course_id = $1 AND ue.user_id = $2 AND e.id <> $3 AND e.status = $4 AND ue.status = $5
        AND ue.time_start <= $6 AND (ue.time_end IS NULL OR ue.time_end > $6)
        AND ($7 = '' OR e.role_id = $7) LIMIT 1`
	var exists int
	err := r.db.GetContext(ctx, &exists, query, courseID, userID, excludeInstanceID,
		models.InstanceStatusEnabled, models.UserEnrolmentActive, now, roleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check other enrolments: %w", err)
	}
	return true, nil
}

// Create inserts the enrolment unless the pair already exists. It reports
// whether a row was written.
func (r *UserEnrolmentRepository) Create(ctx context.Context, enrolment *models.UserEnrolment) (bool, error) {
	if enrolment.ID == "" {
		enrolment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrolment.TimeStart.IsZero() {
		enrolment.TimeStart = now
	}
	if enrolment.Status == "" {
		enrolment.Status = models.UserEnrolmentActive
	}
	enrolment.CreatedAt = now
	enrolment.UpdatedAt = now

	const query = `INSERT INTO user_enrolments (id, instance_id, user_id, status, time_start, time_end, created_at, updated_at)
        VALUES (:id, :instance_id, :user_id, :status, :time_start, :time_end, :created_at, :updated_at)
        ON CONFLICT (instance_id, user_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, enrolment)
	if err != nil {
		return false, fmt.Errorf("create user enrolment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create user enrolment rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpdateStatus sets the status only when it differs, reporting whether it changed.
func (r *UserEnrolmentRepository) UpdateStatus(ctx context.Context, id string, status models.UserEnrolmentStatus) (bool, error) {
	const query = `UPDATE user_enrolments SET status = $2, updated_at = $3 WHERE id = $1 AND status <> $2`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update user enrolment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update user enrolment rows affected: %w", err)
	}
	return affected > 0, nil
}

// Delete removes one enrolment. Deleting a missing row is not an error.
func (r *UserEnrolmentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM user_enrolments WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete user enrolment: %w", err)
	}
	return nil
}

// DeleteByInstance removes every enrolment of the instance.
func (r *UserEnrolmentRepository) DeleteByInstance(ctx context.Context, instanceID string) error {
	const query = `DELETE FROM user_enrolments WHERE instance_id = $1`
	if _, err := r.db.ExecContext(ctx, query, instanceID); err != nil {
		return fmt.Errorf("delete instance enrolments: %w", err)
	}
	return nil
}

// ListByInstance returns the enrolments of an instance.
func (r *UserEnrolmentRepository) ListByInstance(ctx context.Context, instanceID string) ([]models.UserEnrolment, error) {
	query := `SELECT ` + userEnrolmentColumns + ` FROM user_enrolments ue WHERE ue.instance_id = $1 ORDER BY ue.time_start`
	var enrolments []models.UserEnrolment
	if err := r.db.SelectContext(ctx, &enrolments, query, instanceID); err != nil {
		return nil, fmt.Errorf("list instance enrolments: %w", err)
	}
	return enrolments, nil
}

// MarkExpiryNotified records that the expiry notice went out.
func (r *UserEnrolmentRepository) MarkExpiryNotified(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE user_enrolments SET expiry_notified_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark expiry notified: %w", err)
	}
	return nil
}

// StreamInactiveByLogin visits enrolments started before cutoff whose user has
// not logged in since cutoff, or never.
func (r *UserEnrolmentRepository) StreamInactiveByLogin(ctx context.Context, instanceID string, cutoff time.Time, fn func(models.EnrolmentActivity) error) error {
	query := `SELECT ` + userEnrolmentColumns + `, e.course_id, u.last_login, NULL AS last_access
        FROM user_enrolments ue
        JOIN enrol_instances e ON e.id = ue.instance_id
        JOIN users u ON u.id = ue.user_id
        WHERE ue.instance_id = $1 AND ue.time_start < $2 AND (u.last_login IS NULL OR u.last_login < $2)
        ORDER BY ue.user_id`
	return r.stream(ctx, "stream login inactivity", fn, query, instanceID, cutoff)
}

// StreamInactiveByAccess visits enrolments started before cutoff whose user
// last accessed the course before cutoff.
func (r *UserEnrolmentRepository) StreamInactiveByAccess(ctx context.Context, instanceID string, cutoff time.Time, fn func(models.EnrolmentActivity) error) error {
	query := `SELECT ` + userEnrolmentColumns + `, e.course_id, u.last_login, ca.last_access
        FROM user_enrolments ue
        JOIN enrol_instances e ON e.id = ue.instance_id
        JOIN users u ON u.id = ue.user_id
        JOIN course_access ca ON ca.user_id = ue.user_id AND ca.course_id = e.course_id
        WHERE ue.instance_id = $1 AND ue.time_start < $2 AND ca.last_access < $2
        ORDER BY ue.user_id`
	return r.stream(ctx, "stream course inactivity", fn, query, instanceID, cutoff)
}

// StreamExpired visits active autoenrol enrolments whose time end has passed.
func (r *UserEnrolmentRepository) StreamExpired(ctx context.Context, courseID string, now time.Time, fn func(models.EnrolmentActivity) error) error {
	query := `SELECT ` + userEnrolmentColumns + `, e.course_id, u.last_login, NULL AS last_access
        FROM user_enrolments ue
        JOIN enrol_instances e ON e.id = ue.instance_id
        JOIN users u ON u.id = ue.user_id
        WHERE e.enrol = $1 AND ue.status = $2 AND ue.time_end IS NOT NULL AND ue.time_end < $3`
	args := []interface{}{models.PluginName, models.UserEnrolmentActive, now}
	if courseID != "" {
		query += ` AND e.course_id = $4`
		args = append(args, courseID)
	}
	query += ` ORDER BY ue.time_end`
	return r.stream(ctx, "stream expired enrolments", fn, query, args...)
}

// StreamExpiring visits active enrolments of the instance ending within
// (now, until] that have not been notified yet.
func (r *UserEnrolmentRepository) StreamExpiring(ctx context.Context, instanceID string, now, until time.Time, fn func(models.EnrolmentActivity) error) error {
	query := `SELECT ` + userEnrolmentColumns + `, e.course_id, u.last_login, NULL AS last_access
        FROM user_enrolments ue
        JOIN enrol_instances e ON e.id = ue.instance_id
        JOIN users u ON u.id = ue.user_id
        WHERE ue.instance_id = $1 AND ue.status = $2 AND ue.expiry_notified_at IS NULL
        AND ue.time_end > $3 AND ue.time_end <= $4
        ORDER BY ue.time_end`
	return r.stream(ctx, "stream expiring enrolments", fn, query, instanceID, models.UserEnrolmentActive, now, until)
}

// stream scans one row at a time and hands it to fn. An error from fn stops
// the scan and is returned unwrapped.
func (r *UserEnrolmentRepository) stream(ctx context.Context, label string, fn func(models.EnrolmentActivity) error, query string, args ...interface{}) error {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	defer rows.Close()

	for rows.Next() {
		var row models.EnrolmentActivity
		if err := rows.StructScan(&row); err != nil {
			return fmt.Errorf("%s scan: %w", label, err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	return nil
}
