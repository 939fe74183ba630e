package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/autoenrol/internal/models"
)

var activityColumns = []string{"id", "instance_id", "user_id", "status", "time_start", "time_end", "expiry_notified_at",
	"created_at", "updated_at", "course_id", "last_login", "last_access"}

func TestUserEnrolmentRepositoryFindMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserEnrolmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM user_enrolments ue WHERE ue.instance_id = $1 AND ue.user_id = $2")).
		WithArgs("inst-1", "user-1").
		WillReturnError(sql.ErrNoRows)

	enrolment, err := repo.Find(context.Background(), "inst-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, enrolment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserEnrolmentRepositoryCreateConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserEnrolmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (instance_id, user_id) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.Create(context.Background(), &models.UserEnrolment{InstanceID: "inst-1", UserID: "user-1"})
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserEnrolmentRepositoryUpdateStatusUnchanged(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserEnrolmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE user_enrolments SET status = $2, updated_at = $3 WHERE id = $1 AND status <> $2")).
		WithArgs("ue-1", models.UserEnrolmentSuspended, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.UpdateStatus(context.Background(), "ue-1", models.UserEnrolmentSuspended)
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserEnrolmentRepositoryHasOtherActive(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserEnrolmentRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("e.id <> $3")).
		WithArgs("course-1", "user-1", "inst-1", models.InstanceStatusEnabled, models.UserEnrolmentActive, now, "role-student").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	ok, err := repo.HasOtherActive(context.Background(), "course-1", "user-1", "inst-1", "role-student", now)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserEnrolmentRepositoryStreamStopsOnCallbackError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserEnrolmentRepository(db)
	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	old := cutoff.Add(-72 * time.Hour)

	rows := sqlmock.NewRows(activityColumns).
		AddRow("ue-1", "inst-1", "user-1", models.UserEnrolmentActive, old, nil, nil, old, old, "course-1", old, old).
		AddRow("ue-2", "inst-1", "user-2", models.UserEnrolmentActive, old, nil, nil, old, old, "course-1", old, old)
	mock.ExpectQuery(regexp.QuoteMeta("JOIN course_access ca ON ca.user_id = ue.user_id AND ca.course_id = e.course_id")).
		WithArgs("inst-1", cutoff).
		WillReturnRows(rows)

	stop := errors.New("budget")
	var seen []string
	err := repo.StreamInactiveByAccess(context.Background(), "inst-1", cutoff, func(row models.EnrolmentActivity) error {
		seen = append(seen, row.UserID)
		require.NotNil(t, row.LastAccess)
		assert.Equal(t, "course-1", row.CourseID)
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"user-1"}, seen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserEnrolmentRepositoryStreamExpiredByCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserEnrolmentRepository(db)
	now := time.Now()
	end := now.Add(-time.Hour)

	rows := sqlmock.NewRows(activityColumns).
		AddRow("ue-1", "inst-1", "user-1", models.UserEnrolmentActive, end.Add(-time.Hour), end, nil, end, end, "course-1", nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("ue.time_end < $3 AND e.course_id = $4 ORDER BY ue.time_end")).
		WithArgs(models.PluginName, models.UserEnrolmentActive, now, "course-1").
		WillReturnRows(rows)

	var count int
	err := repo.StreamExpired(context.Background(), "course-1", now, func(row models.EnrolmentActivity) error {
		count++
		assert.True(t, row.Expired(now))
		assert.Nil(t, row.LastLogin)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.NoError(t, mock.ExpectationsWereMet())
}
