package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/autoenrol/internal/models"
)

var instanceRowColumns = []string{"id", "course_id", "enrol", "name", "status", "role_id", "enrol_method", "enrol_period",
	"enrol_start_date", "enrol_end_date", "new_enrols_allowed", "always_enrol", "self_unenrol_allowed", "max_enrolled",
	"longtime_nosee_threshold", "group_by_field", "group_name", "rule_kind", "rule_definition", "welcome_message_mode",
	"welcome_message_text", "expiry_notify_mode", "expiry_threshold", "created_at", "updated_at"}

func instanceRow(rows *sqlmock.Rows, id, courseID string, rule interface{}) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(id, courseID, models.PluginName, "", models.InstanceStatusEnabled, "role-student", models.EnrolOnLogin, 0,
		nil, nil, true, false, false, 0, 0, "department", "", models.RuleKindTree, rule, models.WelcomeOff,
		"", models.ExpiryNotifyOff, 0, now, now)
}

func TestInstanceRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewInstanceRepository(db)

	rows := instanceRow(sqlmock.NewRows(instanceRowColumns), "inst-1", "course-1", []byte(`{"op":"&","c":[]}`))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrol_instances WHERE id = $1")).WithArgs("inst-1").WillReturnRows(rows)

	instance, err := repo.FindByID(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "course-1", instance.CourseID)
	assert.True(t, instance.RuleDefinition.Valid)
	assert.JSONEq(t, `{"op":"&","c":[]}`, string(instance.RuleDefinition.JSONText))
	assert.True(t, instance.Enabled())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInstanceRepositoryListBuildsFilter(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewInstanceRepository(db)

	rows := instanceRow(sqlmock.NewRows(instanceRowColumns), "inst-1", "course-1", nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE enrol = $1 AND course_id = $2 AND status = $3 AND longtime_nosee_threshold > 0 ORDER BY course_id, id")).
		WithArgs(models.PluginName, "course-1", models.InstanceStatusEnabled).
		WillReturnRows(rows)

	instances, err := repo.List(context.Background(), models.InstanceFilter{CourseID: "course-1", Status: models.InstanceStatusEnabled, WithNoSeeOnly: true})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.False(t, instances[0].RuleDefinition.Valid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInstanceRepositorySetNewEnrolsMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewInstanceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrol_instances SET new_enrols_allowed = $2")).
		WithArgs("inst-9", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetNewEnrolsAllowed(context.Background(), "inst-9", true)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.True(t, IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInstanceRepositoryCreateDefaultsPlugin(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewInstanceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrol_instances")).WillReturnResult(sqlmock.NewResult(1, 1))

	instance := &models.EnrolmentInstance{CourseID: "course-1", Status: models.InstanceStatusEnabled}
	require.NoError(t, repo.Create(context.Background(), instance))
	assert.NotEmpty(t, instance.ID)
	assert.Equal(t, models.PluginName, instance.Plugin)
	require.NoError(t, mock.ExpectationsWereMet())
}
