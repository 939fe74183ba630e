package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/autoenrol/internal/models"
)

func TestRoleRepositoryFirstContact(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRoleRepository(db)

	roles := []string{"editingteacher", "teacher"}
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY array_position($2, ro.short_name)")).
		WithArgs("course-1", pq.Array(roles)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "name", "email"}).AddRow("user-t", "Ada Lovelace", "ada@school.test"))

	contact, err := repo.FirstContact(context.Background(), "course-1", roles)
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "ada@school.test", contact.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRepositoryFirstContactWithoutRoles(t *testing.T) {
	db, _, cleanup := newRepoMock(t)
	defer cleanup()

	contact, err := NewRoleRepository(db).FirstContact(context.Background(), "course-1", nil)
	require.NoError(t, err)
	assert.Nil(t, contact)
}

func TestRoleRepositoryAssignIsIdempotent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRoleRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (role_id, user_id, course_id, component, item_id) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "role-student", "user-1", "course-1", models.Component, "inst-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Assign(context.Background(), models.RoleAssignment{RoleID: "role-student", UserID: "user-1", CourseID: "course-1", Component: models.Component, ItemID: "inst-1"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
