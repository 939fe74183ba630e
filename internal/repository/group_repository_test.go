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

var groupColumns = []string{"id", "course_id", "name", "idnumber", "description", "created_at"}

func TestGroupRepositoryCreateReturnsStoredRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (course_id, idnumber) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM groups WHERE course_id = $1 AND idnumber = $2")).
		WithArgs("course-1", "autoenrol|inst-1|abc").
		WillReturnRows(sqlmock.NewRows(groupColumns).AddRow("grp-existing", "course-1", "Math", "autoenrol|inst-1|abc", "", time.Now()))

	group, err := repo.Create(context.Background(), &models.Group{CourseID: "course-1", Name: "Math", IDNumber: "autoenrol|inst-1|abc"})
	require.NoError(t, err)
	assert.Equal(t, "grp-existing", group.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepositoryFindByNameMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE course_id = $1 AND name = $2")).
		WithArgs("course-1", "Math").
		WillReturnError(sql.ErrNoRows)

	group, err := repo.FindByName(context.Background(), "course-1", "Math")
	require.NoError(t, err)
	assert.Nil(t, group)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepositoryPrefixIsEscaped(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("gm.user_id = $2 AND g.idnumber LIKE $3")).
		WithArgs("course-1", "user-1", `autoenrol|inst\_1|%`).
		WillReturnRows(sqlmock.NewRows(groupColumns))

	groups, err := repo.ListUserGroupsByPrefix(context.Background(), "course-1", "user-1", "autoenrol|inst_1|")
	require.NoError(t, err)
	assert.Empty(t, groups)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepositoryDeleteRunsInTransaction(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM group_members WHERE group_id = $1")).WithArgs("grp-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM groups WHERE id = $1")).WithArgs("grp-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "grp-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
