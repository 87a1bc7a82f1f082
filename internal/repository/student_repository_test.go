package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudentRepositoryGetContact(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN users p ON p.id = s.parent_id")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "student_name", "parent_id", "parent_name", "parent_email"}).
			AddRow("stu-1", "Ana", "par-1", "Maria", "maria@example.com"))

	contact, err := repo.GetContact(context.Background(), nil, "stu-1")
	require.NoError(t, err)
	require.NotNil(t, contact.ParentEmail)
	assert.Equal(t, "maria@example.com", *contact.ParentEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryAddExperienceUnknownStudent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE students SET experience_points = experience_points + $1")).
		WithArgs(50, "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AddExperience(context.Background(), nil, "ghost", 50)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
