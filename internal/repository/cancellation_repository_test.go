package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/database"
)

func TestCancellationRepositoryHasPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCancellationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE session_id = $1 AND status = 'PENDING'")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	pending, err := repo.HasPending(context.Background(), nil, "sess-1")
	require.NoError(t, err)
	assert.True(t, pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancellationRepositoryReviewOnlyPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCancellationRepository(db)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta("UPDATE cancellation_requests SET status = $1, reviewed_by = $2, reviewed_at = $3")
	mock.ExpectExec(query).WithArgs(models.CancellationStatusApproved, "adm-1", at, "req-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs(models.CancellationStatusDenied, "adm-1", at, "req-1").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Review(context.Background(), nil, "req-1", models.CancellationStatusApproved, "adm-1", at))
	err := repo.Review(context.Background(), nil, "req-1", models.CancellationStatusDenied, "adm-1", at)
	assert.ErrorIs(t, err, database.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancellationRepositoryListByStudent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCancellationRepository(db)

	cols := []string{"id", "session_id", "student_id", "requested_by", "reason", "status", "requested_at", "reviewed_by", "reviewed_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM cancellation_requests WHERE student_id = $1 AND status IN ($2)")).
		WithArgs("stu-1", models.CancellationStatusPending).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("req-1", "sess-1", "stu-1", "stu-1", nil, "PENDING", time.Now(), nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM cancellation_requests")).
		WithArgs("stu-1", models.CancellationStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	list, total, err := repo.List(context.Background(), models.CancellationFilter{
		StudentID: "stu-1",
		Status:    []models.CancellationStatus{models.CancellationStatusPending},
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
