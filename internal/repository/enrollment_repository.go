package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/database"
)

const enrollmentColumns = `id, student_id, program_id, teacher_id, status, credits_remaining, version, date_enrolled, completed_at`

// EnrollmentRepository manages enrollments and their credit balance projection.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository creates a new repository instance.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new enrollment with a zero balance; credits arrive through the ledger.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	if enrollment.DateEnrolled.IsZero() {
		enrollment.DateEnrolled = time.Now().UTC()
	}
	enrollment.Version = 1

	const query = `INSERT INTO enrollments (` + enrollmentColumns + `)
	VALUES (:id, :student_id, :program_id, :teacher_id, :status, :credits_remaining, :version, :date_enrolled, :completed_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// GetByID fetches an enrollment.
func (r *EnrollmentRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// GetForUpdate fetches an enrollment and holds its row lock until the transaction ends.
func (r *EnrollmentRepository) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindActive returns the active enrollment of a student in a program.
func (r *EnrollmentRepository) FindActive(ctx context.Context, exec sqlx.ExtContext, studentID, programID string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments
	WHERE student_id = $1 AND program_id = $2 AND status = 'ACTIVE'
	ORDER BY date_enrolled DESC LIMIT 1`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, query, studentID, programID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// Resolve returns the enrollment a refund is credited to: the active one, else the most recent.
func (r *EnrollmentRepository) Resolve(ctx context.Context, exec sqlx.ExtContext, studentID, programID string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments
	WHERE student_id = $1 AND program_id = $2
	ORDER BY (status = 'ACTIVE') DESC, date_enrolled DESC LIMIT 1`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, query, studentID, programID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// UpdateBalance writes a new balance guarded by the version read under lock.
func (r *EnrollmentRepository) UpdateBalance(ctx context.Context, exec sqlx.ExtContext, id string, balance int, version int64) error {
	const query = `UPDATE enrollments SET credits_remaining = $1, version = version + 1 WHERE id = $2 AND version = $3`
	res, err := r.exec(exec).ExecContext(ctx, query, balance, id, version)
	if err != nil {
		return fmt.Errorf("update enrollment balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return database.ErrVersionConflict
	}
	return nil
}

// MarkCompleted flips an active enrollment to completed. It reports false when the
// enrollment was not active, so completion happens exactly once.
func (r *EnrollmentRepository) MarkCompleted(ctx context.Context, exec sqlx.ExtContext, id string, at time.Time) (bool, error) {
	const query = `UPDATE enrollments SET status = 'COMPLETED', completed_at = $1, version = version + 1
	WHERE id = $2 AND status = 'ACTIVE'`
	res, err := r.exec(exec).ExecContext(ctx, query, at, id)
	if err != nil {
		return false, fmt.Errorf("complete enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListIDs returns every enrollment id, used by ledger audits.
func (r *EnrollmentRepository) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM enrollments ORDER BY date_enrolled ASC`); err != nil {
		return nil, fmt.Errorf("list enrollment ids: %w", err)
	}
	return ids, nil
}
