package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutorhub-api/internal/models"
	"github.com/noah-isme/tutorhub-api/pkg/database"
)

// CurriculumRepository stores per-enrollment curriculum progress trees.
type CurriculumRepository struct {
	db *sqlx.DB
}

// NewCurriculumRepository constructs the repository.
func NewCurriculumRepository(db *sqlx.DB) *CurriculumRepository {
	return &CurriculumRepository{db: db}
}

func (r *CurriculumRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create stores the initial progress copy of an enrollment.
func (r *CurriculumRepository) Create(ctx context.Context, exec sqlx.ExtContext, progress *models.CurriculumProgress) error {
	progress.Version = 1
	progress.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO curriculum_progress (enrollment_id, program_id, tree, version, updated_at)
	VALUES (:enrollment_id, :program_id, :tree, :version, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, progress); err != nil {
		return fmt.Errorf("create curriculum progress: %w", err)
	}
	return nil
}

// Get fetches the progress of an enrollment.
func (r *CurriculumRepository) Get(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) (*models.CurriculumProgress, error) {
	return r.get(ctx, exec, enrollmentID, "")
}

// GetForUpdate fetches and locks the progress of an enrollment.
func (r *CurriculumRepository) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, enrollmentID string) (*models.CurriculumProgress, error) {
	return r.get(ctx, exec, enrollmentID, " FOR UPDATE")
}

func (r *CurriculumRepository) get(ctx context.Context, exec sqlx.ExtContext, enrollmentID, lock string) (*models.CurriculumProgress, error) {
	var progress models.CurriculumProgress
	query := `SELECT enrollment_id, program_id, tree, version, updated_at FROM curriculum_progress WHERE enrollment_id = $1` + lock
	if err := sqlx.GetContext(ctx, r.exec(exec), &progress, query, enrollmentID); err != nil {
		return nil, err
	}
	return &progress, nil
}

// Save writes the tree back, guarded by the version that was read.
func (r *CurriculumRepository) Save(ctx context.Context, exec sqlx.ExtContext, progress *models.CurriculumProgress) error {
	progress.UpdatedAt = time.Now().UTC()
	const query = `UPDATE curriculum_progress SET tree = :tree, version = version + 1, updated_at = :updated_at
	WHERE enrollment_id = :enrollment_id AND version = :version`
	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, progress)
	if err != nil {
		return fmt.Errorf("save curriculum progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return database.ErrVersionConflict
	}
	progress.Version++
	return nil
}
