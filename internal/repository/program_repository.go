package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutorhub-api/internal/models"
)

// ProgramRepository stores programs and their template curriculum.
type ProgramRepository struct {
	db *sqlx.DB
}

// NewProgramRepository constructs the repository.
func NewProgramRepository(db *sqlx.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

func (r *ProgramRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a program.
func (r *ProgramRepository) Create(ctx context.Context, exec sqlx.ExtContext, program *models.Program) error {
	if program.ID == "" {
		program.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	program.CreatedAt = now
	program.UpdatedAt = now

	const query = `INSERT INTO programs (id, name, curriculum, created_at, updated_at)
	VALUES (:id, :name, :curriculum, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, program); err != nil {
		return fmt.Errorf("create program: %w", err)
	}
	return nil
}

// GetByID fetches a program with its curriculum.
func (r *ProgramRepository) GetByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Program, error) {
	var program models.Program
	const query = `SELECT id, name, curriculum, created_at, updated_at FROM programs WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.exec(exec), &program, query, id); err != nil {
		return nil, err
	}
	return &program, nil
}
