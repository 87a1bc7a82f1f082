package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutorhub-api/internal/models"
)

// StudentRepository reads student profiles and their linked parent.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository creates a new repository instance.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// GetContact returns the student with the parent who receives alerts.
func (r *StudentRepository) GetContact(ctx context.Context, exec sqlx.ExtContext, studentID string) (*models.StudentContact, error) {
	const query = `SELECT s.id AS student_id, s.full_name AS student_name, s.parent_id,
       p.full_name AS parent_name, p.email AS parent_email
	FROM students s
	LEFT JOIN users p ON p.id = s.parent_id
	WHERE s.id = $1`
	var contact models.StudentContact
	if err := sqlx.GetContext(ctx, r.exec(exec), &contact, query, studentID); err != nil {
		return nil, err
	}
	return &contact, nil
}

// AddExperience increments the student's experience points.
func (r *StudentRepository) AddExperience(ctx context.Context, exec sqlx.ExtContext, studentID string, amount int) error {
	res, err := r.exec(exec).ExecContext(ctx, `UPDATE students SET experience_points = experience_points + $1 WHERE id = $2`, amount, studentID)
	if err != nil {
		return fmt.Errorf("add experience points: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
